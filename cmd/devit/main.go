// Package main implements devit, the CLI client for devitd: one
// subcommand per client-facing wire method (notify and capabilities_get
// have none), each issuing a signed envelope over the
// daemon's Unix domain socket and printing the decoded response.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"devit/internal/envelope"
	"devit/internal/transport"
)

var (
	endpoint  string
	secretEnv string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "devit",
	Short: "devit talks to a running devitd over its Unix domain socket",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "/tmp/devitd.sock", "devitd socket path")
	rootCmd.PersistentFlags().StringVar(&secretEnv, "secret-env", "DEVIT_SHARED_SECRET", "environment variable holding the shared secret")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "dial and round-trip timeout")

	rootCmd.AddCommand(
		registerCmd,
		delegateCmd,
		statusCmd,
		taskCmd,
		patchCmd,
		pollCmd,
		screenshotCmd,
	)
}

// call issues method with params as a REQ envelope and returns the
// decoded structured content on success.
func call(method string, params any) (json.RawMessage, error) {
	secret := os.Getenv(secretEnv)
	if secret == "" {
		return nil, fmt.Errorf("environment variable %s is unset or empty", secretEnv)
	}
	auth := envelope.NewAuthenticator([]byte(secret), timeout, time.Second, envelope.SystemClock{}, envelope.CryptoRand{})

	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req, err := auth.Issue(envelope.TypeReq, fmt.Sprintf("cli-%d", time.Now().UnixNano()), transport.RequestPayload{
		Method: method,
		Params: rawParams,
	})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	client, err := transport.DialSocket(endpoint, timeout)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	resp, err := client.Call(req)
	if err != nil {
		return nil, err
	}

	var body transport.Response
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !body.OK {
		if body.Error != nil {
			return nil, fmt.Errorf("%s: %s", body.Error.Code, body.Error.Message)
		}
		return nil, fmt.Errorf("method %s failed with no error detail", method)
	}
	return body.StructuredContent, nil
}

// printResult pretty-prints a successful structured-content payload.
func printResult(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runMethod(method string, params any) error {
	raw, err := call(method, params)
	if err != nil {
		return err
	}
	return printResult(raw)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "devit:", err)
		os.Exit(1)
	}
}
