// Package screenshot captures a PNG of a page opened at a given URL on
// demand, using a headless Chrome instance managed by go-rod.
// It is a thin wrapper around a host tool, launched lazily and reused
// across calls.
package screenshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"devit/internal/direrr"
)

// Capturer owns a lazily-launched headless browser instance.
type Capturer struct {
	mu         sync.Mutex
	browser    *rod.Browser
	outputDir  string
	enabled    bool
	controlURL string
}

// New builds a Capturer writing PNGs under outputDir. If enabled is
// false, Capture always returns a disabled error without launching
// anything.
func New(outputDir string, enabled bool) *Capturer {
	return &Capturer{outputDir: outputDir, enabled: enabled}
}

func (c *Capturer) ensureBrowser() error {
	if c.browser != nil {
		return nil
	}
	url, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return fmt.Errorf("launch headless chrome: %w", err)
	}
	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	c.browser = browser
	c.controlURL = url
	return nil
}

// Capture opens a new page at targetURL (a blank page when targetURL is
// empty) and writes a PNG screenshot of it to outputDir, returning its
// path.
func (c *Capturer) Capture(ctx context.Context, targetURL string, fullPage bool) (string, error) {
	if !c.enabled {
		return "", direrr.New(direrr.Validation, direrr.CodeInternal, "screenshot capability is disabled")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureBrowser(); err != nil {
		return "", direrr.Wrap(direrr.System, direrr.CodeInternal, "start headless browser", err)
	}

	page, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: targetURL})
	if err != nil {
		return "", direrr.Wrap(direrr.Operation, direrr.CodeInternal, "open page", err)
	}
	defer page.Close()

	data, err := page.Context(ctx).Screenshot(fullPage, nil)
	if err != nil {
		return "", direrr.Wrap(direrr.Operation, direrr.CodeInternal, "capture screenshot", err)
	}

	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return "", direrr.Wrap(direrr.System, direrr.CodeInternal, "create screenshot directory", err)
	}
	name := fmt.Sprintf("%s-%d.png", uuid.NewString(), time.Now().UnixNano())
	path := filepath.Join(c.outputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", direrr.Wrap(direrr.System, direrr.CodeInternal, "write screenshot file", err)
	}
	return path, nil
}

// Close releases the underlying browser process.
func (c *Capturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		return nil
	}
	err := c.browser.Close()
	c.browser = nil
	return err
}
