package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecideIsPure(t *testing.T) {
	d := Descriptor{Kind: KindWrite, TargetPaths: []string{"a.go"}}
	a := Decide(d, Moderate)
	b := Decide(d, Moderate)
	require.Equal(t, a, b)
}

func TestReadOnlyRequiresAsk(t *testing.T) {
	d := Descriptor{Kind: KindRead}
	out := Decide(d, Ask)
	require.True(t, out.Allow)

	out = Decide(d, Untrusted)
	require.True(t, out.NeedApproval)
}

func TestDestructiveRequiresModerate(t *testing.T) {
	d := Descriptor{Kind: KindWrite}
	require.True(t, Decide(d, Moderate).Allow)
	require.True(t, Decide(d, Ask).NeedApproval)
	require.False(t, Decide(d, Untrusted).Allow)
	require.False(t, Decide(d, Untrusted).NeedApproval)
}

func TestProtectedPathDestructiveRequiresPrivileged(t *testing.T) {
	d := Descriptor{Kind: KindWrite, TouchesProtectedPath: true}
	require.True(t, Decide(d, Privileged).Allow)
	require.True(t, Decide(d, Trusted).NeedApproval)
	require.False(t, Decide(d, Moderate).Allow)
	require.False(t, Decide(d, Moderate).NeedApproval)
}

func TestExecBitToggleDowngradesToAsk(t *testing.T) {
	d := Descriptor{Kind: KindExecToggle, TogglesExecBit: true}
	// Caller is Privileged, but exec-bit toggle downgrades effective to
	// Ask; exec_toggle is destructive so required is Moderate -> Deny,
	// not Allow, because the downgrade pulls effective below required.
	out := Decide(d, Privileged)
	require.False(t, out.Allow)
	require.False(t, out.NeedApproval)
}

func TestVCSMetadataDowngradesToModerate(t *testing.T) {
	d := Descriptor{Kind: KindVCSMetadata, ModifiesVersionControl: true}
	out := Decide(d, Privileged)
	require.True(t, out.Allow)
	require.Equal(t, Moderate, out.EffectiveLevel)
}

func TestExecProcessRequiresModerate(t *testing.T) {
	d := Descriptor{Kind: KindExecProcess}
	require.True(t, Decide(d, Moderate).Allow)
	require.True(t, Decide(d, Ask).NeedApproval)
}

func TestDowngradeNeverExceedsCallerLevel(t *testing.T) {
	d := Descriptor{Kind: KindExecToggle, TogglesExecBit: true}
	out := Decide(d, Untrusted)
	require.LessOrEqual(t, int(out.EffectiveLevel), int(Untrusted))
}
