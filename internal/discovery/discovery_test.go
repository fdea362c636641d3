package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/zhtp-core/internal/identity"
)

func TestNodeIDFromTXTParsesMatchingEntry(t *testing.T) {
	id := identity.NodeID{1, 2, 3}
	got, ok := nodeIDFromTXT([]string{"unrelated=x", "node_id=" + id.String()})
	require.True(t, ok)
	require.Equal(t, id, got)
}

func TestNodeIDFromTXTRejectsMissingEntry(t *testing.T) {
	_, ok := nodeIDFromTXT([]string{"unrelated=x"})
	require.False(t, ok)
}

func TestNodeIDFromTXTRejectsMalformedHex(t *testing.T) {
	_, ok := nodeIDFromTXT([]string{"node_id=not-hex"})
	require.False(t, ok)
}
