package netservice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddrDialKindTCP(t *testing.T) {
	multi, supported := addrDialKind(mustAddr(t, "/ip4/1.2.3.4/tcp/30333"))
	require.True(t, supported)
	require.False(t, multi)
}

func TestAddrDialKindQUIC(t *testing.T) {
	multi, supported := addrDialKind(mustAddr(t, "/ip4/1.2.3.4/udp/30333/quic-v1"))
	require.True(t, supported)
	require.False(t, multi)
}

func TestAddrDialKindWebRTCDirect(t *testing.T) {
	multi, supported := addrDialKind(mustAddr(t, "/ip4/1.2.3.4/udp/30333/webrtc-direct"))
	require.True(t, supported)
	require.True(t, multi)
}

func TestAddrDialKindUnsupported(t *testing.T) {
	_, supported := addrDialKind(mustAddr(t, "/ip4/1.2.3.4/udp/1234"))
	require.False(t, supported)
}

func TestDerivePeerIDFromEd25519SeedDeterministic(t *testing.T) {
	var seed [32]byte
	for i := range seed {
		seed[i] = byte(i)
	}
	a := derivePeerIDFromEd25519Seed(seed)
	b := derivePeerIDFromEd25519Seed(seed)
	require.Equal(t, a, b, "the same seed must derive the same peer ID")

	seed[0] = 0xFF
	c := derivePeerIDFromEd25519Seed(seed)
	require.NotEqual(t, a, c)
}
