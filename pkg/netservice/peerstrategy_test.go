package netservice

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

func mustAddr(t testing.TB, s string) chainnet.Address {
	t.Helper()
	a, err := multiaddr.NewMultiaddr(s)
	require.NoError(t, err)
	return a
}

func peerID(n int) chainnet.PeerId {
	return peer.ID("peer-" + itoa(n))
}

const testChain chainnet.ChainId = 1

func TestInsertChainPeerEvictsLowestScore(t *testing.T) {
	s := NewPeeringStrategy()
	for i := 0; i < 3; i++ {
		_, evicted := s.InsertChainPeer(testChain, peerID(i), 3)
		require.False(t, evicted)
	}
	// At capacity: a 4th insert must evict someone (all scores equal, so the
	// earliest-inserted peer is the deterministic tie-break victim).
	victim, evicted := s.InsertChainPeer(testChain, peerID(3), 3)
	require.True(t, evicted)
	require.Equal(t, peerID(0), victim)
	require.ElementsMatch(t, []chainnet.PeerId{peerID(1), peerID(2), peerID(3)}, s.ChainPeersUnordered(testChain))
}

func TestInsertChainPeerNoEvictionWhenAllAssigned(t *testing.T) {
	s := NewPeeringStrategy()
	for i := 0; i < 2; i++ {
		s.InsertChainPeer(testChain, peerID(i), 2)
		s.AssignSlot(testChain, peerID(i))
	}
	_, evicted := s.InsertChainPeer(testChain, peerID(2), 2)
	require.False(t, evicted, "no evictable (non-assigned) member exists, so insertion is a no-op")
	require.Len(t, s.ChainPeersUnordered(testChain), 2)
}

func TestInsertAddressBoundedEviction(t *testing.T) {
	s := NewPeeringStrategy()
	s.InsertChainPeer(testChain, peerID(0), 10)
	for i := 0; i < 2; i++ {
		ok := s.InsertAddress(peerID(0), mustAddr(t, "/ip4/10.0.0.1/tcp/300"+string(rune('0'+i))), 2)
		require.True(t, ok)
	}
	ok := s.InsertAddress(peerID(0), mustAddr(t, "/ip4/10.0.0.1/tcp/3099"), 2)
	require.True(t, ok)
	require.Len(t, s.PeerAddresses(peerID(0)), 2)
}

func TestInsertAddressUnknownPeer(t *testing.T) {
	s := NewPeeringStrategy()
	known := s.InsertAddress(peerID(99), mustAddr(t, "/ip4/1.2.3.4/tcp/1"), 10)
	require.False(t, known)
}

func TestPickAssignablePeerRequiresAddress(t *testing.T) {
	s := NewPeeringStrategy()
	s.InsertChainPeer(testChain, peerID(0), 10)
	res := s.PickAssignablePeer(testChain, time.Now())
	require.Equal(t, NoPeer, res.Kind)

	s.InsertAddress(peerID(0), mustAddr(t, "/ip4/1.2.3.4/tcp/1"), 10)
	res = s.PickAssignablePeer(testChain, time.Now())
	require.Equal(t, Assignable, res.Kind)
	require.Equal(t, peerID(0), res.Peer)
}

func TestPickAssignablePeerSkipsBanned(t *testing.T) {
	s := NewPeeringStrategy()
	now := time.Now()
	s.InsertChainPeer(testChain, peerID(0), 10)
	s.InsertAddress(peerID(0), mustAddr(t, "/ip4/1.2.3.4/tcp/1"), 10)
	s.UnassignSlotAndBan(testChain, peerID(0), now.Add(10*time.Second))

	res := s.PickAssignablePeer(testChain, now)
	require.Equal(t, AllPeersBanned, res.Kind)
	require.Equal(t, now.Add(10*time.Second), res.NextUnban)

	res = s.PickAssignablePeer(testChain, now.Add(11*time.Second))
	require.Equal(t, Assignable, res.Kind)
}

func TestAssignSlotExcludesFromPicking(t *testing.T) {
	s := NewPeeringStrategy()
	s.InsertChainPeer(testChain, peerID(0), 10)
	s.InsertAddress(peerID(0), mustAddr(t, "/ip4/1.2.3.4/tcp/1"), 10)
	s.AssignSlot(testChain, peerID(0))

	res := s.PickAssignablePeer(testChain, time.Now())
	require.Equal(t, NoPeer, res.Kind)
	require.Equal(t, 1, s.AssignedSlotCount(testChain))
}

func TestUnassignSlotAndRemoveChainPeer(t *testing.T) {
	s := NewPeeringStrategy()
	s.InsertChainPeer(testChain, peerID(0), 10)
	s.InsertAddress(peerID(0), mustAddr(t, "/ip4/1.2.3.4/tcp/1"), 10)
	s.AssignSlot(testChain, peerID(0))

	s.UnassignSlotAndRemoveChainPeer(testChain, peerID(0))
	require.Empty(t, s.ChainPeersUnordered(testChain))
	// Invariant 2: removing chain membership does not remove the peer's
	// known addresses.
	require.Len(t, s.PeerAddresses(peerID(0)), 1)
}

func TestAddrToConnectedPicksHighestScore(t *testing.T) {
	s := NewPeeringStrategy()
	s.InsertChainPeer(testChain, peerID(0), 10)
	low := mustAddr(t, "/ip4/1.1.1.1/tcp/1")
	high := mustAddr(t, "/ip4/2.2.2.2/tcp/2")
	s.InsertAddress(peerID(0), low, 10)
	s.InsertAddress(peerID(0), high, 10)
	s.InsertOrSetConnectedAddress(peerID(0), high, 10)
	s.DisconnectAddr(peerID(0), high)

	addr, ok := s.AddrToConnected(peerID(0))
	require.True(t, ok)
	require.Equal(t, high, addr, "higher-score address should be preferred")
}

func TestRemoveAddressDoesNotRemovePeer(t *testing.T) {
	s := NewPeeringStrategy()
	s.InsertChainPeer(testChain, peerID(0), 10)
	addr := mustAddr(t, "/ip4/1.2.3.4/tcp/1")
	s.InsertAddress(peerID(0), addr, 10)

	removed := s.RemoveAddress(peerID(0), addr)
	require.True(t, removed)
	require.Len(t, s.ChainPeersUnordered(testChain), 1, "peer remains a chain member after its last address is removed")
}

// TestAssignableImpliesAddress is a property test for invariant I5: whenever
// PickAssignablePeer reports a peer as Assignable, that peer has at least
// one known address.
func TestAssignableImpliesAddress(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := NewPeeringStrategy()
		n := rapid.IntRange(0, 8).Draw(rt, "n")
		for i := 0; i < n; i++ {
			p := peerID(i)
			s.InsertChainPeer(testChain, p, 30)
			if rapid.Bool().Draw(rt, "hasAddr") {
				port := 1000 + i
				addr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/" + itoa(port))
				require.NoError(rt, err)
				s.InsertAddress(p, addr, 10)
			}
			if rapid.Bool().Draw(rt, "assigned") {
				s.AssignSlot(testChain, p)
			}
		}

		res := s.PickAssignablePeer(testChain, time.Now())
		if res.Kind == Assignable {
			require.NotEmpty(rt, s.PeerAddresses(res.Peer))
		}
	})
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
