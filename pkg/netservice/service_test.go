package netservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

func newTestService(t *testing.T, net *chainnet.Fake, platform *chainnet.FakePlatform) (*Service, []<-chan Event) {
	t.Helper()
	cfg := Config{
		IdentifyAgentVersion:    "lightnet-test/0.0",
		NumEventReceivers:       1,
		MaxAddressesPerPeer:     10,
		DialRatePerMinute:       600,
		ConnectionSendWarnAfter: time.Second,
		HandshakeTimeout:        time.Second,
	}
	svc, subs := NewService(context.Background(), net, platform, cfg, discardLogger())
	t.Cleanup(func() { _ = svc.Close() })
	return svc, subs
}

func waitForEvent(t *testing.T, sub <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

func TestServiceBlocksRequestRoundTrip(t *testing.T) {
	net := chainnet.NewFake()
	platform := chainnet.NewFakePlatform(time.Now(), 1)
	svc, _ := newTestService(t, net, platform)

	chain := net.AddChain(chainnet.ChainConfig{LogName: "test", NumOutSlots: 1, GenesisBlockHash: [32]byte{1}})
	target := peerID(0)
	net.AddSingleStreamConnection(context.Background(), mustAddr(t, "/ip4/1.2.3.4/tcp/1"), target, [32]byte{})

	type result struct {
		data []byte
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		data, err := svc.BlocksRequest(target, chain, chainnet.BlocksRequestConfig{}, time.Second)
		resCh <- result{data, err}
	}()

	// The coordinator assigns substream 0 to this request (the first one
	// issued against a fresh Fake), but the command may not have reached the
	// coordinator yet; retry the result push until it lands.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-resCh:
			require.NoError(t, r.err)
			require.Equal(t, []byte("blockdata"), r.data)
			return
		case <-deadline:
			t.Fatal("BlocksRequest never returned")
		case <-time.After(10 * time.Millisecond):
			net.SimulateRequestResult(0, chainnet.RequestKindBlocks, chainnet.RequestResult{BlocksResult: []byte("blockdata")})
		}
	}
}

func TestServiceGossipConnectFanOut(t *testing.T) {
	net := chainnet.NewFake()
	platform := chainnet.NewFakePlatform(time.Now(), 1)
	svc, subs := newTestService(t, net, platform)
	sub := subs[0]

	chain := net.AddChain(chainnet.ChainConfig{LogName: "test", NumOutSlots: 1, GenesisBlockHash: [32]byte{1}})
	target := peerID(0)

	svc.Discover(chain, []DiscoveredPeer{{ID: target, Addrs: []chainnet.Address{mustAddr(t, "/ip4/1.2.3.4/tcp/1")}}}, false)

	ev := waitForEvent(t, sub)
	connected, ok := ev.(ConnectedEvent)
	require.True(t, ok, "expected a ConnectedEvent, got %T", ev)
	require.Equal(t, chain, connected.Chain)
	require.Equal(t, target, connected.Peer)

	require.Eventually(t, func() bool { return net.IsConnected(target) }, time.Second, time.Millisecond)
}

func TestServiceGossipDisconnectFansOut(t *testing.T) {
	net := chainnet.NewFake()
	platform := chainnet.NewFakePlatform(time.Now(), 1)
	svc, subs := newTestService(t, net, platform)
	sub := subs[0]

	chain := net.AddChain(chainnet.ChainConfig{LogName: "test", NumOutSlots: 1, GenesisBlockHash: [32]byte{1}})
	target := peerID(0)
	svc.Discover(chain, []DiscoveredPeer{{ID: target, Addrs: []chainnet.Address{mustAddr(t, "/ip4/1.2.3.4/tcp/1")}}}, false)
	_ = waitForEvent(t, sub) // ConnectedEvent

	net.SimulateDisconnect(target)
	ev := waitForEvent(t, sub)
	_, ok := ev.(DisconnectedEvent)
	require.True(t, ok, "expected a DisconnectedEvent, got %T", ev)
}

func TestServiceAnnounceTransactionReturnsFullPeerList(t *testing.T) {
	net := chainnet.NewFake()
	platform := chainnet.NewFakePlatform(time.Now(), 1)
	svc, subs := newTestService(t, net, platform)
	sub := subs[0]

	chain := net.AddChain(chainnet.ChainConfig{LogName: "test", NumOutSlots: 2, GenesisBlockHash: [32]byte{1}})
	a, b := peerID(0), peerID(1)
	svc.Discover(chain, []DiscoveredPeer{
		{ID: a, Addrs: []chainnet.Address{mustAddr(t, "/ip4/1.2.3.4/tcp/1")}},
		{ID: b, Addrs: []chainnet.Address{mustAddr(t, "/ip4/1.2.3.5/tcp/1")}},
	}, false)
	_ = waitForEvent(t, sub)
	_ = waitForEvent(t, sub)

	net.SetQueueFull(b, true)
	peers := svc.AnnounceTransaction(chain, []byte("tx"))
	require.ElementsMatch(t, []chainnet.PeerId{a, b}, peers, "announce reports every gossip-connected peer regardless of per-peer send outcome")
}

func TestServiceCloseStopsCoordinator(t *testing.T) {
	net := chainnet.NewFake()
	platform := chainnet.NewFakePlatform(time.Now(), 1)
	cfg := Config{NumEventReceivers: 1, MaxAddressesPerPeer: 10, DialRatePerMinute: 600}
	svc, _ := NewService(context.Background(), net, platform, cfg, discardLogger())

	require.NoError(t, svc.Close())
}
