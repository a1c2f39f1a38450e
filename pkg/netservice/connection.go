package netservice

import (
	"context"
	"time"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"golang.org/x/time/rate"

	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

// startConnect implements the CanStartConnect reconciliation action
// (spec.md §4.5): pick a connected address for peer, admit the connection
// through chainnet.Network, wire it into the dispatch table, and spawn its
// connection task (C9).
func (c *coordinator) startConnect(ctx context.Context, peer chainnet.PeerId) {
	addr, ok := c.peering.AddrToConnected(peer)
	if !ok {
		c.net.GossipRemoveDesiredAll(peer)
		c.peering.UnassignSlotsAndBan(peer, c.platform.Now().Add(10*time.Second))
		c.metrics.banTotal.WithLabelValues("no_address").Inc()
		return
	}

	multiStream, supported := addrDialKind(addr)
	if !supported {
		c.peering.RemoveAddress(peer, addr)
		return
	}

	if !c.dialLimiter(peer).Allow() {
		// Rate-limited: leave the address marked connected-pending so the
		// next reconciliation pass retries once the token bucket refills
		// (design notes §9 — per-peer token bucket dial limiting).
		return
	}

	var noiseKey [32]byte
	c.platform.RandomBytes(noiseKey[:])

	var (
		cid    chainnet.ConnectionId
		driver chainnet.ConnectionDriver
		err    error
	)
	if multiStream {
		cid, driver, err = c.net.AddMultiStreamConnection(ctx, addr, peer, noiseKey)
	} else {
		cid, driver, err = c.net.AddSingleStreamConnection(ctx, addr, peer, noiseKey)
	}
	if err != nil {
		c.log.Debug("connection admission failed", "peer", peer, "addr", addr, "err", err)
		c.peering.DisconnectAddr(peer, addr)
		c.metrics.connectionsTotal.WithLabelValues("failed").Inc()
		return
	}
	c.metrics.connectionsTotal.WithLabelValues("admitted").Inc()

	inbox := c.dispatch.Register(cid)
	task := &connectionTask{id: cid, driver: driver, inbox: inbox}
	c.platform.Spawn(func() { task.run(ctx) })
}

// dialLimiter returns peer's per-peer dial rate limiter, creating one on
// first use. Unwired until the source's "TODO: restore rate limiting" was
// picked up here; the rate comes from Config.DialRatePerMinute and the burst
// is fixed at 1. Limiters are never removed from dialLimiters.
func (c *coordinator) dialLimiter(peer chainnet.PeerId) *rate.Limiter {
	lim, ok := c.dialLimiters[peer]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.cfg.DialRatePerMinute/60.0), 1)
		c.dialLimiters[peer] = lim
	}
	return lim
}

// addrDialKind inspects addr's protocol stack to decide whether it needs a
// multi-stream (WebRTC) connection or an ordinary single-stream one, and
// whether this platform can dial it at all.
func addrDialKind(addr chainnet.Address) (multiStream bool, supported bool) {
	for _, p := range addr.Protocols() {
		switch p.Code {
		case multiaddr.P_WEBRTC_DIRECT, multiaddr.P_WEBRTC:
			return true, true
		case multiaddr.P_TCP, multiaddr.P_QUIC, multiaddr.P_QUIC_V1, multiaddr.P_WS, multiaddr.P_WSS:
			multiStream = false
			supported = true
		}
	}
	return multiStream, supported
}

// derivePeerIDFromEd25519Seed treats a random 32-byte buffer as a raw
// ed25519 public key and derives the corresponding peer identity, for the
// random find-node target of a discovery round (spec.md §4.5 StartDiscovery).
// It never fails for a correctly-sized buffer, so a failure here indicates
// a platform RandomBytes contract violation and is a programming error.
func derivePeerIDFromEd25519Seed(seed [32]byte) chainnet.PeerId {
	pub, err := libp2pcrypto.UnmarshalEd25519PublicKey(seed[:])
	if err != nil {
		panic("netservice: unreachable: 32-byte buffer is not a valid ed25519 public key: " + err.Error())
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		panic("netservice: unreachable: peer ID derivation from ed25519 public key failed: " + err.Error())
	}
	return id
}

// connectionTask is component C9 (spec.md §4.9): owns one connection's
// coordinator-bound inbox, draining it eagerly so dispatchTable.Send never
// blocks on a stalled connection for long. The actual socket I/O a
// production implementation would drive is out of scope for this package
// (spec.md §1); this task's job is solely the channel-draining discipline
// and terminal-event contract.
type connectionTask struct {
	id     chainnet.ConnectionId
	driver chainnet.ConnectionDriver
	inbox  <-chan chainnet.CoordinatorToConnection
}

// run drains inbox until either ctx is canceled or the driver reports the
// connection dead, per the required properties in spec.md §4.9: never send
// to the coordinator while blocked reading the inbox (this task never sends
// to the coordinator at all — InjectConnectionMessage is for others to
// call), terminate when the driver says so, and rely on the Network/Fake
// implementation to have already emitted the terminal Disconnected /
// PreHandshakeDisconnected event.
func (t *connectionTask) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.driver.Closed():
			return
		case _, ok := <-t.inbox:
			if !ok {
				return
			}
			// Wire framing/encoding of outbound messages is out of scope;
			// eagerly draining keeps the dispatch table's capacity-8
			// buffer from backpressuring the coordinator.
		}
	}
}
