package netservice

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

// gossipInDesiredAcceptLimit is the maximum number of undesired (inbound,
// not requested by us) gossip substreams this service tolerates per chain
// before it starts rejecting further inbound opens (spec.md §4.5).
const gossipInDesiredAcceptLimit = 4

// reconcilePollInterval bounds how long the coordinator's blocking select
// waits before re-checking the derived reconciliation conditions
// (CanStartConnect / CanOpenGossip / CanAssignSlot), none of which has a
// dedicated "became ready" channel since they are computed from
// chainnet.Network/PeeringStrategy state rather than signaled by an event.
const reconcilePollInterval = 50 * time.Millisecond

// coordinator is component C6 (spec.md §4.5): the single-threaded,
// lock-free select loop that owns C1 (peering), C3 (requests), C4
// (dispatch), and C5 (fanout), and is the sole caller of C2
// (chainnet.Network). All of its fields are therefore touched from exactly
// one goroutine — run's — by construction, matching spec.md §5's "no locks
// on coordinator state" requirement.
type coordinator struct {
	net      chainnet.Network
	platform chainnet.Platform
	peering  *PeeringStrategy
	requests *requestRegistry
	dispatch *dispatchTable
	fanout   *eventFanout
	cmds     chan command
	cfg      Config
	log      *slog.Logger
	metrics  *metrics

	fanoutDone   <-chan struct{}
	dialLimiters map[chainnet.PeerId]*rate.Limiter

	// ctx is set once at the top of run and read by stage when publishing
	// to the fan-out, so an in-flight blocked send unblocks on shutdown
	// instead of leaking goroutines forever. Defaults to context.Background
	// for tests that drive handleNetworkEvent directly without run.
	ctx context.Context
}

func newCoordinator(net chainnet.Network, platform chainnet.Platform, cfg Config, log *slog.Logger, m *metrics) *coordinator {
	return &coordinator{
		net:          net,
		platform:     platform,
		peering:      NewPeeringStrategy(),
		requests:     newRequestRegistry(),
		dispatch:     newDispatchTable(cfg.ConnectionSendWarnAfter, log),
		fanout:       newEventFanout(log, m),
		cmds:         make(chan command, 32),
		cfg:          cfg,
		log:          log,
		metrics:      m,
		dialLimiters: make(map[chainnet.PeerId]*rate.Limiter),
		ctx:          context.Background(),
	}
}

// run drives the select loop until ctx is canceled. Each iteration tries
// the seven input classes of spec.md §4.5 in strict priority order via a
// cascade of non-blocking checks; only when none has anything ready does it
// fall through to a single blocking select, so higher-priority classes can
// never be starved by a backlog in a lower one.
func (c *coordinator) run(ctx context.Context) {
	c.ctx = ctx
	for {
		if ctx.Err() != nil {
			return
		}

		select {
		case cmd := <-c.cmds:
			c.handleCommand(cmd)
			continue
		default:
		}

		if c.fanoutDone == nil {
			if ev, ok := c.net.NextEvent(); ok {
				c.handleNetworkEvent(ev)
				continue
			}
		}

		if peer, ok := pickFirst(c.net.UnconnectedDesired()); ok {
			c.startConnect(ctx, peer)
			continue
		}

		if entries := c.net.ConnectedUnopenedGossipDesired(); len(entries) > 0 {
			e := entries[0]
			c.net.GossipOpen(e.Chain, e.Peer, e.Kind)
			continue
		}

		if cid, msg, ok := c.net.PullMessageToConnection(); ok {
			c.dispatch.Send(cid, msg)
			continue
		}

		if fired, _ := c.reconcileSlots(); fired {
			continue
		}

		if c.fanoutDone != nil {
			select {
			case <-c.fanoutDone:
				c.fanoutDone = nil
				continue
			default:
			}
		}

		c.block(ctx)
	}
}

// block is the fallback branch reached only when none of the seven input
// classes had anything ready; it waits for the earliest of: a command, a
// network event, fan-out completion, ctx cancellation, or a poll tick to
// re-check derived reconciliation state (including ban expiries).
func (c *coordinator) block(ctx context.Context) {
	select {
	case <-ctx.Done():
	case cmd := <-c.cmds:
		c.handleCommand(cmd)
	case <-c.net.EventReady():
	case <-c.fanoutDone:
		c.fanoutDone = nil
	case <-time.After(reconcilePollInterval):
	}
}

func pickFirst[T any](xs []T) (T, bool) {
	var zero T
	if len(xs) == 0 {
		return zero, false
	}
	return xs[0], true
}

// reconcileSlots implements spec.md §4.5 item 6: for each chain whose
// current desired-gossip count is below num_out_slots, ask C1 for an
// assignable peer and, if found, assign it a slot. Only the first action
// found is taken per call, matching the "exactly one input class per
// iteration" discipline. earliestUnban is the soonest ban expiry seen
// across chains that currently have no assignable (non-banned) peer. run
// does not use it: ban expiries are picked up by block's poll tick.
func (c *coordinator) reconcileSlots() (fired bool, earliestUnban time.Time) {
	now := c.platform.Now()
	for _, chain := range c.net.Chains() {
		rec := c.net.Chain(chain)
		c.metrics.slotsAssigned.WithLabelValues(chainLabel(chain)).Set(float64(c.peering.AssignedSlotCount(chain)))
		desired := c.net.GossipDesiredNum(chain, chainnet.GossipKindConsensusTransactions)
		if desired >= int(rec.NumOutSlots) {
			continue
		}
		result := c.peering.PickAssignablePeer(chain, now)
		switch result.Kind {
		case Assignable:
			c.peering.AssignSlot(chain, result.Peer)
			c.net.GossipInsertDesired(chain, result.Peer, chainnet.GossipKindConsensusTransactions)
			c.metrics.slotsAssigned.WithLabelValues(chainLabel(chain)).Set(float64(c.peering.AssignedSlotCount(chain)))
			return true, time.Time{}
		case AllPeersBanned:
			if earliestUnban.IsZero() || result.NextUnban.Before(earliestUnban) {
				earliestUnban = result.NextUnban
			}
		case NoPeer:
		}
	}
	return false, earliestUnban
}

// --- command handling ------------------------------------------------------

func (c *coordinator) handleCommand(cmd command) {
	switch m := cmd.(type) {
	case cmdConnectionMessage:
		c.net.InjectConnectionMessage(m.ConnID, m.Msg)

	case cmdBlocksRequest:
		sid, err := c.net.StartBlocksRequest(m.Target, m.Chain, m.Config, m.Timeout)
		if err != nil {
			m.Result <- blocksResult{err: err}
			return
		}
		c.requests.registerBlocks(sid, m.Result, c.platform.Now())

	case cmdWarpSyncRequest:
		sid, err := c.net.StartGrandpaWarpSyncRequest(m.Target, m.Chain, m.BeginHash, m.Timeout)
		if err != nil {
			m.Result <- warpSyncResult{err: err}
			return
		}
		c.requests.registerWarpSync(sid, m.Result, c.platform.Now())

	case cmdStorageProofRequest:
		sid, err := c.net.StartStorageProofRequest(m.Target, m.Chain, m.Config, m.Timeout)
		if err != nil {
			m.Result <- storageProofResult{err: err}
			return
		}
		c.requests.registerStorageProof(sid, m.Result, c.platform.Now())

	case cmdCallProofRequest:
		sid, err := c.net.StartCallProofRequest(m.Target, m.Chain, m.Config, m.Timeout)
		if err != nil {
			m.Result <- callProofResult{err: err}
			return
		}
		c.requests.registerCallProof(sid, m.Result, c.platform.Now())

	case cmdSetLocalBestBlock:
		c.net.SetChainLocalBestBlock(m.Chain, m.Number, m.Hash)

	case cmdSetLocalGrandpaState:
		c.net.GossipBroadcastGrandpaStateAndUpdate(m.Chain, m.State)

	case cmdAnnounceTransaction:
		peers := c.net.GossipConnectedPeers(m.Chain, chainnet.GossipKindConsensusTransactions)
		for _, p := range peers {
			if err := c.net.GossipSendTransaction(m.Chain, p, m.Tx); err != nil {
				c.log.Debug("announce transaction queue failed", "peer", p, "err", err)
			}
		}
		m.Result <- peers

	case cmdSendBlockAnnounce:
		m.Result <- c.net.GossipSendBlockAnnounce(m.Chain, m.Peer, m.Announce)

	case cmdDiscover:
		for _, p := range m.Peers {
			evicted, didEvict := c.peering.InsertChainPeer(m.Chain, p.ID, discoveryChainPeerCap)
			if didEvict {
				// important affects log level only (spec.md §4.5): losing an
				// evicted slot to an important peer is worth an operator's
				// attention, an ordinary one isn't.
				if m.Important {
					c.log.Info("peer evicted on discovery insert", "chain", m.Chain, "evicted", evicted, "important", m.Important)
				} else {
					c.log.Debug("peer evicted on discovery insert", "chain", m.Chain, "evicted", evicted, "important", m.Important)
				}
			}
			for _, addr := range p.Addrs {
				c.peering.InsertAddress(p.ID, addr, discoveryAddressCap)
			}
		}

	case cmdDiscoveredNodes:
		m.Result <- c.peering.ChainPeersUnordered(m.Chain)

	case cmdPeersList:
		m.Result <- c.net.GossipConnectedPeers(m.Chain, chainnet.GossipKindConsensusTransactions)

	case cmdStartDiscovery:
		c.startDiscoveryRound()

	default:
		panic("netservice: unreachable: unknown command type")
	}
}

const (
	discoveryChainPeerCap = 30
	discoveryAddressCap   = 10
)

func (c *coordinator) startDiscoveryRound() {
	for _, chain := range c.net.Chains() {
		peers := c.net.GossipConnectedPeers(chain, chainnet.GossipKindConsensusTransactions)
		if len(peers) == 0 {
			continue
		}
		target := peers[0]
		var keyMaterial [32]byte
		c.platform.RandomBytes(keyMaterial[:])
		targetKey := derivePeerIDFromEd25519Seed(keyMaterial)

		sid, err := c.net.StartFindNodeRequest(target, chain, targetKey, 20*time.Second)
		if err != nil {
			c.log.Debug("find-node request failed to start", "chain", chain, "target", target, "err", err)
			continue
		}
		c.requests.registerFindNode(sid, chain)
	}
}

// --- network event handling -------------------------------------------------

func (c *coordinator) handleNetworkEvent(ev chainnet.NetworkEvent) {
	switch e := ev.(type) {
	case chainnet.HandshakeFinished:
		if e.ExpectedPeer != e.ActualPeer {
			if addr, ok := c.net.ConnectionRemoteAddr(e.ConnectionID); ok {
				c.peering.RemoveAddress(e.ExpectedPeer, addr)
				c.peering.InsertOrSetConnectedAddress(e.ActualPeer, addr, 10)
			}
		}

	case chainnet.PreHandshakeDisconnected:
		c.dispatch.Unregister(e.ConnectionID)
		if e.ExpectedPeer != nil {
			c.peering.DisconnectAddr(*e.ExpectedPeer, e.Addr)
		}

	case chainnet.Disconnected:
		c.dispatch.Unregister(e.ConnectionID)
		c.peering.DisconnectAddr(e.Peer, e.Addr)

	case chainnet.BlockAnnounce:
		c.stage(BlockAnnounceEvent{Chain: e.Chain, Peer: e.Peer, Announce: e.Announce})

	case chainnet.GossipConnected:
		c.metrics.gossipOpenTotal.WithLabelValues(chainLabel(e.Chain), "opened").Inc()
		c.metrics.connectedPeers.WithLabelValues(chainLabel(e.Chain)).Set(float64(len(c.net.GossipConnectedPeers(e.Chain, e.Kind))))
		c.stage(ConnectedEvent{Chain: e.Chain, Peer: e.Peer, Role: e.Role, BestBlock: e.BestBlock})

	case chainnet.GossipDisconnected:
		c.net.GossipRemoveDesired(e.Chain, e.Peer, e.Kind)
		c.peering.UnassignSlotAndBan(e.Chain, e.Peer, c.platform.Now().Add(10*time.Second))
		c.metrics.banTotal.WithLabelValues("gossip_disconnected").Inc()
		c.metrics.connectedPeers.WithLabelValues(chainLabel(e.Chain)).Set(float64(len(c.net.GossipConnectedPeers(e.Chain, e.Kind))))
		c.stage(DisconnectedEvent{Chain: e.Chain, Peer: e.Peer})

	case chainnet.GrandpaNeighborPacket:
		c.stage(GrandpaNeighborPacketEvent{Chain: e.Chain, Peer: e.Peer, FinalizedBlockHeight: e.FinalizedBlockHeight})

	case chainnet.GrandpaCommitMessage:
		c.stage(GrandpaCommitMessageEvent{Chain: e.Chain, Peer: e.Peer, Message: e.Message})

	case chainnet.GossipOpenFailed:
		c.net.GossipRemoveDesired(e.Chain, e.Peer, e.Kind)
		c.metrics.gossipOpenTotal.WithLabelValues(chainLabel(e.Chain), "failed").Inc()
		if isGenesisMismatch(e.Err) {
			c.peering.UnassignSlotAndRemoveChainPeer(e.Chain, e.Peer)
		} else {
			c.peering.UnassignSlotAndBan(e.Chain, e.Peer, c.platform.Now().Add(15*time.Second))
			c.metrics.banTotal.WithLabelValues("gossip_open_failed").Inc()
		}

	case chainnet.RequestResult:
		c.handleRequestResult(e)

	case chainnet.GossipInDesired:
		undesired := c.net.OpenedGossipUndesiredByChain(e.Chain)
		if len(undesired) < gossipInDesiredAcceptLimit {
			c.net.GossipOpen(e.Chain, e.Peer, e.Kind)
		} else {
			c.net.GossipClose(e.Chain, e.Peer, e.Kind)
		}

	case chainnet.IdentifyRequestIn:
		c.net.RespondIdentify(e.SubstreamID, c.cfg.IdentifyAgentVersion)

	case chainnet.ProtocolErrorEvent:
		if e.Err.IsProtocolError() {
			c.log.Warn("protocol error", "connection_id", e.ConnectionID, "err", e.Err)
		} else {
			c.log.Debug("network problem", "connection_id", e.ConnectionID, "err", e.Err)
		}
		// TODO: disconnect the offending connection once C2 exposes a
		// direct close-by-ConnectionId operation; left as a known gap.

	case chainnet.RequestInCancel, chainnet.GossipInDesiredCancel, chainnet.BlocksRequestIn:
		panic("netservice: unreachable: inbound request event under light-role, immediate-acceptance configuration")

	default:
		panic("netservice: unreachable: unknown network event type")
	}
}

func isGenesisMismatch(err error) bool {
	return errors.Is(err, chainnet.ErrGenesisMismatch)
}

func chainLabel(chain chainnet.ChainId) string {
	return strconv.FormatUint(uint64(chain), 10)
}

// stage publishes ev through the fan-out and records the in-flight
// completion signal, enforcing invariant I4 (at most one staged event at a
// time): handleNetworkEvent's caller does not pull another C2 event while
// c.fanoutDone is non-nil (see run's guard above).
func (c *coordinator) stage(ev Event) {
	c.fanoutDone = c.fanout.Publish(c.ctx, ev)
}

func (c *coordinator) handleRequestResult(res chainnet.RequestResult) {
	if res.Kind == chainnet.RequestKindFindNode {
		chain, ok := c.requests.findNode[res.SubstreamID]
		c.requests.resolve(res)
		if !ok || res.Err != nil {
			return
		}
		for _, p := range res.FindNodeResult {
			addrs := p.Addrs
			if len(addrs) > c.cfg.MaxAddressesPerPeer {
				addrs = addrs[:c.cfg.MaxAddressesPerPeer]
			}
			evicted, didEvict := c.peering.InsertChainPeer(chain, p.ID, discoveryChainPeerCap)
			if didEvict {
				c.log.Debug("peer evicted on find-node insert", "chain", chain, "evicted", evicted)
			}
			for _, a := range addrs {
				c.peering.InsertAddress(p.ID, a, discoveryAddressCap)
			}
			c.metrics.discoveryFoundTotal.Inc()
		}
		return
	}
	outcome := "ok"
	if res.Err != nil {
		outcome = "error"
	}
	kind := requestKindLabel(res.Kind)
	c.metrics.requestsTotal.WithLabelValues(kind, outcome).Inc()
	elapsed := c.requests.elapsedSince(res.SubstreamID, c.platform.Now())
	if elapsed > 0 {
		c.metrics.requestDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
	c.requests.resolve(res)
}

func requestKindLabel(kind chainnet.RequestKind) string {
	switch kind {
	case chainnet.RequestKindBlocks:
		return "blocks"
	case chainnet.RequestKindWarpSync:
		return "warp_sync"
	case chainnet.RequestKindStorageProof:
		return "storage_proof"
	case chainnet.RequestKindCallProof:
		return "call_proof"
	case chainnet.RequestKindFindNode:
		return "find_node"
	default:
		return "unknown"
	}
}
