package netservice

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

// Config parameterizes a Service (spec.md §6 "Configuration"). Zero values
// for the optional fields fall back to internal/config.DefaultServiceConfig's
// defaults when constructed via cmd/lightnetd; NewService itself requires
// the caller to have already applied defaults.
type Config struct {
	IdentifyAgentVersion   string
	NumEventReceivers      int
	MaxAddressesPerPeer    int
	DialRatePerMinute      float64
	ConnectionSendWarnAfter time.Duration
	HandshakeTimeout       time.Duration
}

// Service is the public command façade (C8, spec.md §4.7): every exported
// method is a thin message-passing veneer that builds a command, sends it
// into the coordinator's bounded inbox, and (for methods with a result)
// blocks on a capacity-1 reply channel.
type Service struct {
	coord  *coordinator
	cancel context.CancelFunc
	group  *errgroup.Group
	log    *slog.Logger
}

// NewService constructs and starts a Service: the coordinator loop, the
// discovery driver, and NumEventReceivers-many pre-opened subscriber
// channels all run under a shared cancellation context supervised by an
// errgroup, matching spec.md §5's "killed" broadcast — canceling ctx (via
// Close) races every owned task at once.
func NewService(ctx context.Context, net chainnet.Network, platform chainnet.Platform, cfg Config, log *slog.Logger) (*Service, []<-chan Event) {
	if log == nil {
		log = slog.Default()
	}
	m := newMetrics()
	coord := newCoordinator(net, platform, cfg, log, m)

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	subs := make([]<-chan Event, cfg.NumEventReceivers)
	for i := range subs {
		subs[i] = coord.fanout.Subscribe()
	}

	group.Go(func() error {
		coord.run(groupCtx)
		return nil
	})

	discovery := newDiscoveryDriver(platform, coord.cmds)
	group.Go(func() error {
		discovery.run(groupCtx)
		return nil
	})

	return &Service{coord: coord, cancel: cancel, group: group, log: log}, subs
}

// Metrics returns an http.Handler serving this Service's Prometheus
// metrics on an isolated registry.
func (s *Service) Metrics() http.Handler {
	return s.coord.metrics.Handler()
}

// Close cancels the shared context and waits for the coordinator and
// discovery driver to exit. Connection tasks are spawned via
// chainnet.Platform.Spawn and race the same context internally, per
// spec.md §4.9.
func (s *Service) Close() error {
	s.cancel()
	return s.group.Wait()
}

func (s *Service) send(cmd command) {
	s.coord.cmds <- cmd
}

// BlocksRequest issues a blocks request toward target on chain.
func (s *Service) BlocksRequest(target chainnet.PeerId, chain chainnet.ChainId, cfg chainnet.BlocksRequestConfig, timeout time.Duration) ([]byte, error) {
	reply := make(chan blocksResult, 1)
	s.send(cmdBlocksRequest{Target: target, Chain: chain, Config: cfg, Timeout: timeout, Result: reply})
	res := <-reply
	return res.data, res.err
}

// GrandpaWarpSyncRequest issues a warp-sync request toward target.
func (s *Service) GrandpaWarpSyncRequest(target chainnet.PeerId, chain chainnet.ChainId, beginHash [32]byte, timeout time.Duration) ([]byte, error) {
	reply := make(chan warpSyncResult, 1)
	s.send(cmdWarpSyncRequest{Target: target, Chain: chain, BeginHash: beginHash, Timeout: timeout, Result: reply})
	res := <-reply
	return res.data, res.err
}

// StorageProofRequest issues a storage-proof request toward target.
func (s *Service) StorageProofRequest(target chainnet.PeerId, chain chainnet.ChainId, cfg chainnet.StorageProofConfig, timeout time.Duration) ([]byte, error) {
	reply := make(chan storageProofResult, 1)
	s.send(cmdStorageProofRequest{Target: target, Chain: chain, Config: cfg, Timeout: timeout, Result: reply})
	res := <-reply
	return res.data, res.err
}

// CallProofRequest issues a call-proof request toward target.
func (s *Service) CallProofRequest(target chainnet.PeerId, chain chainnet.ChainId, cfg chainnet.CallProofConfig, timeout time.Duration) ([]byte, error) {
	reply := make(chan callProofResult, 1)
	s.send(cmdCallProofRequest{Target: target, Chain: chain, Config: cfg, Timeout: timeout, Result: reply})
	res := <-reply
	return res.data, res.err
}

// SetLocalBestBlock updates chain's locally-known best block.
func (s *Service) SetLocalBestBlock(chain chainnet.ChainId, number uint64, hash [32]byte) {
	s.send(cmdSetLocalBestBlock{Chain: chain, Number: number, Hash: hash})
}

// SetLocalGrandpaState updates chain's local GrandPa state and broadcasts
// it to every gossip-connected peer.
func (s *Service) SetLocalGrandpaState(chain chainnet.ChainId, state chainnet.GrandpaState) {
	s.send(cmdSetLocalGrandpaState{Chain: chain, State: state})
}

// AnnounceTransaction queues tx toward every peer currently gossip-connected
// on chain, returning the full target list regardless of per-peer
// queue-full outcomes (spec.md §4.5).
func (s *Service) AnnounceTransaction(chain chainnet.ChainId, tx []byte) []chainnet.PeerId {
	reply := make(chan []chainnet.PeerId, 1)
	s.send(cmdAnnounceTransaction{Chain: chain, Tx: append([]byte(nil), tx...), Result: reply})
	return <-reply
}

// SendBlockAnnounce queues a block announce toward a single peer.
func (s *Service) SendBlockAnnounce(chain chainnet.ChainId, peer chainnet.PeerId, announce []byte) error {
	reply := make(chan error, 1)
	s.send(cmdSendBlockAnnounce{Chain: chain, Peer: peer, Announce: append([]byte(nil), announce...), Result: reply})
	return <-reply
}

// DiscoveredPeer is a caller-facing (peer, addresses) pair for Discover.
type DiscoveredPeer struct {
	ID    chainnet.PeerId
	Addrs []chainnet.Address
}

// Discover injects externally-learned peers (e.g. from a bootstrap list)
// into the peering strategy's address book.
func (s *Service) Discover(chain chainnet.ChainId, peers []DiscoveredPeer, important bool) {
	owned := make([]discoveredPeer, len(peers))
	for i, p := range peers {
		owned[i] = discoveredPeer{ID: p.ID, Addrs: append([]chainnet.Address(nil), p.Addrs...)}
	}
	s.send(cmdDiscover{Chain: chain, Peers: owned, Important: important})
}

// DiscoveredNodes enumerates every peer known to the peering strategy for
// chain, regardless of connection state.
func (s *Service) DiscoveredNodes(chain chainnet.ChainId) []chainnet.PeerId {
	reply := make(chan []chainnet.PeerId, 1)
	s.send(cmdDiscoveredNodes{Chain: chain, Result: reply})
	return <-reply
}

// PeersList enumerates peers currently gossip-connected on chain.
func (s *Service) PeersList(chain chainnet.ChainId) []chainnet.PeerId {
	reply := make(chan []chainnet.PeerId, 1)
	s.send(cmdPeersList{Chain: chain, Result: reply})
	return <-reply
}

// InjectConnectionMessage forwards a connection task's inbound message to
// the coordinator. Called by a connection task's transport-handling code,
// which is out of scope for this package.
func (s *Service) InjectConnectionMessage(cid chainnet.ConnectionId, msg chainnet.ConnectionToCoordinatorMessage) {
	s.send(cmdConnectionMessage{ConnID: cid, Msg: msg})
}
