package chainnet

import (
	"context"
	"time"
)

// Network is the contract this coordinator consumes from the chain-network
// state machine (spec.md §6, component C2). It owns connection/substream
// lifecycle, gossip membership, and request/response framing; none of that
// is implemented by this package beyond the Fake used for tests. Every
// method here corresponds 1:1 to an operation spec.md §6 enumerates.
type Network interface {
	// AddChain registers a new chain and returns its dense handle.
	AddChain(cfg ChainConfig) ChainId
	// Chain returns the current record for a registered chain.
	Chain(id ChainId) ChainRecord
	// SetChainLocalBestBlock updates the chain's locally-known best block.
	SetChainLocalBestBlock(id ChainId, number uint64, hash [32]byte)
	// SetChainLocalGrandpaState updates the chain's local GrandPa state.
	SetChainLocalGrandpaState(id ChainId, state GrandpaState)

	// Chains lists every registered chain.
	Chains() []ChainId
	// UnconnectedDesired lists peers this service wants to connect to but
	// has no connection for yet.
	UnconnectedDesired() []PeerId
	// ConnectedUnopenedGossipDesired lists (peer, chain) pairs that are
	// connected but for which the desired gossip substream is not yet open.
	ConnectedUnopenedGossipDesired() []GossipDesiredEntry
	// GossipDesiredNum counts how many gossip substreams of the given kind
	// are currently desired on the chain.
	GossipDesiredNum(chain ChainId, kind GossipKind) int
	// GossipConnectedPeers lists peers with an open gossip substream of the
	// given kind on the chain.
	GossipConnectedPeers(chain ChainId, kind GossipKind) []PeerId
	// OpenedGossipUndesiredByChain lists peers with an open gossip substream
	// on the chain that we did NOT mark as desired (inbound-initiated).
	OpenedGossipUndesiredByChain(chain ChainId) []PeerId

	// AddSingleStreamConnection admits a newly-dialed single-stream
	// (TCP/WebSocket-style) connection and returns its handle and driver.
	AddSingleStreamConnection(ctx context.Context, addr Address, expectedPeer PeerId, noiseKey [32]byte) (ConnectionId, ConnectionDriver, error)
	// AddMultiStreamConnection admits a newly-dialed multi-stream (WebRTC)
	// connection and returns its handle and driver.
	AddMultiStreamConnection(ctx context.Context, addr Address, expectedPeer PeerId, noiseKey [32]byte) (ConnectionId, ConnectionDriver, error)
	// InjectConnectionMessage feeds a message from a connection task back
	// into the state machine.
	InjectConnectionMessage(cid ConnectionId, msg ConnectionToCoordinatorMessage)
	// PullMessageToConnection pops the next outbound message destined for a
	// connection task, if any is queued.
	PullMessageToConnection() (ConnectionId, CoordinatorToConnection, bool)
	// NextEvent pops the next NetworkEvent, if any is queued.
	NextEvent() (NetworkEvent, bool)
	// EventReady signals (by closing or sending) when NextEvent or
	// PullMessageToConnection may have new data, so the coordinator can
	// block efficiently instead of busy-polling.
	EventReady() <-chan struct{}

	// GossipOpen opens a gossip substream toward peer on chain. Infallible
	// by C2 contract (spec.md §4.5).
	GossipOpen(chain ChainId, peer PeerId, kind GossipKind)
	// GossipClose closes a gossip substream toward peer on chain.
	GossipClose(chain ChainId, peer PeerId, kind GossipKind)
	// GossipInsertDesired marks (chain, peer) as desired-gossip.
	GossipInsertDesired(chain ChainId, peer PeerId, kind GossipKind)
	// GossipRemoveDesired unmarks (chain, peer) as desired-gossip.
	GossipRemoveDesired(chain ChainId, peer PeerId, kind GossipKind)
	// GossipRemoveDesiredAll unmarks peer as desired-gossip on every chain.
	GossipRemoveDesiredAll(peer PeerId)

	// GossipSendBlockAnnounce queues a block announce toward peer on chain.
	GossipSendBlockAnnounce(chain ChainId, peer PeerId, announce []byte) error
	// GossipSendTransaction queues a transaction announce toward peer.
	GossipSendTransaction(chain ChainId, peer PeerId, tx []byte) error
	// GossipBroadcastGrandpaStateAndUpdate updates the chain's local
	// GrandPa state and broadcasts it to every gossip-connected peer.
	GossipBroadcastGrandpaStateAndUpdate(chain ChainId, state GrandpaState)

	// StartBlocksRequest issues a blocks request toward target.
	StartBlocksRequest(target PeerId, chain ChainId, cfg BlocksRequestConfig, timeout time.Duration) (SubstreamId, error)
	// StartGrandpaWarpSyncRequest issues a warp-sync request toward target.
	StartGrandpaWarpSyncRequest(target PeerId, chain ChainId, beginHash [32]byte, timeout time.Duration) (SubstreamId, error)
	// StartStorageProofRequest issues a storage-proof request toward target.
	StartStorageProofRequest(target PeerId, chain ChainId, cfg StorageProofConfig, timeout time.Duration) (SubstreamId, error)
	// StartCallProofRequest issues a call-proof request toward target.
	StartCallProofRequest(target PeerId, chain ChainId, cfg CallProofConfig, timeout time.Duration) (SubstreamId, error)
	// StartFindNodeRequest issues a find-node probe toward target, for the
	// random key identified by targetKey.
	StartFindNodeRequest(target PeerId, chain ChainId, targetKey PeerId, timeout time.Duration) (SubstreamId, error)

	// RespondIdentify answers an inbound identify request.
	RespondIdentify(sid SubstreamId, agentVersion string)
	// ConnectionRemoteAddr returns the remote multiaddr of a connection.
	ConnectionRemoteAddr(cid ConnectionId) (Address, bool)
}
