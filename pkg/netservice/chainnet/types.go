// Package chainnet defines the contract this coordinator consumes from the
// chain-network state machine (spec.md §6, component C2) and from the
// platform abstraction (spec.md §1/§5). Both are explicitly out of scope for
// the coordinator itself: chainnet.Network is an interface plus a
// deterministic in-memory Fake used for tests, not a production wire
// implementation. A real implementation would own the wire codec, the
// handshake arithmetic, and the actual transports — none of which this
// package attempts.
package chainnet

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// ChainId is a dense handle issued by AddChain; stable for process lifetime.
type ChainId uint32

// PeerId is a cryptographic peer identity. Aliasing libp2p's peer.ID gives
// us byte-comparable equality and multihash framing for free (spec.md §3).
type PeerId = peer.ID

// Address is a layered address description carrying no connection state.
type Address = multiaddr.Multiaddr

// ConnectionId is an opaque dense handle, unique within process lifetime.
type ConnectionId uint64

// SubstreamId is an opaque dense handle, unique within process lifetime.
type SubstreamId uint64

// GossipKind distinguishes gossip substream purposes. This coordinator only
// ever deals in consensus/transaction gossip (light role), but the kind is
// kept explicit because GossipDesiredNum/GossipConnectedPeers are keyed by it
// in the C2 contract (spec.md §6).
type GossipKind uint8

const (
	GossipKindConsensusTransactions GossipKind = iota
)

// BestBlock is a chain's locally-known best block.
type BestBlock struct {
	Number uint64
	Hash   [32]byte
}

// GrandpaState is the local GrandPa finality state (spec.md §3 ChainRecord).
type GrandpaState struct {
	FinalizedBlockHeight uint64
}

// ChainConfig is supplied to AddChain (spec.md §6 Configuration: chains list).
type ChainConfig struct {
	LogName                  string
	NumOutSlots              uint32
	GenesisBlockHash         [32]byte
	BestBlock                BestBlock
	ForkID                   string
	BlockNumberBytes         uint8
	GrandpaProtocolFinalized *uint64
}

// ChainRecord is the read side of a registered chain (spec.md §3).
type ChainRecord struct {
	LogName           string
	NumOutSlots       uint32
	GenesisBlockHash  [32]byte
	ForkID            string
	BlockNumberBytes  uint8
	Role              string // always "light" for this service
	Grandpa           *GrandpaState
	BestBlock         BestBlock
}

// GossipDesiredEntry is one element of ConnectedUnopenedGossipDesired: a
// peer that is connected, on a given chain, for which gossip is desired but
// not yet open.
type GossipDesiredEntry struct {
	Peer  PeerId
	Chain ChainId
	Kind  GossipKind
}

// BlocksRequestConfig parameterizes StartBlocksRequest. Fields are opaque to
// the coordinator (it passes them through unchanged); codec specifics are out of
// scope (spec.md §1 Non-goals: "does not itself parse wire bytes").
type BlocksRequestConfig struct {
	StartHash     *[32]byte
	StartNumber   *uint64
	Descending    bool
	DesiredCount  uint32
	WithHeader    bool
	WithBody      bool
	WithJustify   bool
}

// StorageProofConfig parameterizes StartStorageProofRequest.
type StorageProofConfig struct {
	BlockHash [32]byte
	Keys      [][]byte
}

// CallProofConfig parameterizes StartCallProofRequest.
type CallProofConfig struct {
	BlockHash  [32]byte
	FunctionName string
	Parameter  []byte
}

// FindNodePeer is one element of a find-node response.
type FindNodePeer struct {
	ID    PeerId
	Addrs []Address
}

// CoordinatorToConnection is a message the coordinator pushes toward a
// per-connection task via the dispatch table (spec.md §4.3).
type CoordinatorToConnection struct {
	Payload []byte
}

// ConnectionToCoordinatorMessage is the inverse: a message a connection task
// injects back into the state machine via InjectConnectionMessage.
type ConnectionToCoordinatorMessage struct {
	Payload []byte
}

// ConnectionDriver is the per-connection handle returned alongside a
// ConnectionId when a connection is admitted. It is handed to the spawned
// connection task (spec.md §4.9); the actual socket I/O it fronts is out of
// scope for this package.
type ConnectionDriver interface {
	// Closed reports when the platform has determined the connection is
	// dead; the owning connection task must terminate upon seeing this.
	Closed() <-chan struct{}
}

// Platform abstracts the clock, randomness, and spawning primitives the
// coordinator needs (spec.md §1's "out of scope" platform abstraction, §5's
// monotonic-clock-only and ChaCha20-seeded-randomness requirements).
type Platform interface {
	Now() time.Time
	// SleepUntil returns a channel that closes at or after t. Canceling ctx
	// is not guaranteed to close it, so the caller must also select on
	// ctx.Done().
	SleepUntil(ctx context.Context, t time.Time) <-chan struct{}
	// Spawn runs fn on a platform-managed goroutine.
	Spawn(fn func())
	// RandomBytes fills p with randomness from the chain-specific seeded
	// generator described in spec.md §5.
	RandomBytes(p []byte)
}
