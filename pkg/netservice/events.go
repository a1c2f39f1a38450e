package netservice

import "github.com/shurlinet/lightnet/pkg/netservice/chainnet"

// Event is the public fan-out taxonomy delivered to Subscribe channels
// (spec.md §4.8). It is distinct from chainnet.NetworkEvent: that one is
// the internal C2 wire, this is the curated subset a caller of this package
// actually wants to observe.
type Event interface {
	isEvent()
}

// ConnectedEvent fires once gossip opens to peer on chain.
type ConnectedEvent struct {
	Chain     chainnet.ChainId
	Peer      chainnet.PeerId
	Role      string
	BestBlock chainnet.BestBlock
}

// DisconnectedEvent fires when chainnet.Network reports that an open gossip
// substream to peer on chain has closed (a GossipDisconnected event). A
// failed gossip open does not produce one.
type DisconnectedEvent struct {
	Chain chainnet.ChainId
	Peer  chainnet.PeerId
}

// BlockAnnounceEvent relays an inbound block announcement.
type BlockAnnounceEvent struct {
	Chain    chainnet.ChainId
	Peer     chainnet.PeerId
	Announce []byte
}

// GrandpaNeighborPacketEvent relays an inbound GrandPa neighbor packet.
type GrandpaNeighborPacketEvent struct {
	Chain                chainnet.ChainId
	Peer                 chainnet.PeerId
	FinalizedBlockHeight uint64
}

// GrandpaCommitMessageEvent relays an inbound GrandPa commit message.
type GrandpaCommitMessageEvent struct {
	Chain   chainnet.ChainId
	Peer    chainnet.PeerId
	Message []byte
}

func (ConnectedEvent) isEvent()              {}
func (DisconnectedEvent) isEvent()           {}
func (BlockAnnounceEvent) isEvent()          {}
func (GrandpaNeighborPacketEvent) isEvent()  {}
func (GrandpaCommitMessageEvent) isEvent()   {}
