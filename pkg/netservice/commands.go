package netservice

import (
	"time"

	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

// command is the marker interface for messages sent down the coordinator's
// inbox (spec.md §4.6's public command façade, C8). Each Service method
// builds one of these, sends it on cmds (capacity 32), and — for methods
// that return a value — blocks on a result channel embedded in the command.
type command interface {
	isCommand()
}

type cmdConnectionMessage struct {
	ConnID chainnet.ConnectionId
	Msg    chainnet.ConnectionToCoordinatorMessage
}

type cmdBlocksRequest struct {
	Target  chainnet.PeerId
	Chain   chainnet.ChainId
	Config  chainnet.BlocksRequestConfig
	Timeout time.Duration
	Result  chan blocksResult
}

type cmdWarpSyncRequest struct {
	Target    chainnet.PeerId
	Chain     chainnet.ChainId
	BeginHash [32]byte
	Timeout   time.Duration
	Result    chan warpSyncResult
}

type cmdStorageProofRequest struct {
	Target  chainnet.PeerId
	Chain   chainnet.ChainId
	Config  chainnet.StorageProofConfig
	Timeout time.Duration
	Result  chan storageProofResult
}

type cmdCallProofRequest struct {
	Target  chainnet.PeerId
	Chain   chainnet.ChainId
	Config  chainnet.CallProofConfig
	Timeout time.Duration
	Result  chan callProofResult
}

type cmdSetLocalBestBlock struct {
	Chain  chainnet.ChainId
	Number uint64
	Hash   [32]byte
}

type cmdSetLocalGrandpaState struct {
	Chain chainnet.ChainId
	State chainnet.GrandpaState
}

type cmdAnnounceTransaction struct {
	Chain  chainnet.ChainId
	Tx     []byte
	Result chan []chainnet.PeerId
}

type cmdSendBlockAnnounce struct {
	Chain    chainnet.ChainId
	Peer     chainnet.PeerId
	Announce []byte
	Result   chan error
}

type discoveredPeer struct {
	ID    chainnet.PeerId
	Addrs []chainnet.Address
}

type cmdDiscover struct {
	Chain     chainnet.ChainId
	Peers     []discoveredPeer
	Important bool
}

type cmdDiscoveredNodes struct {
	Chain  chainnet.ChainId
	Result chan []chainnet.PeerId
}

type cmdPeersList struct {
	Chain  chainnet.ChainId
	Result chan []chainnet.PeerId
}

// cmdStartDiscovery is sent by the discovery driver (C7) on each tick. The
// coordinator is the sole caller of chainnet.Network, so discovery itself
// never issues the find-node request directly — it only asks the
// coordinator to do so, for whichever chains are due.
type cmdStartDiscovery struct{}

func (cmdConnectionMessage) isCommand()     {}
func (cmdBlocksRequest) isCommand()         {}
func (cmdWarpSyncRequest) isCommand()       {}
func (cmdStorageProofRequest) isCommand()   {}
func (cmdCallProofRequest) isCommand()      {}
func (cmdSetLocalBestBlock) isCommand()     {}
func (cmdSetLocalGrandpaState) isCommand()  {}
func (cmdAnnounceTransaction) isCommand()   {}
func (cmdSendBlockAnnounce) isCommand()     {}
func (cmdDiscover) isCommand()              {}
func (cmdDiscoveredNodes) isCommand()       {}
func (cmdPeersList) isCommand()             {}
func (cmdStartDiscovery) isCommand()        {}
