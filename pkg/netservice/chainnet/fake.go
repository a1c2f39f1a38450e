package chainnet

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is a deterministic, in-memory Network used by pkg/netservice's tests
// and by cmd/lightnetd's -fake mode. It is NOT a production implementation:
// there is no real transport, no real handshake arithmetic, and requests
// resolve only when a test explicitly calls one of the Simulate* helpers.
// The coordinator drives Fake from a single goroutine, matching its own
// no-lock, single-writer discipline (spec.md §5); the mutex below guards all
// of Fake's state so tests may call the Simulate*/inspection helpers from
// other goroutines concurrently.
type Fake struct {
	mu sync.Mutex

	nextChain ChainId
	chains    map[ChainId]*ChainRecord

	nextConn  ConnectionId
	nextSub   SubstreamId
	connAddr  map[ConnectionId]Address
	connDrv   map[ConnectionId]*fakeDriver

	connectedPeer map[PeerId]ConnectionId
	desired       map[PeerId]map[ChainId]GossipKind
	openGossip    map[ChainId]map[PeerId]GossipKind

	pendingEvents []NetworkEvent
	pendingToConn []pendingToConnMsg

	identifyResponses map[SubstreamId]string
	sentAnnouncements []SentAnnouncement
	queueFullTargets  map[PeerId]bool
	tooLargeTargets   map[PeerId]bool

	ready chan struct{}
}

type pendingToConnMsg struct {
	cid ConnectionId
	msg CoordinatorToConnection
}

// SentAnnouncement records a GossipSendBlockAnnounce/GossipSendTransaction
// call for test assertions.
type SentAnnouncement struct {
	Chain ChainId
	Peer  PeerId
	Kind  string // "block" or "tx"
	Data  []byte
}

type fakeDriver struct {
	closed chan struct{}
}

func (d *fakeDriver) Closed() <-chan struct{} { return d.closed }

// NewFake constructs an empty Fake.
func NewFake() *Fake {
	return &Fake{
		chains:            make(map[ChainId]*ChainRecord),
		connAddr:          make(map[ConnectionId]Address),
		connDrv:           make(map[ConnectionId]*fakeDriver),
		connectedPeer:     make(map[PeerId]ConnectionId),
		desired:           make(map[PeerId]map[ChainId]GossipKind),
		openGossip:        make(map[ChainId]map[PeerId]GossipKind),
		identifyResponses: make(map[SubstreamId]string),
		queueFullTargets:  make(map[PeerId]bool),
		tooLargeTargets:   make(map[PeerId]bool),
		ready:             make(chan struct{}, 1),
	}
}

func (f *Fake) wake() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

func (f *Fake) EventReady() <-chan struct{} { return f.ready }

// --- chain registration -----------------------------------------------

func (f *Fake) AddChain(cfg ChainConfig) ChainId {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextChain
	f.nextChain++
	var grandpa *GrandpaState
	if cfg.GrandpaProtocolFinalized != nil {
		grandpa = &GrandpaState{FinalizedBlockHeight: *cfg.GrandpaProtocolFinalized}
	}
	f.chains[id] = &ChainRecord{
		LogName:          cfg.LogName,
		NumOutSlots:      cfg.NumOutSlots,
		GenesisBlockHash: cfg.GenesisBlockHash,
		ForkID:           cfg.ForkID,
		BlockNumberBytes: cfg.BlockNumberBytes,
		Role:             "light",
		Grandpa:          grandpa,
		BestBlock:        cfg.BestBlock,
	}
	return id
}

func (f *Fake) Chain(id ChainId) ChainRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.chains[id]
	if !ok {
		panic(fmt.Sprintf("chainnet: unknown chain %d", id))
	}
	return *rec
}

func (f *Fake) SetChainLocalBestBlock(id ChainId, number uint64, hash [32]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chains[id].BestBlock = BestBlock{Number: number, Hash: hash}
}

func (f *Fake) SetChainLocalGrandpaState(id ChainId, state GrandpaState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chains[id].Grandpa = &state
}

func (f *Fake) Chains() []ChainId {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ChainId, 0, len(f.chains))
	for id := range f.chains {
		out = append(out, id)
	}
	return out
}

// --- desired / connected introspection ----------------------------------

func (f *Fake) UnconnectedDesired() []PeerId {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PeerId
	for peer, chains := range f.desired {
		if len(chains) == 0 {
			continue
		}
		if _, connected := f.connectedPeer[peer]; !connected {
			out = append(out, peer)
		}
	}
	return out
}

func (f *Fake) ConnectedUnopenedGossipDesired() []GossipDesiredEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []GossipDesiredEntry
	for peer := range f.connectedPeer {
		for chain, kind := range f.desired[peer] {
			if openKind, open := f.openGossip[chain][peer]; open && openKind == kind {
				continue
			}
			out = append(out, GossipDesiredEntry{Peer: peer, Chain: chain, Kind: kind})
		}
	}
	return out
}

func (f *Fake) GossipDesiredNum(chain ChainId, kind GossipKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, chains := range f.desired {
		if k, ok := chains[chain]; ok && k == kind {
			n++
		}
	}
	return n
}

func (f *Fake) GossipConnectedPeers(chain ChainId, kind GossipKind) []PeerId {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PeerId
	for peer, k := range f.openGossip[chain] {
		if k == kind {
			out = append(out, peer)
		}
	}
	return out
}

func (f *Fake) OpenedGossipUndesiredByChain(chain ChainId) []PeerId {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PeerId
	for peer := range f.openGossip[chain] {
		if _, desired := f.desired[peer][chain]; !desired {
			out = append(out, peer)
		}
	}
	return out
}

// --- connection admission -----------------------------------------------

func (f *Fake) AddSingleStreamConnection(_ context.Context, addr Address, expectedPeer PeerId, _ [32]byte) (ConnectionId, ConnectionDriver, error) {
	return f.addConnection(addr, expectedPeer)
}

func (f *Fake) AddMultiStreamConnection(_ context.Context, addr Address, expectedPeer PeerId, _ [32]byte) (ConnectionId, ConnectionDriver, error) {
	return f.addConnection(addr, expectedPeer)
}

func (f *Fake) addConnection(addr Address, expectedPeer PeerId) (ConnectionId, ConnectionDriver, error) {
	f.mu.Lock()
	cid := f.nextConn
	f.nextConn++
	f.connAddr[cid] = addr
	drv := &fakeDriver{closed: make(chan struct{})}
	f.connDrv[cid] = drv
	f.connectedPeer[expectedPeer] = cid
	f.pendingEvents = append(f.pendingEvents, HandshakeFinished{
		ConnectionID: cid,
		ExpectedPeer: expectedPeer,
		ActualPeer:   expectedPeer,
	})
	f.mu.Unlock()
	f.wake()
	return cid, drv, nil
}

func (f *Fake) InjectConnectionMessage(ConnectionId, ConnectionToCoordinatorMessage) {
	// Wire-level framing is out of scope for the fake; accepted and dropped.
}

func (f *Fake) PullMessageToConnection() (ConnectionId, CoordinatorToConnection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pendingToConn) == 0 {
		return 0, CoordinatorToConnection{}, false
	}
	next := f.pendingToConn[0]
	f.pendingToConn = f.pendingToConn[1:]
	return next.cid, next.msg, true
}

func (f *Fake) NextEvent() (NetworkEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pendingEvents) == 0 {
		return nil, false
	}
	next := f.pendingEvents[0]
	f.pendingEvents = f.pendingEvents[1:]
	return next, true
}

// --- gossip membership ---------------------------------------------------

func (f *Fake) GossipOpen(chain ChainId, peer PeerId, kind GossipKind) {
	f.mu.Lock()
	if f.openGossip[chain] == nil {
		f.openGossip[chain] = make(map[PeerId]GossipKind)
	}
	f.openGossip[chain][peer] = kind
	rec := f.chains[chain]
	f.pendingEvents = append(f.pendingEvents, GossipConnected{
		Peer: peer, Chain: chain, Kind: kind,
		Role: rec.Role, BestBlock: rec.BestBlock,
	})
	f.mu.Unlock()
	f.wake()
}

func (f *Fake) GossipClose(chain ChainId, peer PeerId, _ GossipKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.openGossip[chain], peer)
}

func (f *Fake) GossipInsertDesired(chain ChainId, peer PeerId, kind GossipKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.desired[peer] == nil {
		f.desired[peer] = make(map[ChainId]GossipKind)
	}
	f.desired[peer][chain] = kind
	f.wakeLocked()
}

func (f *Fake) GossipRemoveDesired(chain ChainId, peer PeerId, _ GossipKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.desired[peer], chain)
}

func (f *Fake) GossipRemoveDesiredAll(peer PeerId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.desired, peer)
}

func (f *Fake) wakeLocked() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// --- gossip sends ----------------------------------------------------------

func (f *Fake) GossipSendBlockAnnounce(chain ChainId, peer PeerId, announce []byte) error {
	return f.send(chain, peer, "block", announce)
}

func (f *Fake) GossipSendTransaction(chain ChainId, peer PeerId, tx []byte) error {
	return f.send(chain, peer, "tx", tx)
}

func (f *Fake) send(chain ChainId, peer PeerId, kind string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.connectedPeer[peer]; !ok {
		return ErrNoConnection
	}
	if f.queueFullTargets[peer] {
		return ErrQueueFull
	}
	f.sentAnnouncements = append(f.sentAnnouncements, SentAnnouncement{Chain: chain, Peer: peer, Kind: kind, Data: data})
	return nil
}

func (f *Fake) GossipBroadcastGrandpaStateAndUpdate(chain ChainId, state GrandpaState) {
	f.mu.Lock()
	f.chains[chain].Grandpa = &state
	f.mu.Unlock()
}

// --- requests --------------------------------------------------------------

func (f *Fake) StartBlocksRequest(target PeerId, _ ChainId, _ BlocksRequestConfig, _ time.Duration) (SubstreamId, error) {
	return f.startRequest(target, false)
}

func (f *Fake) StartGrandpaWarpSyncRequest(target PeerId, _ ChainId, _ [32]byte, _ time.Duration) (SubstreamId, error) {
	return f.startRequest(target, false)
}

func (f *Fake) StartStorageProofRequest(target PeerId, _ ChainId, _ StorageProofConfig, _ time.Duration) (SubstreamId, error) {
	return f.startRequest(target, true)
}

func (f *Fake) StartCallProofRequest(target PeerId, _ ChainId, _ CallProofConfig, _ time.Duration) (SubstreamId, error) {
	return f.startRequest(target, true)
}

func (f *Fake) StartFindNodeRequest(target PeerId, _ ChainId, _ PeerId, _ time.Duration) (SubstreamId, error) {
	return f.startRequest(target, false)
}

func (f *Fake) startRequest(target PeerId, allowTooLarge bool) (SubstreamId, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.connectedPeer[target]; !ok {
		return 0, ErrNoConnection
	}
	if allowTooLarge && f.tooLargeTargets[target] {
		return 0, ErrRequestTooLarge
	}
	sid := f.nextSub
	f.nextSub++
	return sid, nil
}

func (f *Fake) RespondIdentify(sid SubstreamId, agentVersion string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identifyResponses[sid] = agentVersion
}

func (f *Fake) ConnectionRemoteAddr(cid ConnectionId) (Address, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.connAddr[cid]
	return a, ok
}

// --- test-only simulation helpers ------------------------------------------

// PushEvent enqueues an arbitrary NetworkEvent, for tests that want direct
// control over the event stream (e.g. BlockAnnounce/GrandpaNeighborPacket
// fan-out tests).
func (f *Fake) PushEvent(ev NetworkEvent) {
	f.mu.Lock()
	f.pendingEvents = append(f.pendingEvents, ev)
	f.mu.Unlock()
	f.wake()
}

// EnqueueMessageToConnection simulates C2 having an outbound message queued
// for a connection task.
func (f *Fake) EnqueueMessageToConnection(cid ConnectionId, msg CoordinatorToConnection) {
	f.mu.Lock()
	f.pendingToConn = append(f.pendingToConn, pendingToConnMsg{cid: cid, msg: msg})
	f.mu.Unlock()
	f.wake()
}

// SimulateDisconnect tears down a peer's connection: emits GossipDisconnected
// for every chain where gossip was open, then a Disconnected event, and
// clears connected/open-gossip state.
func (f *Fake) SimulateDisconnect(peer PeerId) {
	f.mu.Lock()
	cid, ok := f.connectedPeer[peer]
	if !ok {
		f.mu.Unlock()
		return
	}
	addr := f.connAddr[cid]
	for chain, peers := range f.openGossip {
		if kind, open := peers[peer]; open {
			f.pendingEvents = append(f.pendingEvents, GossipDisconnected{Peer: peer, Chain: chain, Kind: kind})
			delete(peers, peer)
		}
	}
	delete(f.connectedPeer, peer)
	delete(f.connAddr, cid)
	if drv, ok := f.connDrv[cid]; ok {
		close(drv.closed)
		delete(f.connDrv, cid)
	}
	f.pendingEvents = append(f.pendingEvents, Disconnected{ConnectionID: cid, Addr: addr, Peer: peer})
	f.mu.Unlock()
	f.wake()
}

// SimulateGossipOpenFailed emits a GossipOpenFailed event for (peer, chain).
func (f *Fake) SimulateGossipOpenFailed(peer PeerId, chain ChainId, err error) {
	f.PushEvent(GossipOpenFailed{Peer: peer, Chain: chain, Kind: GossipKindConsensusTransactions, Err: err})
}

// SimulateRequestResult emits a RequestResult event.
func (f *Fake) SimulateRequestResult(sid SubstreamId, kind RequestKind, result RequestResult) {
	result.SubstreamID = sid
	result.Kind = kind
	f.PushEvent(result)
}

// SimulateGossipInDesired emits a GossipInDesired (inbound) event.
func (f *Fake) SimulateGossipInDesired(peer PeerId, chain ChainId) {
	f.PushEvent(GossipInDesired{Peer: peer, Chain: chain, Kind: GossipKindConsensusTransactions})
}

// SimulateIdentifyRequestIn emits an IdentifyRequestIn event.
func (f *Fake) SimulateIdentifyRequestIn(sid SubstreamId) {
	f.PushEvent(IdentifyRequestIn{SubstreamID: sid})
}

// SetQueueFull toggles whether GossipSend* returns ErrQueueFull for peer.
func (f *Fake) SetQueueFull(peer PeerId, full bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueFullTargets[peer] = full
}

// SetTooLarge toggles whether storage/call proof requests to peer return
// ErrRequestTooLarge.
func (f *Fake) SetTooLarge(peer PeerId, tooLarge bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tooLargeTargets[peer] = tooLarge
}

// SentAnnouncements returns a snapshot of recorded GossipSendBlockAnnounce/
// GossipSendTransaction calls.
func (f *Fake) SentAnnouncements() []SentAnnouncement {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentAnnouncement, len(f.sentAnnouncements))
	copy(out, f.sentAnnouncements)
	return out
}

// IdentifyResponse returns the agent version sent in response to sid, if any.
func (f *Fake) IdentifyResponse(sid SubstreamId) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.identifyResponses[sid]
	return v, ok
}

// IsConnected reports whether peer currently has a simulated connection.
func (f *Fake) IsConnected(peer PeerId) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.connectedPeer[peer]
	return ok
}
