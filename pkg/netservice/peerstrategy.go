package netservice

import (
	"time"

	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

// PeeringStrategy is component C1 (spec.md §4.1): the address book, per-
// (chain, peer) slot assignment, ban timers, and bounded address lists. It
// is only ever touched from the coordinator goroutine, so unlike
// pkg/p2pnet's PeerManager (which locks because multiple goroutines touch
// it) this type holds no mutex at all — the single-writer discipline is
// enforced by construction, not by runtime checks.
type PeeringStrategy struct {
	peers map[chainnet.PeerId]*peerRecord
	seq   uint64
}

// slotState mirrors spec.md §3's assignment-state enum. "connected" has no
// dedicated mutator among the documented C1 operations, so it is derived:
// a chain membership reads as connected once the peer is assigned AND has
// at least one address marked connected (addr_to_connected /
// insert_or_set_connected_address).
type slotState int

const (
	slotUnassigned slotState = iota
	slotAssignedNotConnected
	slotConnected
)

type chainMembership struct {
	score    int
	assigned bool
	seq      uint64
}

type addressEntry struct {
	addr      chainnet.Address
	score     int
	connected bool
	seq       uint64
}

type peerRecord struct {
	id       chainnet.PeerId
	chains   map[chainnet.ChainId]*chainMembership
	addrs    []addressEntry
	banUntil time.Time
}

func (p *peerRecord) hasConnectedAddr() bool {
	for _, a := range p.addrs {
		if a.connected {
			return true
		}
	}
	return false
}

func (p *peerRecord) bannedAt(now time.Time) bool {
	return !p.banUntil.IsZero() && now.Before(p.banUntil)
}

// NewPeeringStrategy constructs an empty C1 state.
func NewPeeringStrategy() *PeeringStrategy {
	return &PeeringStrategy{peers: make(map[chainnet.PeerId]*peerRecord)}
}

func (s *PeeringStrategy) getOrCreatePeer(peer chainnet.PeerId) *peerRecord {
	rec, ok := s.peers[peer]
	if !ok {
		rec = &peerRecord{id: peer, chains: make(map[chainnet.ChainId]*chainMembership)}
		s.peers[peer] = rec
	}
	return rec
}

// InsertChainPeer inserts peer into chain's membership, respecting a
// capacity of cap. If at capacity, evicts the lowest-priority
// non-connected-and-unassigned peer and returns its identity; if no
// evictable peer exists, the insertion is a no-op (spec.md §4.1).
//
// Addresses must be inserted via InsertAddress AFTER this call for a new
// peer, per invariant 2 (an address implies a known peer, never the reverse
// on its own).
func (s *PeeringStrategy) InsertChainPeer(chain chainnet.ChainId, peer chainnet.PeerId, cap int) (evicted chainnet.PeerId, didEvict bool) {
	if rec, known := s.peers[peer]; known {
		if _, already := rec.chains[chain]; already {
			return evicted, false
		}
	}

	count := s.chainMemberCount(chain)
	if count >= cap {
		victim, ok := s.lowestPriorityEvictable(chain, peer)
		if !ok {
			return evicted, false // no evictable peer: insertion is a no-op
		}
		s.removeChainMembership(chain, victim)
		evicted, didEvict = victim, true
	}

	rec := s.getOrCreatePeer(peer)
	s.seq++
	rec.chains[chain] = &chainMembership{seq: s.seq}
	return evicted, didEvict
}

func (s *PeeringStrategy) chainMemberCount(chain chainnet.ChainId) int {
	n := 0
	for _, rec := range s.peers {
		if _, ok := rec.chains[chain]; ok {
			n++
		}
	}
	return n
}

// lowestPriorityEvictable finds the non-assigned member of chain with the
// lowest score (ties broken by earliest insertion order), excluding
// candidate itself. Assigned peers are never eviction victims: an assigned
// slot is live work in progress.
func (s *PeeringStrategy) lowestPriorityEvictable(chain chainnet.ChainId, exclude chainnet.PeerId) (chainnet.PeerId, bool) {
	var victim chainnet.PeerId
	var victimMembership *chainMembership
	found := false
	for id, rec := range s.peers {
		if id == exclude {
			continue
		}
		m, ok := rec.chains[chain]
		if !ok || m.assigned {
			continue
		}
		if !found || m.score < victimMembership.score ||
			(m.score == victimMembership.score && m.seq < victimMembership.seq) {
			victim, victimMembership, found = id, m, true
		}
	}
	return victim, found
}

func (s *PeeringStrategy) removeChainMembership(chain chainnet.ChainId, peer chainnet.PeerId) {
	rec, ok := s.peers[peer]
	if !ok {
		return
	}
	delete(rec.chains, chain)
	s.pruneIfOrphaned(rec)
}

// pruneIfOrphaned removes a peer record entirely once it has no chain
// memberships and no addresses left. A peer with addresses but no chain
// membership is still kept (invariant 2 runs one direction only: addresses
// imply a known peer, not that every known peer has addresses).
func (s *PeeringStrategy) pruneIfOrphaned(rec *peerRecord) {
	if len(rec.chains) == 0 && len(rec.addrs) == 0 {
		delete(s.peers, rec.id)
	}
}

// InsertAddress adds addr to peer's bounded address list (capacity cap). On
// overflow, the lowest-scoring non-connected address is evicted. Returns
// whether peer was already known to C1.
func (s *PeeringStrategy) InsertAddress(peer chainnet.PeerId, addr chainnet.Address, cap int) (knownPeer bool) {
	rec, ok := s.peers[peer]
	if !ok {
		return false
	}
	for _, a := range rec.addrs {
		if a.addr.Equal(addr) {
			return true // already present
		}
	}

	if len(rec.addrs) >= cap {
		idx := s.lowestPriorityAddrIndex(rec)
		if idx < 0 {
			return true // every address connected: insertion is a no-op
		}
		rec.addrs = append(rec.addrs[:idx], rec.addrs[idx+1:]...)
	}

	s.seq++
	rec.addrs = append(rec.addrs, addressEntry{addr: addr, seq: s.seq})
	return true
}

func (s *PeeringStrategy) lowestPriorityAddrIndex(rec *peerRecord) int {
	best := -1
	for i, a := range rec.addrs {
		if a.connected {
			continue
		}
		if best < 0 || a.score < rec.addrs[best].score ||
			(a.score == rec.addrs[best].score && a.seq < rec.addrs[best].seq) {
			best = i
		}
	}
	return best
}

// AssignablePeerKind is the result tag for PickAssignablePeer.
type AssignablePeerKind int

const (
	NoPeer AssignablePeerKind = iota
	Assignable
	AllPeersBanned
)

// AssignablePeerResult is the outcome of PickAssignablePeer.
type AssignablePeerResult struct {
	Kind      AssignablePeerKind
	Peer      chainnet.PeerId
	NextUnban time.Time // valid only when Kind == AllPeersBanned
}

// PickAssignablePeer implements spec.md §4.1's pick_assignable_peer: a
// candidate must be a member of chain, not banned, not already assigned,
// and have at least one address.
func (s *PeeringStrategy) PickAssignablePeer(chain chainnet.ChainId, now time.Time) AssignablePeerResult {
	var anyCandidate bool
	var earliestUnban time.Time

	for id, rec := range s.peers {
		m, ok := rec.chains[chain]
		if !ok || m.assigned {
			continue
		}
		if len(rec.addrs) == 0 {
			continue
		}
		anyCandidate = true
		if rec.bannedAt(now) {
			if earliestUnban.IsZero() || rec.banUntil.Before(earliestUnban) {
				earliestUnban = rec.banUntil
			}
			continue
		}
		return AssignablePeerResult{Kind: Assignable, Peer: id}
	}

	if anyCandidate {
		return AssignablePeerResult{Kind: AllPeersBanned, NextUnban: earliestUnban}
	}
	return AssignablePeerResult{Kind: NoPeer}
}

// AssignSlot marks (chain, peer) as assigned. The caller (the coordinator's
// reconciliation step) is responsible for not exceeding num_out_slots;
// PickAssignablePeer only ever offers peers that are not yet assigned.
func (s *PeeringStrategy) AssignSlot(chain chainnet.ChainId, peer chainnet.PeerId) {
	rec, ok := s.peers[peer]
	if !ok {
		return
	}
	if m, ok := rec.chains[chain]; ok {
		m.assigned = true
	}
}

// UnassignSlotAndBan releases (chain, peer)'s slot and bans the peer until
// `until`. The ban is stored once per peer, so it applies on every chain the
// peer is a member of, not only on chain.
func (s *PeeringStrategy) UnassignSlotAndBan(chain chainnet.ChainId, peer chainnet.PeerId, until time.Time) {
	rec, ok := s.peers[peer]
	if !ok {
		return
	}
	if m, ok := rec.chains[chain]; ok {
		m.assigned = false
	}
	rec.banUntil = until
}

// UnassignSlotsAndBan releases every chain slot held by peer and bans it
// across all chains until `until`.
func (s *PeeringStrategy) UnassignSlotsAndBan(peer chainnet.PeerId, until time.Time) {
	rec, ok := s.peers[peer]
	if !ok {
		return
	}
	for _, m := range rec.chains {
		m.assigned = false
	}
	rec.banUntil = until
}

// UnassignSlotAndRemoveChainPeer releases the slot and purges peer from
// chain's membership entirely (used on genesis-mismatch, spec.md §4.5).
func (s *PeeringStrategy) UnassignSlotAndRemoveChainPeer(chain chainnet.ChainId, peer chainnet.PeerId) {
	rec, ok := s.peers[peer]
	if !ok {
		return
	}
	delete(rec.chains, chain)
	s.pruneIfOrphaned(rec)
}

// AddrToConnected picks an address for peer (by score, tie-broken by
// insertion order) and marks it connected. Deterministic per spec.md §4.1.
func (s *PeeringStrategy) AddrToConnected(peer chainnet.PeerId) (chainnet.Address, bool) {
	rec, ok := s.peers[peer]
	if !ok || len(rec.addrs) == 0 {
		return nil, false
	}
	best := 0
	for i := 1; i < len(rec.addrs); i++ {
		a, b := rec.addrs[i], rec.addrs[best]
		if a.score > b.score || (a.score == b.score && a.seq < b.seq) {
			best = i
		}
	}
	rec.addrs[best].connected = true
	return rec.addrs[best].addr, true
}

// InsertOrSetConnectedAddress inserts addr for peer if unknown, or marks an
// existing entry connected, with the given score. Used when the actual
// remote identity differs from the expected one post-handshake.
func (s *PeeringStrategy) InsertOrSetConnectedAddress(peer chainnet.PeerId, addr chainnet.Address, score int) {
	rec := s.getOrCreatePeer(peer)
	for i, a := range rec.addrs {
		if a.addr.Equal(addr) {
			rec.addrs[i].connected = true
			rec.addrs[i].score = score
			return
		}
	}
	s.seq++
	rec.addrs = append(rec.addrs, addressEntry{addr: addr, score: score, connected: true, seq: s.seq})
}

// DisconnectAddr clears the connected flag on peer's addr, if present.
func (s *PeeringStrategy) DisconnectAddr(peer chainnet.PeerId, addr chainnet.Address) {
	rec, ok := s.peers[peer]
	if !ok {
		return
	}
	for i, a := range rec.addrs {
		if a.addr.Equal(addr) {
			rec.addrs[i].connected = false
			return
		}
	}
}

// RemoveAddress removes addr from peer's address list. Returns whether it
// was present. Removing the last address does not itself remove the peer
// (invariant 2).
func (s *PeeringStrategy) RemoveAddress(peer chainnet.PeerId, addr chainnet.Address) bool {
	rec, ok := s.peers[peer]
	if !ok {
		return false
	}
	for i, a := range rec.addrs {
		if a.addr.Equal(addr) {
			rec.addrs = append(rec.addrs[:i], rec.addrs[i+1:]...)
			s.pruneIfOrphaned(rec)
			return true
		}
	}
	return false
}

// ChainPeersUnordered enumerates every peer with membership on chain. Order
// is stable within a single call but not guaranteed across calls (spec.md
// §4.1 tie-break note) — backed here by Go's map iteration.
func (s *PeeringStrategy) ChainPeersUnordered(chain chainnet.ChainId) []chainnet.PeerId {
	var out []chainnet.PeerId
	for id, rec := range s.peers {
		if _, ok := rec.chains[chain]; ok {
			out = append(out, id)
		}
	}
	return out
}

// PeerAddresses enumerates peer's known addresses.
func (s *PeeringStrategy) PeerAddresses(peer chainnet.PeerId) []chainnet.Address {
	rec, ok := s.peers[peer]
	if !ok {
		return nil
	}
	out := make([]chainnet.Address, len(rec.addrs))
	for i, a := range rec.addrs {
		out[i] = a.addr
	}
	return out
}

// SlotState reports the derived assignment state for (chain, peer), for
// tests and introspection.
func (s *PeeringStrategy) SlotState(chain chainnet.ChainId, peer chainnet.PeerId) slotState {
	rec, ok := s.peers[peer]
	if !ok {
		return slotUnassigned
	}
	m, ok := rec.chains[chain]
	if !ok || !m.assigned {
		return slotUnassigned
	}
	if rec.hasConnectedAddr() {
		return slotConnected
	}
	return slotAssignedNotConnected
}

// AssignedSlotCount returns the number of peers currently assigned a slot
// on chain, for invariant checks (I1).
func (s *PeeringStrategy) AssignedSlotCount(chain chainnet.ChainId) int {
	n := 0
	for _, rec := range s.peers {
		if m, ok := rec.chains[chain]; ok && m.assigned {
			n++
		}
	}
	return n
}
