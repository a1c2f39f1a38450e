package netservice

import (
	"time"

	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

// resultSlot is the Go analogue of a Rust oneshot sender: a capacity-1
// channel that the coordinator fulfils exactly once when the matching
// RequestResult event arrives (spec.md §4.3's request registry).
type resultSlot[T any] chan T

func (s resultSlot[T]) fulfil(v T) {
	select {
	case s <- v:
	default:
		// Already fulfilled or abandoned by a caller that gave up; dropping
		// here matches the registry's "fulfil at most once" contract.
	}
}

// blocksResult, warpSyncResult, storageProofResult, and callProofResult
// mirror chainnet.RequestResult's payload/error split, typed per request
// kind so callers don't need to inspect an untyped union.
type blocksResult struct {
	data []byte
	err  error
}

type warpSyncResult struct {
	data []byte
	err  error
}

type storageProofResult struct {
	data []byte
	err  error
}

type callProofResult struct {
	data []byte
	err  error
}

// requestRegistry is component C3 (spec.md §4.3): four maps from
// substream ID to a pending result slot, keyed by request kind, plus a
// fifth tracking which chain a find-node probe belongs to (find-node
// results are consumed internally by the coordinator, not exposed to
// callers, so no caller-facing slot is needed for it).
type requestRegistry struct {
	blocks       map[chainnet.SubstreamId]resultSlot[blocksResult]
	warpSync     map[chainnet.SubstreamId]resultSlot[warpSyncResult]
	storageProof map[chainnet.SubstreamId]resultSlot[storageProofResult]
	callProof    map[chainnet.SubstreamId]resultSlot[callProofResult]
	findNode     map[chainnet.SubstreamId]chainnet.ChainId
	startedAt    map[chainnet.SubstreamId]time.Time
}

func newRequestRegistry() *requestRegistry {
	return &requestRegistry{
		blocks:       make(map[chainnet.SubstreamId]resultSlot[blocksResult]),
		warpSync:     make(map[chainnet.SubstreamId]resultSlot[warpSyncResult]),
		storageProof: make(map[chainnet.SubstreamId]resultSlot[storageProofResult]),
		callProof:    make(map[chainnet.SubstreamId]resultSlot[callProofResult]),
		findNode:     make(map[chainnet.SubstreamId]chainnet.ChainId),
		startedAt:    make(map[chainnet.SubstreamId]time.Time),
	}
}

// elapsedSince returns the duration since sid was registered and forgets
// the start time; zero if sid was never stamped (find-node requests don't
// stamp one, since their duration isn't caller-facing).
func (r *requestRegistry) elapsedSince(sid chainnet.SubstreamId, now time.Time) time.Duration {
	start, ok := r.startedAt[sid]
	if !ok {
		return 0
	}
	delete(r.startedAt, sid)
	return now.Sub(start)
}

// registerBlocks/registerWarpSync/registerStorageProof/registerCallProof
// take the caller-supplied reply channel directly as the result slot: since
// resultSlot[T] is defined as chan T, a command's Result channel (allocated
// with capacity 1 by its constructor in service.go) already satisfies the
// one-shot contract, so no separate channel or forwarding goroutine is
// needed.
func (r *requestRegistry) registerBlocks(sid chainnet.SubstreamId, reply chan blocksResult, now time.Time) {
	r.blocks[sid] = resultSlot[blocksResult](reply)
	r.startedAt[sid] = now
}

func (r *requestRegistry) registerWarpSync(sid chainnet.SubstreamId, reply chan warpSyncResult, now time.Time) {
	r.warpSync[sid] = resultSlot[warpSyncResult](reply)
	r.startedAt[sid] = now
}

func (r *requestRegistry) registerStorageProof(sid chainnet.SubstreamId, reply chan storageProofResult, now time.Time) {
	r.storageProof[sid] = resultSlot[storageProofResult](reply)
	r.startedAt[sid] = now
}

func (r *requestRegistry) registerCallProof(sid chainnet.SubstreamId, reply chan callProofResult, now time.Time) {
	r.callProof[sid] = resultSlot[callProofResult](reply)
	r.startedAt[sid] = now
}

func (r *requestRegistry) registerFindNode(sid chainnet.SubstreamId, chain chainnet.ChainId) {
	r.findNode[sid] = chain
}

// resolve dispatches an incoming chainnet.RequestResult to its owning map,
// fulfils the slot if one is waiting, and removes the registry entry. A
// RequestResult with no matching entry is silently dropped.
func (r *requestRegistry) resolve(res chainnet.RequestResult) {
	switch res.Kind {
	case chainnet.RequestKindBlocks:
		if slot, ok := r.blocks[res.SubstreamID]; ok {
			slot.fulfil(blocksResult{data: res.BlocksResult, err: res.Err})
			delete(r.blocks, res.SubstreamID)
		}
	case chainnet.RequestKindWarpSync:
		if slot, ok := r.warpSync[res.SubstreamID]; ok {
			slot.fulfil(warpSyncResult{data: res.WarpSyncResult, err: res.Err})
			delete(r.warpSync, res.SubstreamID)
		}
	case chainnet.RequestKindStorageProof:
		if slot, ok := r.storageProof[res.SubstreamID]; ok {
			slot.fulfil(storageProofResult{data: res.StorageProofResult, err: res.Err})
			delete(r.storageProof, res.SubstreamID)
		}
	case chainnet.RequestKindCallProof:
		if slot, ok := r.callProof[res.SubstreamID]; ok {
			slot.fulfil(callProofResult{data: res.CallProofResult, err: res.Err})
			delete(r.callProof, res.SubstreamID)
		}
	case chainnet.RequestKindFindNode:
		delete(r.findNode, res.SubstreamID)
	}
}
