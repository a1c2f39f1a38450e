package netservice

import (
	"log/slog"
	"time"

	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

// connectionOutboxCapacity bounds each per-connection outbound channel
// (spec.md §5's fixed channel capacities).
const connectionOutboxCapacity = 8

// dispatchTable is component C4 (spec.md §4.4): routes
// chainnet.CoordinatorToConnection messages to the right per-connection
// task's inbox. Only the coordinator goroutine ever calls Send or Register/
// Unregister, so like PeeringStrategy this needs no lock.
type dispatchTable struct {
	outboxes map[chainnet.ConnectionId]chan chainnet.CoordinatorToConnection
	warnAfter time.Duration
	log       *slog.Logger
}

func newDispatchTable(warnAfter time.Duration, log *slog.Logger) *dispatchTable {
	return &dispatchTable{
		outboxes:  make(map[chainnet.ConnectionId]chan chainnet.CoordinatorToConnection),
		warnAfter: warnAfter,
		log:       log,
	}
}

// Register creates cid's outbox and returns the receive end for the
// connection task to drain.
func (d *dispatchTable) Register(cid chainnet.ConnectionId) <-chan chainnet.CoordinatorToConnection {
	ch := make(chan chainnet.CoordinatorToConnection, connectionOutboxCapacity)
	d.outboxes[cid] = ch
	return ch
}

// Unregister closes and removes cid's outbox. Must only be called after the
// owning connection task has terminated.
func (d *dispatchTable) Unregister(cid chainnet.ConnectionId) {
	if ch, ok := d.outboxes[cid]; ok {
		close(ch)
		delete(d.outboxes, cid)
	}
}

// Send enqueues msg for cid, blocking the coordinator if the outbox is
// full. A slow or stuck connection task blocking the whole coordinator is a
// known architectural tradeoff (spec.md §4.4); Send logs a warning after
// warnAfter elapses instead of aborting, per the design notes' deadlock
// watchdog decision.
func (d *dispatchTable) Send(cid chainnet.ConnectionId, msg chainnet.CoordinatorToConnection) bool {
	ch, ok := d.outboxes[cid]
	if !ok {
		return false
	}

	select {
	case ch <- msg:
		return true
	default:
	}

	timer := time.NewTimer(d.warnAfter)
	defer timer.Stop()
	warned := false
	for {
		select {
		case ch <- msg:
			return true
		case <-timer.C:
			if !warned {
				d.log.Warn("dispatch send blocked past threshold", "connection_id", cid, "after", d.warnAfter)
				warned = true
			}
			timer.Reset(d.warnAfter)
		}
	}
}
