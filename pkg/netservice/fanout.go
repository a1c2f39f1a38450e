package netservice

import (
	"context"
	"log/slog"
)

// subscriberCapacity bounds each subscriber's event channel (spec.md §5).
const subscriberCapacity = 16

// eventFanout is component C5 (spec.md §4.5/§4.8): delivers one Event at a
// time to every subscriber. Only one fan-out is ever in flight; the
// coordinator's select loop waits on its completion channel alongside every
// other input, mirroring the Rust background_task's finished_sending_event
// branch in its future chain (original network_service.rs). Subscribers
// that never unsubscribe keep their channel forever — there is no prune
// step, matching this service's "subscribe once, for the process lifetime"
// usage pattern.
type eventFanout struct {
	subs    []chan Event
	log     *slog.Logger
	metrics *metrics
}

func newEventFanout(log *slog.Logger, m *metrics) *eventFanout {
	return &eventFanout{log: log, metrics: m}
}

// Subscribe registers a new receiver and returns its channel.
func (f *eventFanout) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberCapacity)
	f.subs = append(f.subs, ch)
	return ch
}

// Publish starts delivering ev to every current subscriber and returns a
// channel that closes once delivery completes. Subscribers are fixed at
// construction and are contractually supposed to stay open and draining for
// the service's lifetime (spec.md §4.4): a subscriber whose buffer is
// merely full blocks this goroutine until it has room or ctx is done,
// stalling only fan-out (not the coordinator's main loop, since Publish
// already runs off of it) per spec.md §5's backpressure rule. Only ctx
// cancellation (service shutdown) aborts an in-flight send early.
func (f *eventFanout) Publish(ctx context.Context, ev Event) <-chan struct{} {
	done := make(chan struct{})
	subs := f.subs
	if len(subs) == 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		for _, ch := range subs {
			select {
			case ch <- ev:
			default:
				f.metrics.fanoutBlockedTotal.Inc()
				select {
				case ch <- ev:
				case <-ctx.Done():
					f.log.Debug("event fanout abandoned: context done")
					f.metrics.fanoutDroppedTotal.Inc()
					return
				}
			}
		}
	}()
	return done
}
