package netservice

import (
	"context"
	"time"

	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

// discoveryMinInterval and discoveryMaxInterval bound the exponential
// backoff the discovery driver (C7) applies between find-node rounds: it
// starts at discoveryMinInterval and doubles on every tick up to
// discoveryMaxInterval (spec.md §4.7).
const (
	discoveryMinInterval = 5 * time.Second
	discoveryMaxInterval = 120 * time.Second
)

// discoveryDriver periodically nudges the coordinator to run a discovery
// round by sending cmdStartDiscovery, doubling its own interval each time
// up to a cap. It holds no reference to chainnet.Network: all state lives
// in the coordinator, which is the sole caller of Network methods.
type discoveryDriver struct {
	platform chainnet.Platform
	cmds     chan<- command
	interval time.Duration
}

func newDiscoveryDriver(platform chainnet.Platform, cmds chan<- command) *discoveryDriver {
	return &discoveryDriver{platform: platform, cmds: cmds, interval: discoveryMinInterval}
}

// run blocks until ctx is canceled, sending cmdStartDiscovery on the
// doubling schedule described above.
func (d *discoveryDriver) run(ctx context.Context) {
	for {
		next := d.platform.Now().Add(d.interval)
		select {
		case <-ctx.Done():
			return
		case <-d.platform.SleepUntil(ctx, next):
		}

		select {
		case <-ctx.Done():
			return
		case d.cmds <- cmdStartDiscovery{}:
		}

		d.interval *= 2
		if d.interval > discoveryMaxInterval {
			d.interval = discoveryMaxInterval
		}
	}
}
