package netservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

func TestDiscoveryDriverDoublesIntervalUpToCap(t *testing.T) {
	platform := chainnet.NewFakePlatform(time.Now(), 1)
	cmds := make(chan command, 8)
	d := newDiscoveryDriver(platform, cmds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.run(ctx)

	interval := discoveryMinInterval
	for i := 0; i < 6; i++ {
		platform.Advance(interval)
		select {
		case cmd := <-cmds:
			_, ok := cmd.(cmdStartDiscovery)
			require.True(t, ok)
		case <-time.After(time.Second):
			t.Fatalf("round %d: discovery driver never fired", i)
		}
		interval *= 2
		if interval > discoveryMaxInterval {
			interval = discoveryMaxInterval
		}
	}
}

func TestDiscoveryDriverStopsOnCancel(t *testing.T) {
	platform := chainnet.NewFakePlatform(time.Now(), 1)
	cmds := make(chan command, 8)
	d := newDiscoveryDriver(platform, cmds)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("discovery driver did not stop after context cancellation")
	}
}
