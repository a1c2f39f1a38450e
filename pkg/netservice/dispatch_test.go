package netservice

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shurlinet/lightnet/pkg/netservice/chainnet"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchTableRegisterSendUnregister(t *testing.T) {
	d := newDispatchTable(time.Hour, discardLogger())
	inbox := d.Register(1)

	ok := d.Send(1, chainnet.CoordinatorToConnection{})
	require.True(t, ok)

	select {
	case <-inbox:
	case <-time.After(time.Second):
		t.Fatal("message never arrived in the registered inbox")
	}

	d.Unregister(1)
	_, open := <-inbox
	require.False(t, open, "inbox channel should be closed on unregister")
}

func TestDispatchTableSendUnknownConnection(t *testing.T) {
	d := newDispatchTable(time.Hour, discardLogger())
	require.False(t, d.Send(42, chainnet.CoordinatorToConnection{}))
}

func TestDispatchTableSendWarnsWithoutAborting(t *testing.T) {
	d := newDispatchTable(10*time.Millisecond, discardLogger())
	inbox := d.Register(1)

	for i := 0; i < connectionOutboxCapacity; i++ {
		require.True(t, d.Send(1, chainnet.CoordinatorToConnection{}))
	}

	done := make(chan struct{})
	go func() {
		d.Send(1, chainnet.CoordinatorToConnection{}) // blocks until drained below
		close(done)
	}()

	// Give the watchdog timer a chance to fire at least once before draining.
	time.Sleep(30 * time.Millisecond)
	for i := 0; i < connectionOutboxCapacity+1; i++ {
		<-inbox
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send never unblocked after the outbox was drained")
	}
}
