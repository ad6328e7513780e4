package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/uart-sampler/internal/link"
	"github.com/shaunagostinho/uart-sampler/internal/server"
)

type fakeConn struct {
	fails    int
	attempts int
}

func (f *fakeConn) Connect() error {
	f.attempts++
	if f.attempts <= f.fails {
		return errors.New("refused")
	}
	return nil
}

func (f *fakeConn) Close() error { return nil }

func TestConnectWithRetryFirstAttempt(t *testing.T) {
	c := &fakeConn{}
	connectWithRetry(context.Background(), "test", c, 3)
	require.Equal(t, 1, c.attempts)
}

func TestConnectWithRetryStopsOnCancel(t *testing.T) {
	c := &fakeConn{fails: 1000}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		connectWithRetry(ctx, "test", c, 3)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connectWithRetry ignored cancellation")
	}
	require.Equal(t, 1, c.attempts)
}

func TestOpenLinkLoopback(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Serial.Type = "loopback"

	tx, rx, closer, err := openLink(cfg)
	require.NoError(t, err)
	defer closer.Close()

	require.NoError(t, tx.Write(context.Background(), []byte{1, 2}))
	buf := make([]byte, 2)
	require.NoError(t, rx.ReadExact(context.Background(), buf))
	require.Equal(t, []byte{1, 2}, buf)
}

func TestOpenLinkMissingPort(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Serial.PortPath = "/dev/does-not-exist-uartsampler"

	_, _, _, err := openLink(cfg)
	var linkErr *link.Error
	require.True(t, errors.As(err, &linkErr))
	require.Equal(t, link.OpOpen, linkErr.Op)
}
