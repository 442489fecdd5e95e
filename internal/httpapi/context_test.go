package httpapi

import (
	"context"
	"testing"
	"time"
)

func waitDone(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context never canceled")
	}
}

func TestJoinContextsEndsOnClientDisconnect(t *testing.T) {
	client, disconnect := context.WithCancel(context.Background())
	ctx, cancel := joinContexts(context.Background(), client)
	defer cancel()

	disconnect()
	waitDone(t, ctx)
}

func TestJoinContextsEndsOnShutdown(t *testing.T) {
	base, shutdown := context.WithCancel(context.Background())
	ctx, cancel := joinContexts(base, context.Background())
	defer cancel()

	shutdown()
	waitDone(t, ctx)
}

func TestJoinContextsCancelReleases(t *testing.T) {
	ctx, cancel := joinContexts(context.Background(), context.Background())
	cancel()
	waitDone(t, ctx)
}
