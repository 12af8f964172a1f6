package live

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/atelierlive/atelier/pkg/core"
	"github.com/atelierlive/atelier/pkg/upstream"
)

type blockingClient struct{}

func (blockingClient) Connect(ctx context.Context) (upstream.LiveSession, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestManager_CreateGetClose(t *testing.T) {
	m := NewManager(blockingClient{}, &verdictShield{}, ManagerConfig{
		SampleInterval: time.Second,
	}, slog.Default())

	sess, err := m.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("empty session id")
	}
	if m.Count() != 1 {
		t.Fatalf("count=%d, want 1", m.Count())
	}

	got, err := m.Get(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != sess {
		t.Fatal("get returned a different session")
	}

	_, err = m.Get("no-such-id")
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Kind != core.KindSessionNotFound {
		t.Fatalf("err=%v, want session_not_found", err)
	}

	m.Close(sess.ID, "test teardown")
	if m.Count() != 0 {
		t.Fatalf("count=%d after close", m.Count())
	}
	m.Close(sess.ID, "again") // idempotent

	if _, err := m.Get(sess.ID); err == nil {
		t.Fatal("closed session still resolvable")
	}
}
