package replica

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func TestRedisStoreSaveAndGet(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	r := Replica{
		ID:        "rep-1",
		Resource:  "i-primary",
		Tenant:    "acme",
		Mode:      ModeAuto,
		State:     StateLaunching,
		PoolID:    "us-east-1/us-east-1b/t3.medium",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, "rep-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Resource != r.Resource || got.State != r.State || got.PoolID != r.PoolID {
		t.Errorf("got %+v, want %+v", got, r)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: err = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreLiveIndexFollowsState(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	r := Replica{ID: "rep-1", Resource: "i-primary", Mode: ModeAuto, State: StateLaunching}
	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	live, exists, err := s.LiveForResource(ctx, "i-primary")
	if err != nil || !exists || live.ID != "rep-1" {
		t.Fatalf("expected rep-1 live, got exists=%v live=%+v err=%v", exists, live, err)
	}

	r.State = StateReady
	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("Save ready: %v", err)
	}
	if _, exists, _ = s.LiveForResource(ctx, "i-primary"); !exists {
		t.Fatal("ready replica must still be live")
	}

	r.State = StateTerminated
	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("Save terminated: %v", err)
	}
	if _, exists, _ = s.LiveForResource(ctx, "i-primary"); exists {
		t.Error("terminated replica must not be live")
	}
}

func TestRedisStoreLiveIndexNotStolenByFinishedReplica(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	old := Replica{ID: "rep-old", Resource: "i-primary", Mode: ModeManual, State: StatePromoted}
	cur := Replica{ID: "rep-new", Resource: "i-primary", Mode: ModeManual, State: StateLaunching}
	if err := s.Save(ctx, cur); err != nil {
		t.Fatalf("Save current: %v", err)
	}
	// Re-saving a finished replica must not clear the new owner's index.
	if err := s.Save(ctx, old); err != nil {
		t.Fatalf("Save old: %v", err)
	}

	live, exists, err := s.LiveForResource(ctx, "i-primary")
	if err != nil || !exists || live.ID != "rep-new" {
		t.Errorf("live index corrupted: exists=%v live=%+v err=%v", exists, live, err)
	}
}
