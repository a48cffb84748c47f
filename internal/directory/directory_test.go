package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"lessonbot/internal/transport"
)

type fakeRegistry struct {
	list  []transport.ChatTarget
	count int
	err   error

	countCalls int
}

func (f *fakeRegistry) ListAll(ctx context.Context) ([]transport.ChatTarget, error) {
	return f.list, f.err
}

func (f *fakeRegistry) Count(ctx context.Context) (int, error) {
	f.countCalls++
	return f.count, f.err
}

func TestCountIsCachedWithinTTL(t *testing.T) {
	reg := &fakeRegistry{count: 7}
	svc := New(reg, time.Minute)

	for i := 0; i < 3; i++ {
		n, err := svc.Count(context.Background())
		if err != nil || n != 7 {
			t.Fatalf("Count = %d, %v; want 7", n, err)
		}
	}
	if reg.countCalls != 1 {
		t.Fatalf("registry hit %d times within the TTL, want 1", reg.countCalls)
	}
}

func TestCountFailureIsNotCached(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("db locked")}
	svc := New(reg, time.Minute)

	if _, err := svc.Count(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	reg.err = nil
	reg.count = 3

	n, err := svc.Count(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Count after recovery = %d, %v; want 3", n, err)
	}
	if reg.countCalls != 2 {
		t.Fatalf("failure was cached; registry hit %d times, want 2", reg.countCalls)
	}
}

func TestListAllRecipientsBypassesCache(t *testing.T) {
	reg := &fakeRegistry{list: []transport.ChatTarget{{ChatID: 1}}}
	svc := New(reg, time.Minute)

	got, err := svc.ListAllRecipients(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("ListAllRecipients = %v, %v", got, err)
	}
	reg.list = append(reg.list, transport.ChatTarget{ChatID: 2})
	got, err = svc.ListAllRecipients(context.Background())
	if err != nil || len(got) != 2 {
		t.Fatalf("fanout must always see the live registry, got %v", got)
	}
}
