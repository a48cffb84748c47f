package broadcast

import (
	"context"
	"errors"
	"testing"

	tele "gopkg.in/telebot.v4"

	"lessonbot/internal/transport"
	"lessonbot/pkg/logx"
)

type fakeDirectory struct {
	targets []transport.ChatTarget
	err     error
}

func (d *fakeDirectory) ListAllRecipients(ctx context.Context) ([]transport.ChatTarget, error) {
	return d.targets, d.err
}

func targets(n int) []transport.ChatTarget {
	out := make([]transport.ChatTarget, n)
	for i := range out {
		out[i] = transport.ChatTarget{ChatID: int64(i + 1)}
	}
	return out
}

func newTestSender(fc *fakeClient, dir Directory) *Sender {
	return NewSender(dir, NewSafety(fc, logx.Nop()), 1000, logx.Nop())
}

func TestFanoutIsolatesRecipientFailures(t *testing.T) {
	const n = 5
	fc := &fakeClient{
		textErr: func(chatID int64) error {
			if chatID == 3 {
				return &tele.Error{Code: 502, Description: "Bad Gateway"}
			}
			return nil
		},
	}
	s := newTestSender(fc, &fakeDirectory{targets: targets(n)})

	stats, err := s.Send(context.Background(), Job{ID: 1, Content: Content{Text: "Hello"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if stats.Attempted != n {
		t.Fatalf("attempted = %d, want %d (failure must not stop the fanout)", stats.Attempted, n)
	}
	if stats.Delivered != n-1 || stats.Skipped != 1 {
		t.Fatalf("delivered/skipped = %d/%d, want %d/1", stats.Delivered, stats.Skipped, n-1)
	}
	if fc.textCount() != n-1 {
		t.Fatalf("successful sends = %d, want %d", fc.textCount(), n-1)
	}
}

func TestFanoutEmptyRecipientListIsSuccess(t *testing.T) {
	fc := &fakeClient{}
	s := newTestSender(fc, &fakeDirectory{})

	stats, err := s.Send(context.Background(), Job{ID: 1, Content: Content{Text: "Hello"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if stats.Attempted != 0 || fc.textCount() != 0 {
		t.Fatalf("expected zero attempts, got %+v", stats)
	}
}

func TestFanoutPropagatesDirectoryFailure(t *testing.T) {
	fc := &fakeClient{}
	s := newTestSender(fc, &fakeDirectory{err: errors.New("db locked")})

	if _, err := s.Send(context.Background(), Job{ID: 1, Content: Content{Text: "Hello"}}); err == nil {
		t.Fatalf("directory failure must escalate to the caller")
	}
	if fc.textCount() != 0 {
		t.Fatalf("no sends expected when the recipient list is unavailable")
	}
}

func TestFanoutForwardPathReappliesKeyboard(t *testing.T) {
	fc := &fakeClient{}
	kb := &Keyboard{Rows: [][]Button{{LinkButton{Label: "Open", URL: "https://x"}}}}
	s := newTestSender(fc, &fakeDirectory{targets: targets(3)})

	job := Job{ID: 2, Content: Content{AuthorID: 99, MessageID: 1234}, Keyboard: kb}
	stats, err := s.Send(context.Background(), job)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if stats.Delivered != 3 || len(fc.forwards) != 3 {
		t.Fatalf("forwards = %d (stats %+v), want 3", len(fc.forwards), stats)
	}
	if fc.markups != 3 {
		t.Fatalf("markup reapplied %d times, want 3", fc.markups)
	}
	if fc.textCount() != 0 || len(fc.media) != 0 {
		t.Fatalf("forward jobs must not use the inline send path")
	}
}

func TestFanoutSkipsOnBadStoredReference(t *testing.T) {
	fc := &fakeClient{}
	s := newTestSender(fc, &fakeDirectory{targets: targets(2)})

	job := Job{ID: 3, Content: Content{MediaKind: transport.MediaPhoto, MediaRef: "None"}}
	stats, err := s.Send(context.Background(), job)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if stats.Attempted != 2 || stats.Skipped != 2 || stats.Delivered != 0 {
		t.Fatalf("stats = %+v, want 2 attempted, 2 skipped", stats)
	}
	if len(fc.media) != 0 {
		t.Fatalf("poisoned reference must never reach the transport")
	}
}
