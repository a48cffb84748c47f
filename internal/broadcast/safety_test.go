package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"lessonbot/internal/transport"
	"lessonbot/pkg/logx"
)

// fakeClient records calls and fails on demand. Shared by the safety,
// fanout and scheduler tests.
type fakeClient struct {
	mu sync.Mutex

	texts    []fakeSend
	media    []fakeSend
	edits    int
	forwards []int64
	markups  int
	deletes  int

	textErr    func(chatID int64) error
	mediaErr   func(chatID int64) error
	editErr    error
	forwardErr func(chatID int64) error
	markupErr  error

	nextID int
}

type fakeSend struct {
	chatID int64
	text   string
}

func (f *fakeClient) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeClient) Stop(ctx context.Context) error                              { return nil }
func (f *fakeClient) AnswerCallback(ctx context.Context, id, text string) error   { return nil }

func (f *fakeClient) ref(chatID int64) transport.MessageRef {
	f.nextID++
	return transport.MessageRef{ChatID: chatID, MessageID: f.nextID}
}

func (f *fakeClient) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		if err := f.textErr(to.ChatID); err != nil {
			return transport.MessageRef{}, err
		}
	}
	f.texts = append(f.texts, fakeSend{chatID: to.ChatID, text: text})
	return f.ref(to.ChatID), nil
}

func (f *fakeClient) SendMedia(ctx context.Context, to transport.ChatTarget, kind transport.MediaKind, ref, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mediaErr != nil {
		if err := f.mediaErr(to.ChatID); err != nil {
			return transport.MessageRef{}, err
		}
	}
	f.media = append(f.media, fakeSend{chatID: to.ChatID, text: caption})
	return f.ref(to.ChatID), nil
}

func (f *fakeClient) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits++
	return f.editErr
}

func (f *fakeClient) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return nil
}

func (f *fakeClient) ForwardMessage(ctx context.Context, to transport.ChatTarget, sourceChatID int64, sourceMessageID int) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forwardErr != nil {
		if err := f.forwardErr(to.ChatID); err != nil {
			return transport.MessageRef{}, err
		}
	}
	f.forwards = append(f.forwards, to.ChatID)
	return f.ref(to.ChatID), nil
}

func (f *fakeClient) ApplyMarkup(ctx context.Context, ref transport.MessageRef, markup any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markups++
	return f.markupErr
}

func (f *fakeClient) textCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func TestValidateReference(t *testing.T) {
	cases := []struct {
		ref  string
		want bool
	}{
		{"", false},
		{"   ", false},
		{"None", false},
		{"null", false},
		{"UNDEFINED", false},
		{"false", false},
		{"0", false},
		{"abc", false}, // below minimum plausible length
		{"AgACAgIAAxkBAAIB", true},
		{"  AgACAgIAAxkBAAIB  ", true},
	}
	for _, tc := range cases {
		if got := ValidateReference(tc.ref); got != tc.want {
			t.Errorf("ValidateReference(%q) = %v, want %v", tc.ref, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil context deadline", context.DeadlineExceeded, ClassTransient},
		{"api 500", &tele.Error{Code: 502, Description: "Bad Gateway"}, ClassTransient},
		{"api 429", &tele.Error{Code: 429, Description: "Too Many Requests: retry after 14"}, ClassRateLimited},
		{"blocked", &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}, ClassPermanentContent},
		{"bad file id", &tele.Error{Code: 400, Description: "Bad Request: wrong file identifier/HTTP URL specified"}, ClassPermanentContent},
		{"chat not found", &tele.Error{Code: 400, Description: "Bad Request: chat not found"}, ClassPermanentContent},
		{"plain not found", errors.New("telegram: message to edit not found (400)"), ClassPermanentContent},
		{"plain retry after", errors.New("telegram: retry after 30 (429)"), ClassRateLimited},
		{"opaque", errors.New("something odd happened"), ClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := Classify(tc.err)
			if got != tc.want {
				t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyRetryAfterHint(t *testing.T) {
	_, after := Classify(&tele.Error{Code: 429, Description: "Too Many Requests: retry after 14"})
	if after != 14*time.Second {
		t.Fatalf("retry after = %v, want 14s", after)
	}
}

func TestSendSafeRejectsBadReferenceWithoutTransportCall(t *testing.T) {
	fc := &fakeClient{}
	s := NewSafety(fc, logx.Nop())

	for _, ref := range []string{"", "None", "abc"} {
		got, err := s.SendSafe(context.Background(), transport.ChatTarget{ChatID: 1},
			Content{MediaKind: transport.MediaPhoto, MediaRef: ref, Caption: "hi"}, nil)
		if got != nil {
			t.Fatalf("SendSafe(ref=%q) delivered, want nil", ref)
		}
		var derr *DeliveryError
		if !errors.As(err, &derr) || !errors.Is(err, ErrBadReference) {
			t.Fatalf("SendSafe(ref=%q) err = %v, want ErrBadReference", ref, err)
		}
	}
	if len(fc.media) != 0 || len(fc.texts) != 0 {
		t.Fatalf("transport was called for invalid references")
	}
}

func TestSendSafeDegradesMediaToText(t *testing.T) {
	fc := &fakeClient{
		mediaErr: func(int64) error {
			return &tele.Error{Code: 400, Description: "Bad Request: wrong file identifier/HTTP URL specified"}
		},
	}
	s := NewSafety(fc, logx.Nop())

	ref, err := s.SendSafe(context.Background(), transport.ChatTarget{ChatID: 7},
		Content{MediaKind: transport.MediaPhoto, MediaRef: "AgACAgIAAxkBAAIB", Caption: "lesson is live"}, nil)
	if err != nil || ref == nil {
		t.Fatalf("SendSafe = %v, %v; want degraded delivery", ref, err)
	}
	if len(fc.texts) != 1 || fc.texts[0].text != "lesson is live" {
		t.Fatalf("expected degraded text send, got %+v", fc.texts)
	}
}

func TestSendSafeDoesNotDegradeOnTransient(t *testing.T) {
	fc := &fakeClient{
		mediaErr: func(int64) error { return &tele.Error{Code: 502, Description: "Bad Gateway"} },
	}
	s := NewSafety(fc, logx.Nop())

	ref, err := s.SendSafe(context.Background(), transport.ChatTarget{ChatID: 7},
		Content{MediaKind: transport.MediaPhoto, MediaRef: "AgACAgIAAxkBAAIB", Caption: "hi"}, nil)
	if ref != nil {
		t.Fatalf("expected no delivery on transient failure")
	}
	var derr *DeliveryError
	if !errors.As(err, &derr) || derr.Class != ClassTransient {
		t.Fatalf("err = %v, want transient DeliveryError", err)
	}
	if len(fc.texts) != 0 {
		t.Fatalf("transient failures must not trigger the degraded path")
	}
}

func TestEditSafeSkipsTransportWhenUnchanged(t *testing.T) {
	fc := &fakeClient{editErr: errors.New("must not be called")}
	s := NewSafety(fc, logx.Nop())

	kb := &Keyboard{Rows: [][]Button{{LinkButton{Label: "A", URL: "https://x"}}}}
	same := &Keyboard{Rows: [][]Button{{LinkButton{Label: "A", URL: "https://x"}}}}

	if !s.EditSafe(context.Background(), transport.MessageRef{ChatID: 1, MessageID: 2}, "Hi", kb, "Hi", same, nil) {
		t.Fatalf("identical content should report success")
	}
	if !s.EditSafe(context.Background(), transport.MessageRef{ChatID: 1, MessageID: 2}, "Hi", nil, "Hi", nil, nil) {
		t.Fatalf("identical text with no keyboards should report success")
	}
	if fc.edits != 0 {
		t.Fatalf("edit was called %d times for unchanged content", fc.edits)
	}
}

func TestEditSafeFallsBackToFreshSend(t *testing.T) {
	fc := &fakeClient{
		editErr: &tele.Error{Code: 400, Description: "Bad Request: message to edit not found"},
	}
	s := NewSafety(fc, logx.Nop())

	ok := s.EditSafe(context.Background(), transport.MessageRef{ChatID: 1, MessageID: 2}, "old", nil, "new", nil, nil)
	if !ok {
		t.Fatalf("fallback send should report success")
	}
	if fc.edits != 1 || len(fc.texts) != 1 || fc.texts[0].text != "new" {
		t.Fatalf("expected one edit attempt and one fallback send, got edits=%d texts=%+v", fc.edits, fc.texts)
	}
}

func TestEditSafeTreatsAmbiguousNotFoundAsBenign(t *testing.T) {
	fc := &fakeClient{editErr: &tele.Error{Code: 404, Description: "Not Found"}}
	s := NewSafety(fc, logx.Nop())

	if !s.EditSafe(context.Background(), transport.MessageRef{ChatID: 1, MessageID: 2}, "old", nil, "new", nil, nil) {
		t.Fatalf("ambiguous not-found should be benign")
	}
	if len(fc.texts) != 0 {
		t.Fatalf("benign not-found must not trigger a fallback send")
	}
}

func TestEditSafeReportsFailureOnTransient(t *testing.T) {
	fc := &fakeClient{editErr: &tele.Error{Code: 502, Description: "Bad Gateway"}}
	s := NewSafety(fc, logx.Nop())

	if s.EditSafe(context.Background(), transport.MessageRef{ChatID: 1, MessageID: 2}, "old", nil, "new", nil, nil) {
		t.Fatalf("transient edit failure should report false")
	}
}
