package broadcast

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"lessonbot/internal/transport"
	"lessonbot/pkg/logx"
)

// ErrorClass buckets transport failures so the fanout sender and the
// edit-safe helper can decide skip/degrade/pause uniformly.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassTransient
	ClassRateLimited
	ClassPermanentContent
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassPermanentContent:
		return "permanent_content"
	default:
		return "unknown"
	}
}

// ErrBadReference marks a stored reference rejected before any transport call.
var ErrBadReference = errors.New("invalid stored reference")

// DeliveryError is a classified per-recipient failure. Callers must treat it
// as "not delivered, continue", never as a reason to abort the job.
type DeliveryError struct {
	Class      ErrorClass
	RetryAfter time.Duration // only set for ClassRateLimited
	Err        error
}

func (e *DeliveryError) Error() string {
	return "delivery failed (" + e.Class.String() + "): " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Classify maps a transport error onto the taxonomy. Unclassifiable errors
// come back ClassUnknown; callers treat those like permanent failures so an
// unknown error can never cause a retry loop.
func Classify(err error) (ErrorClass, time.Duration) {
	if err == nil {
		return ClassUnknown, 0
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient, 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient, 0
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		desc := strings.ToLower(apiErr.Description)
		switch {
		case apiErr.Code == 429 || strings.Contains(desc, "too many requests"):
			return ClassRateLimited, parseRetryAfter(desc)
		case apiErr.Code >= 500:
			return ClassTransient, 0
		case apiErr.Code == 400, apiErr.Code == 403, apiErr.Code == 404:
			return ClassPermanentContent, 0
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "retry after"), strings.Contains(msg, "too many requests"):
		return ClassRateLimited, parseRetryAfter(msg)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "internal server error"), strings.Contains(msg, "bad gateway"):
		return ClassTransient, 0
	case strings.Contains(msg, "not found"), strings.Contains(msg, "blocked"),
		strings.Contains(msg, "deactivated"), strings.Contains(msg, "wrong file identifier"),
		strings.Contains(msg, "can't parse entities"), strings.Contains(msg, "message is not modified"),
		strings.Contains(msg, "can't be forwarded"), strings.Contains(msg, "chat not found"):
		return ClassPermanentContent, 0
	}
	return ClassUnknown, 0
}

// parseRetryAfter pulls the seconds hint out of a "retry after N"
// description. Returns 0 when absent.
func parseRetryAfter(desc string) time.Duration {
	const marker = "retry after "
	i := strings.Index(desc, marker)
	if i < 0 {
		return 0
	}
	rest := desc[i+len(marker):]
	n := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return time.Duration(n) * time.Second
}

// minReferenceLen is the shortest plausible Telegram file id. Real ids are
// much longer; anything shorter is a poisoned stored value.
const minReferenceLen = 8

var sentinelRefs = map[string]struct{}{
	"null": {}, "undefined": {}, "none": {}, "nil": {}, "false": {}, "0": {},
}

// ValidateReference rejects empty strings, stringified null sentinels, and
// implausibly short references before any transport call is attempted.
func ValidateReference(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" || len(ref) < minReferenceLen {
		return false
	}
	if _, bad := sentinelRefs[strings.ToLower(ref)]; bad {
		return false
	}
	return true
}

// Safety wraps the transport client with validation, diffing and degraded
// fallback so malformed or duplicate outgoing calls never reach the wire.
type Safety struct {
	client transport.Client
	log    logx.Logger
}

func NewSafety(client transport.Client, log logx.Logger) *Safety {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Safety{client: client, log: log}
}

// SendSafe delivers inline content to one recipient. On a permanent rejection
// of the media payload it retries once with the degraded text-only form; if
// that also fails it gives up. A nil MessageRef with a *DeliveryError means
// "not delivered, continue".
func (s *Safety) SendSafe(ctx context.Context, to transport.ChatTarget, content Content, opt *transport.SendOptions) (*transport.MessageRef, error) {
	if content.MediaRef == "" {
		ref, err := s.client.SendText(ctx, to, content.Text, opt)
		if err != nil {
			return nil, s.classified(to, "send_text", err)
		}
		return &ref, nil
	}

	if !ValidateReference(content.MediaRef) {
		s.log.Warn("rejected stored media reference", logx.Int64("chat_id", to.ChatID), logx.String("ref", content.MediaRef))
		return nil, &DeliveryError{Class: ClassPermanentContent, Err: ErrBadReference}
	}

	ref, err := s.client.SendMedia(ctx, to, content.MediaKind, content.MediaRef, content.Caption, opt)
	if err == nil {
		return &ref, nil
	}

	class, retryAfter := Classify(err)
	if class != ClassPermanentContent && class != ClassUnknown {
		return nil, &DeliveryError{Class: class, RetryAfter: retryAfter, Err: err}
	}

	// Degraded payload: drop the media, keep the words.
	text := content.Caption
	if text == "" {
		text = content.Text
	}
	if text == "" {
		return nil, &DeliveryError{Class: class, Err: err}
	}
	s.log.Debug("media rejected; degrading to text",
		logx.Int64("chat_id", to.ChatID), logx.String("kind", string(content.MediaKind)), logx.Err(err))
	fallback, ferr := s.client.SendText(ctx, to, text, opt)
	if ferr != nil {
		return nil, s.classified(to, "send_degraded", ferr)
	}
	return &fallback, nil
}

// ForwardSafe delivers referenced content by forwarding the authored message
// and reapplying the keyboard. Compatibility path for jobs composed without
// structured content.
func (s *Safety) ForwardSafe(ctx context.Context, to transport.ChatTarget, authorID int64, messageID int, markup any) (*transport.MessageRef, error) {
	ref, err := s.client.ForwardMessage(ctx, to, authorID, messageID)
	if err != nil {
		return nil, s.classified(to, "forward", err)
	}
	if markup != nil {
		if err := s.client.ApplyMarkup(ctx, ref, markup); err != nil {
			// The message is already delivered; a markup failure only loses
			// the buttons.
			class, _ := Classify(err)
			s.log.Warn("keyboard reapply failed after forward",
				logx.Int64("chat_id", to.ChatID), logx.String("class", class.String()), logx.Err(err))
		}
	}
	return &ref, nil
}

// EditSafe edits an existing message, skipping the transport entirely when
// nothing changed. Returns true when the target ends up showing the new
// content (including the benign "already gone" cases).
func (s *Safety) EditSafe(ctx context.Context, ref transport.MessageRef, existingText string, existingKB *Keyboard, newText string, newKB *Keyboard, opt *transport.SendOptions) bool {
	if existingText == newText && existingKB.Equal(newKB) {
		return true
	}

	editOpt := cloneOptions(opt)
	if m := newKB.Markup(); m != nil {
		editOpt.ReplyMarkup = m
	} else {
		editOpt.ReplyMarkup = nil
	}
	err := s.client.EditText(ctx, ref, newText, editOpt)
	if err == nil {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "message is not modified") {
		return true
	}

	class, _ := Classify(err)
	if class == ClassPermanentContent || class == ClassUnknown {
		if strings.Contains(msg, "message to edit not found") || strings.Contains(msg, "message can't be edited") {
			// Target is gone; replace it with a fresh message.
			_, serr := s.client.SendText(ctx, transport.ChatTarget{ChatID: ref.ChatID}, newText, editOpt)
			if serr != nil {
				s.log.Warn("edit fallback send failed", logx.Int64("chat_id", ref.ChatID), logx.Err(serr))
				return false
			}
			return true
		}
		if strings.Contains(msg, "not found") {
			// Ambiguous "not found": treat as benign, nothing left to edit.
			return true
		}
	}

	s.log.Warn("edit failed", logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID),
		logx.String("class", class.String()), logx.Err(err))
	return false
}

func (s *Safety) classified(to transport.ChatTarget, op string, err error) *DeliveryError {
	class, retryAfter := Classify(err)
	if class == ClassUnknown {
		s.log.Error("unclassified transport error", logx.Int64("chat_id", to.ChatID), logx.String("op", op), logx.Err(err))
	}
	return &DeliveryError{Class: class, RetryAfter: retryAfter, Err: err}
}

func cloneOptions(opt *transport.SendOptions) *transport.SendOptions {
	if opt == nil {
		return &transport.SendOptions{}
	}
	cp := *opt
	return &cp
}
