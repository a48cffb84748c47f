// Package transport defines the platform-neutral messaging boundary.
//
// The broadcast engine and the bot front-end only talk to Client; the
// Telegram implementation lives in transport/telegram. A single Client is
// constructed at startup and injected everywhere — there is no ambient
// global bot handle.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// ChatTarget identifies one recipient chat.
type ChatTarget struct {
	ChatID int64
}

// MessageRef identifies an already-delivered message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// MediaKind enumerates the media payloads the bot sends.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyMarkup is adapter-specific markup (Telegram: *telebot.ReplyMarkup).
	ReplyMarkup any
}

// Client is the thin operation set against the chat platform.
type Client interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, kind MediaKind, ref string, caption string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	ForwardMessage(ctx context.Context, to ChatTarget, sourceChatID int64, sourceMessageID int) (MessageRef, error)
	ApplyMarkup(ctx context.Context, ref MessageRef, markup any) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
