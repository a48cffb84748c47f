package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"lessonbot/internal/broadcast"
	"lessonbot/internal/eventbus"
	"lessonbot/internal/transport"
	"lessonbot/pkg/logx"
	"lessonbot/pkg/tgui"
)

// callbackNS tags the inline buttons this app owns.
const callbackNS = "bc"

const draftTTL = time.Hour

// draft is a broadcast awaiting admin confirmation. Drafts live in memory
// only; a restart discards unconfirmed ones.
type draft struct {
	text    string
	adminID int64
	created time.Time
}

func (a *App) updateLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			switch up.Kind {
			case transport.UpdateMessage:
				if up.Message != nil {
					a.handleMessage(ctx, up.Message)
				}
			case transport.UpdateCallback:
				if up.Callback != nil {
					a.handleCallback(ctx, up.Callback)
				}
			}
		}
	}
}

func (a *App) handleMessage(ctx context.Context, m *transport.Message) {
	text := strings.TrimSpace(m.Text)
	cmd, rest, _ := strings.Cut(text, " ")
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start":
		a.handleStart(ctx, m)
	case "/broadcast":
		a.handleBroadcast(ctx, m, strings.TrimSpace(rest))
	}
}

func (a *App) handleStart(ctx context.Context, m *transport.Message) {
	if m.IsGroup {
		return
	}
	if err := a.recipients.Upsert(ctx, m.ChatID, m.FromUsername); err != nil {
		a.log.Warn("recipient registration failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		return
	}
	_, _ = a.client.SendText(ctx, transport.ChatTarget{ChatID: m.ChatID},
		"Welcome! You'll get course updates and announcements here.", nil)
}

// handleBroadcast shows an admin a preview of the outgoing text and asks for
// confirmation before anything reaches the job store. The full authoring
// wizard (media, keyboards, scheduling) feeds the same store through the
// same Enqueue.
func (a *App) handleBroadcast(ctx context.Context, m *transport.Message, text string) {
	if !a.isAdmin(m.FromID) {
		return
	}
	to := transport.ChatTarget{ChatID: m.ChatID}
	if text == "" {
		_, _ = a.client.SendText(ctx, to, "Usage: /broadcast <text>", nil)
		return
	}

	token := newDraftToken()
	a.mu.Lock()
	for k, d := range a.drafts {
		if time.Since(d.created) > draftTTL {
			delete(a.drafts, k)
		}
	}
	a.drafts[token] = draft{text: text, adminID: m.FromID, created: time.Now()}
	a.mu.Unlock()

	yes, err := tgui.Data(callbackNS, "ok", token)
	if err != nil {
		a.log.Warn("confirm token too long", logx.Err(err))
		return
	}
	no, _ := tgui.Data(callbackNS, "no", token)

	n, err := a.dir.Count(ctx)
	if err != nil {
		a.log.Warn("recipient count unavailable", logx.Err(err))
	}
	preview := tgui.Lines(
		tgui.B("Broadcast preview"),
		tgui.Esc(tgui.TruncRunes(text, 3500)),
		tgui.I(fmt.Sprintf("Send to %d recipients?", n)),
	)
	_, err = a.client.SendText(ctx, to, string(preview), &transport.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		ReplyMarkup:    tgui.ConfirmMarkup("Send", yes, "Cancel", no),
	})
	if err != nil {
		a.log.Warn("broadcast preview failed", logx.Int64("admin", m.FromID), logx.Err(err))
	}
}

func (a *App) handleCallback(ctx context.Context, cb *transport.Callback) {
	ns, action, token := tgui.Split(strings.TrimSpace(cb.Data))
	if ns != callbackNS || !a.isAdmin(cb.FromID) {
		_ = a.client.AnswerCallback(ctx, cb.ID, "")
		return
	}

	a.mu.Lock()
	d, ok := a.drafts[token]
	delete(a.drafts, token)
	a.mu.Unlock()

	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if !ok {
		_ = a.client.AnswerCallback(ctx, cb.ID, "This prompt has expired.")
		_ = a.client.EditText(ctx, ref, "Broadcast prompt expired.", nil)
		return
	}

	if action != "ok" {
		_ = a.client.AnswerCallback(ctx, cb.ID, "Discarded.")
		_ = a.client.EditText(ctx, ref, "Broadcast discarded.", nil)
		return
	}

	id, err := a.jobs.Enqueue(ctx, time.Time{}, broadcast.Content{Text: d.text}, nil)
	if err != nil {
		a.log.Warn("broadcast enqueue failed", logx.Int64("admin", d.adminID), logx.Err(err))
		_ = a.client.AnswerCallback(ctx, cb.ID, "Could not schedule the broadcast.")
		return
	}
	a.bus.Publish(eventbus.Event{Topic: eventbus.TopicJobQueued, Data: eventbus.JobResult{JobID: id}})
	a.log.Info("broadcast scheduled by admin", logx.Int64("job", id), logx.Int64("admin", d.adminID))
	_ = a.client.AnswerCallback(ctx, cb.ID, "Scheduled.")
	_ = a.client.EditText(ctx, ref, fmt.Sprintf("Broadcast #%d scheduled. It will go out on the next tick.", id), nil)
}

// resultLoop tells admins how each broadcast ended.
func (a *App) resultLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Topic != eventbus.TopicJobFinished {
				continue
			}
			res, ok := e.Data.(eventbus.JobResult)
			if !ok {
				continue
			}
			msg := fmt.Sprintf("Broadcast #%d %s: delivered %d of %d, skipped %d.",
				res.JobID, res.Outcome, res.Delivered, res.Attempted, res.Skipped)
			for _, id := range a.adminIDs() {
				_, _ = a.client.SendText(ctx, transport.ChatTarget{ChatID: id}, msg, nil)
			}
		}
	}
}

func (a *App) adminIDs() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int64, 0, len(a.admins))
	for id := range a.admins {
		out = append(out, id)
	}
	return out
}

func newDraftToken() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
