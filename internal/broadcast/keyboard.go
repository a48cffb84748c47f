package broadcast

import (
	"bytes"
	"encoding/json"

	tele "gopkg.in/telebot.v4"
)

// Keyboard is the parsed inline-keyboard payload attached to a job.
//
// The wire format is Telegram's inline_keyboard JSON:
//
//	{"inline_keyboard": [[{"text": "...", "url": "..."} | {"text": "...", "callback_data": "..."}], ...]}
//
// It is parsed once at enqueue time; malformed shapes are rejected there
// instead of surfacing during render.
type Keyboard struct {
	Rows [][]Button
}

// Button is either a LinkButton or an ActionButton.
type Button interface {
	label() string
}

// LinkButton opens a URL when tapped.
type LinkButton struct {
	Label string
	URL   string
}

// ActionButton fires a callback with an opaque action token.
type ActionButton struct {
	Label       string
	ActionToken string
}

func (b LinkButton) label() string   { return b.Label }
func (b ActionButton) label() string { return b.Label }

type wireButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

type wireKeyboard struct {
	InlineKeyboard [][]wireButton `json:"inline_keyboard"`
}

// ParseKeyboard validates and parses the wire format. A nil result with a nil
// error means "no keyboard" (empty input).
func ParseKeyboard(raw []byte) (*Keyboard, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var wk wireKeyboard
	if err := dec.Decode(&wk); err != nil {
		return nil, &ValidationError{Reason: "keyboard: " + err.Error()}
	}
	if len(wk.InlineKeyboard) == 0 {
		return nil, &ValidationError{Reason: "keyboard: inline_keyboard is empty"}
	}
	kb := &Keyboard{Rows: make([][]Button, 0, len(wk.InlineKeyboard))}
	for _, row := range wk.InlineKeyboard {
		if len(row) == 0 {
			return nil, &ValidationError{Reason: "keyboard: empty button row"}
		}
		parsed := make([]Button, 0, len(row))
		for _, b := range row {
			btn, err := parseButton(b)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, btn)
		}
		kb.Rows = append(kb.Rows, parsed)
	}
	return kb, nil
}

func parseButton(b wireButton) (Button, error) {
	if b.Text == "" {
		return nil, &ValidationError{Reason: "keyboard: button without text"}
	}
	switch {
	case b.URL != "" && b.CallbackData != "":
		return nil, &ValidationError{Reason: "keyboard: button has both url and callback_data"}
	case b.URL != "":
		return LinkButton{Label: b.Text, URL: b.URL}, nil
	case b.CallbackData != "":
		return ActionButton{Label: b.Text, ActionToken: b.CallbackData}, nil
	default:
		return nil, &ValidationError{Reason: "keyboard: button needs url or callback_data"}
	}
}

// MarshalJSON serializes back into the wire format, byte-stable for equal
// keyboards so stored rows and diff checks compare reliably.
func (k *Keyboard) MarshalJSON() ([]byte, error) {
	wk := wireKeyboard{InlineKeyboard: make([][]wireButton, 0, len(k.Rows))}
	for _, row := range k.Rows {
		wr := make([]wireButton, 0, len(row))
		for _, b := range row {
			switch btn := b.(type) {
			case LinkButton:
				wr = append(wr, wireButton{Text: btn.Label, URL: btn.URL})
			case ActionButton:
				wr = append(wr, wireButton{Text: btn.Label, CallbackData: btn.ActionToken})
			}
		}
		wk.InlineKeyboard = append(wk.InlineKeyboard, wr)
	}
	return json.Marshal(wk)
}

func (k *Keyboard) UnmarshalJSON(raw []byte) error {
	parsed, err := ParseKeyboard(raw)
	if err != nil {
		return err
	}
	if parsed == nil {
		k.Rows = nil
		return nil
	}
	k.Rows = parsed.Rows
	return nil
}

// Equal compares two keyboards structurally. Nil equals nil.
func (k *Keyboard) Equal(other *Keyboard) bool {
	if k == nil || other == nil {
		return k == other
	}
	a, err := k.MarshalJSON()
	if err != nil {
		return false
	}
	b, err := other.MarshalJSON()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Markup renders the keyboard for the Telegram transport. Nil-safe.
func (k *Keyboard) Markup() *tele.ReplyMarkup {
	if k == nil || len(k.Rows) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	rows := make([][]tele.InlineButton, 0, len(k.Rows))
	for _, row := range k.Rows {
		btns := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			switch btn := b.(type) {
			case LinkButton:
				btns = append(btns, tele.InlineButton{Text: btn.Label, URL: btn.URL})
			case ActionButton:
				btns = append(btns, tele.InlineButton{Text: btn.Label, Data: btn.ActionToken})
			}
		}
		rows = append(rows, btns)
	}
	rm.InlineKeyboard = rows
	return rm
}
