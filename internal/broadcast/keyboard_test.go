package broadcast

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseKeyboardValid(t *testing.T) {
	raw := []byte(`{"inline_keyboard":[[{"text":"Open","url":"https://x"},{"text":"Buy","callback_data":"buy:1"}]]}`)
	kb, err := ParseKeyboard(raw)
	if err != nil {
		t.Fatalf("ParseKeyboard: %v", err)
	}
	if kb == nil || len(kb.Rows) != 1 || len(kb.Rows[0]) != 2 {
		t.Fatalf("unexpected shape: %+v", kb)
	}
	link, ok := kb.Rows[0][0].(LinkButton)
	if !ok || link.Label != "Open" || link.URL != "https://x" {
		t.Fatalf("expected link button, got %#v", kb.Rows[0][0])
	}
	action, ok := kb.Rows[0][1].(ActionButton)
	if !ok || action.Label != "Buy" || action.ActionToken != "buy:1" {
		t.Fatalf("expected action button, got %#v", kb.Rows[0][1])
	}
}

func TestParseKeyboardRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing text", `{"inline_keyboard":[[{"url":"https://x"}]]}`},
		{"no url or callback", `{"inline_keyboard":[[{"text":"A"}]]}`},
		{"both url and callback", `{"inline_keyboard":[[{"text":"A","url":"https://x","callback_data":"a"}]]}`},
		{"empty rows", `{"inline_keyboard":[]}`},
		{"empty row", `{"inline_keyboard":[[]]}`},
		{"unknown field", `{"inline_keyboard":[[{"text":"A","url":"https://x","web_app":{}}]]}`},
		{"not json", `inline_keyboard`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseKeyboard([]byte(tc.raw))
			if err == nil {
				t.Fatalf("expected validation error for %q", tc.raw)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestParseKeyboardEmptyInputMeansNoKeyboard(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte(""), []byte("  ")} {
		kb, err := ParseKeyboard(raw)
		if err != nil || kb != nil {
			t.Fatalf("ParseKeyboard(%q) = %v, %v; want nil, nil", raw, kb, err)
		}
	}
}

func TestKeyboardRoundTrip(t *testing.T) {
	raw := []byte(`{"inline_keyboard":[[{"text":"Open","url":"https://x"}],[{"text":"Later","callback_data":"remind"}]]}`)
	kb, err := ParseKeyboard(raw)
	if err != nil {
		t.Fatalf("ParseKeyboard: %v", err)
	}
	out, err := json.Marshal(kb)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := ParseKeyboard(out)
	if err != nil {
		t.Fatalf("ParseKeyboard(round-trip): %v", err)
	}
	if !kb.Equal(again) {
		t.Fatalf("round-trip lost fields:\n in: %s\nout: %s", raw, out)
	}
}

func TestKeyboardEqual(t *testing.T) {
	a := &Keyboard{Rows: [][]Button{{LinkButton{Label: "A", URL: "https://x"}}}}
	b := &Keyboard{Rows: [][]Button{{LinkButton{Label: "A", URL: "https://x"}}}}
	c := &Keyboard{Rows: [][]Button{{ActionButton{Label: "A", ActionToken: "x"}}}}

	if !a.Equal(b) {
		t.Fatalf("identical keyboards compare unequal")
	}
	if a.Equal(c) {
		t.Fatalf("different keyboards compare equal")
	}
	var nilKB *Keyboard
	if !nilKB.Equal(nil) {
		t.Fatalf("nil should equal nil")
	}
	if a.Equal(nil) {
		t.Fatalf("non-nil should not equal nil")
	}
}

func TestKeyboardMarkup(t *testing.T) {
	kb := &Keyboard{Rows: [][]Button{
		{LinkButton{Label: "Open", URL: "https://x"}},
		{ActionButton{Label: "Buy", ActionToken: "buy:1"}},
	}}
	rm := kb.Markup()
	if rm == nil || len(rm.InlineKeyboard) != 2 {
		t.Fatalf("unexpected markup: %+v", rm)
	}
	if rm.InlineKeyboard[0][0].URL != "https://x" || rm.InlineKeyboard[1][0].Data != "buy:1" {
		t.Fatalf("markup buttons wrong: %+v", rm.InlineKeyboard)
	}

	var nilKB *Keyboard
	if nilKB.Markup() != nil {
		t.Fatalf("nil keyboard should render nil markup")
	}
}
