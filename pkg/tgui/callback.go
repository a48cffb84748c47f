package tgui

import (
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// MaxCallbackDataLen is Telegram's byte limit for callback_data, counted over
// the full "ns:action:payload" string.
const MaxCallbackDataLen = 64

var ErrCallbackTooLong = errors.New("tgui: callback_data exceeds 64 bytes")

// Data formats callback data as "ns:action" or "ns:action:payload".
func Data(ns, action, payload string) (string, error) {
	s := ns + ":" + action
	if payload != "" {
		s += ":" + payload
	}
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackTooLong
	}
	return s, nil
}

// Split is the inverse of Data. The payload may itself contain colons.
func Split(data string) (ns, action, payload string) {
	ns, rest, _ := strings.Cut(data, ":")
	action, payload, _ = strings.Cut(rest, ":")
	return ns, action, payload
}

// ConfirmMarkup builds a one-row yes/no inline keyboard with the given
// callback data strings.
func ConfirmMarkup(yesText, yesData, noText, noData string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Row(
		tele.Btn{Text: yesText, Data: yesData},
		tele.Btn{Text: noText, Data: noData},
	))
	return rm
}
