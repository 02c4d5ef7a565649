package bot

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/m3rciful/splitbot/core/telegram/keyboard"
	"github.com/m3rciful/splitbot/flow"

	tele "gopkg.in/telebot.v4"
)

// ErrNotBound is returned when a send is attempted before the Telegram bot
// has been constructed by the runtime.
var ErrNotBound = errors.New("bot: transport not bound")

// Transport implements flow.Transport over a telebot instance. The bot is
// bound late, from the runtime's OnStart hook, because the runtime owns its
// construction.
type Transport struct {
	bot atomic.Pointer[tele.Bot]
}

// NewTransport returns an unbound transport.
func NewTransport() *Transport {
	return &Transport{}
}

// Bind wires the live bot instance.
func (t *Transport) Bind(b *tele.Bot) {
	t.bot.Store(b)
}

func (t *Transport) current() (*tele.Bot, error) {
	b := t.bot.Load()
	if b == nil {
		return nil, ErrNotBound
	}
	return b, nil
}

// Send delivers a Markdown message with optional inline controls and
// returns the new message id.
func (t *Transport) Send(_ context.Context, conversation int64, text string, kb *flow.Keyboard) (int, error) {
	b, err := t.current()
	if err != nil {
		return 0, err
	}
	msg, err := b.Send(tele.ChatID(conversation), text, &tele.SendOptions{
		ParseMode:   tele.ModeMarkdown,
		ReplyMarkup: markup(kb),
	})
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// EditControls replaces (or removes, when kb is nil) the inline controls of
// an existing message.
func (t *Transport) EditControls(_ context.Context, conversation int64, messageID int, kb *flow.Keyboard) error {
	b, err := t.current()
	if err != nil {
		return err
	}
	_, err = b.EditReplyMarkup(storedMessage(conversation, messageID), markup(kb))
	return err
}

// Delete retracts a message. Deleting an already-gone message returns the
// transport's error; callers treat it as non-fatal.
func (t *Transport) Delete(_ context.Context, conversation int64, messageID int) error {
	b, err := t.current()
	if err != nil {
		return err
	}
	return b.Delete(storedMessage(conversation, messageID))
}

// AnswerButton acknowledges a button press, optionally with a toast or an
// alert popup.
func (t *Transport) AnswerButton(_ context.Context, press flow.Press, text string, alert bool) error {
	b, err := t.current()
	if err != nil {
		return err
	}
	return b.Respond(&tele.Callback{ID: press.ID}, &tele.CallbackResponse{
		Text:      text,
		ShowAlert: alert,
	})
}

func storedMessage(conversation int64, messageID int) tele.StoredMessage {
	return tele.StoredMessage{
		MessageID: strconv.Itoa(messageID),
		ChatID:    conversation,
	}
}

// markup converts the engine's abstract keyboard to telebot inline markup.
func markup(kb *flow.Keyboard) *tele.ReplyMarkup {
	if kb == nil || len(kb.Rows) == 0 {
		return nil
	}
	rows := make([][]keyboard.InlineBtn, 0, len(kb.Rows))
	for _, row := range kb.Rows {
		btns := make([]keyboard.InlineBtn, 0, len(row))
		for _, b := range row {
			btns = append(btns, keyboard.InlineBtn{Text: b.Label, Unique: b.Key, Data: b.Payload})
		}
		rows = append(rows, btns)
	}
	return keyboard.InlineButtonsRows(rows...)
}
