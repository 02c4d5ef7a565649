package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/m3rciful/splitbot/core/buildinfo"
	"github.com/m3rciful/splitbot/core/logger"
	tg "github.com/m3rciful/splitbot/core/telegram"
	"github.com/m3rciful/splitbot/core/telegram/callbacks"
	"github.com/m3rciful/splitbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/splitbot/core/telegram/helpers"
	"github.com/m3rciful/splitbot/core/telegram/sender"
	"github.com/m3rciful/splitbot/flow"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// Handlers binds the session engine to the Telegram surface: commands,
// callback routes, and the free-text entry the message router consults.
type Handlers struct {
	engine     *flow.Engine
	links      flow.Links
	acct       flow.Accounting
	dispatcher *sender.Dispatcher
	startedAt  time.Time
}

// NewHandlers wires the Telegram-facing handler set.
func NewHandlers(engine *flow.Engine, links flow.Links, acct flow.Accounting, dispatcher *sender.Dispatcher) *Handlers {
	return &Handlers{
		engine:     engine,
		links:      links,
		acct:       acct,
		dispatcher: dispatcher,
		startedAt:  time.Now(),
	}
}

// Register declares every command and callback on the registry.
func (h *Handlers) Register(reg *tg.Registry) {
	reg.RegisterCommand("/start", commands.Command{
		Handler:     h.onStart,
		Description: "What this bot does",
	})
	reg.RegisterCommand("/help", commands.Command{
		Handler:     h.onStart,
		Description: "How to use the bot",
		Hidden:      true,
	})
	reg.RegisterCommand("/login", commands.Command{
		Handler:     h.onLogin,
		Description: "Link your account: /login <token>",
	})
	reg.RegisterCommand("/logout", commands.Command{
		Handler:     h.onLogout,
		Description: "Unlink your account",
	})
	reg.RegisterCommand("/groups", commands.Command{
		Handler:     h.onGroups,
		Description: "Browse your groups",
	})
	reg.RegisterCommand("/setgroup", commands.Command{
		Handler:     h.onSetGroup,
		Description: "Choose the default group for expenses",
	})
	reg.RegisterCommand("/expense", commands.Command{
		Handler:     h.onExpense,
		Description: "Create a split expense",
		Aliases:     []string{"add"},
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     h.onCancel,
		Description: "Abort the current wizard",
	})
	reg.RegisterCommand("/stats", commands.Command{
		Handler:     h.onStats,
		Description: "Runtime diagnostics",
		AdminOnly:   true,
		Hidden:      true,
	})

	for _, key := range []string{
		flow.KeyGroup,
		flow.KeyDefaultGroup,
		flow.KeySplitEqual,
		flow.KeySplitCustom,
		flow.KeyMemberToggle,
		flow.KeySubmit,
		flow.KeyCancel,
	} {
		_ = reg.RegisterCallback(key, h.onSessionButton)
	}
	_ = reg.RegisterCallback(flow.KeyExpenseIn, h.onExpenseInGroup)

	reg.SetTextFallback(h.onUnknownText)
}

func (h *Handlers) onStart(c tele.Context) error {
	return tghelpers.SendMD(c, strings.Join([]string{
		"*splitbot* keeps shared expenses in your accounting groups.",
		"",
		"/login <token> — link your account",
		"/groups — browse your groups",
		"/setgroup — pick a default group",
		"/expense — add a split expense",
		"/cancel — abort the current wizard",
	}, "\n"))
}

// onLogin links the account. The OAuth dance is out of scope: the user
// brings a personal access token, which is verified with one listing call
// before being persisted. The message carrying the token is retracted
// best-effort so it does not linger in the chat history.
func (h *Handlers) onLogin(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	conversation := c.Chat().ID

	token := strings.TrimSpace(c.Message().Payload)
	if err := c.Delete(); err != nil {
		logger.Debug(ctx, "tg", "login.message.keep",
			slog.String("status", "skip"),
			slog.String("err", err.Error()),
		)
	}
	if token == "" {
		return tghelpers.SendMD(c, "Usage: `/login <token>`")
	}

	if _, found, err := h.links.Get(ctx, conversation); err != nil {
		return err
	} else if found {
		return tghelpers.SendMD(c, "🔑 An account is already linked. /logout first to switch.")
	}

	// One cheap call proves the token works before it is stored.
	if _, err := h.acct.ListGroups(ctx, token); err != nil {
		logger.Warn(ctx, "tg", "login.verify.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", conversation),
			slog.String("err", err.Error()),
		)
		return tghelpers.SendMD(c, "🚫 That token was not accepted by the service.")
	}

	if err := h.links.SetCredential(ctx, conversation, token); err != nil {
		return err
	}
	return tghelpers.SendMD(c, "✅ Account linked. Try /groups.")
}

func (h *Handlers) onLogout(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	conversation := c.Chat().ID

	if _, found, err := h.links.Get(ctx, conversation); err != nil {
		return err
	} else if !found {
		return tghelpers.SendMD(c, "No account is linked.")
	}

	// An open wizard would keep referencing the dropped credential.
	_ = h.engine.Cancel(ctx, h.commandEvent(c))

	if err := h.links.Remove(ctx, conversation); err != nil {
		return err
	}
	return tghelpers.SendMD(c, "👋 Account unlinked.")
}

func (h *Handlers) onGroups(c tele.Context) error {
	return h.engine.StartGroupBrowse(tghelpers.BuildContext(c), h.commandEvent(c))
}

func (h *Handlers) onSetGroup(c tele.Context) error {
	return h.engine.StartDefaultGroupChoice(tghelpers.BuildContext(c), h.commandEvent(c))
}

func (h *Handlers) onExpense(c tele.Context) error {
	return h.engine.StartExpense(tghelpers.BuildContext(c), h.commandEvent(c))
}

func (h *Handlers) onCancel(c tele.Context) error {
	return h.engine.Cancel(tghelpers.BuildContext(c), h.commandEvent(c))
}

func (h *Handlers) onStats(c tele.Context) error {
	var sendErrors uint64
	if h.dispatcher != nil {
		sendErrors = h.dispatcher.ErrorCount()
	}
	return tghelpers.SendMD(c, fmt.Sprintf(
		"version: %s (%s)\nuptime: %s\nsend errors: %d",
		buildinfo.Version, buildinfo.Commit,
		time.Since(h.startedAt).Round(time.Second),
		sendErrors,
	))
}

func (h *Handlers) onSessionButton(c tele.Context) error {
	return h.engine.HandleButton(tghelpers.BuildContext(c), h.callbackEvent(c))
}

func (h *Handlers) onExpenseInGroup(c tele.Context) error {
	return h.engine.StartExpenseInGroup(tghelpers.BuildContext(c), h.callbackEvent(c))
}

func (h *Handlers) onUnknownText(c tele.Context) error {
	return tghelpers.SendText(c, "I did not get that. /help lists what I understand.")
}

// InProgress reports whether the conversation has an open session; the text
// router uses it to hand free text to the engine.
func (h *Handlers) InProgress(chatID int64) bool {
	return h.engine.HasSession(chatID)
}

// Consume feeds a free-text update into the session engine.
func (h *Handlers) Consume(c tele.Context) error {
	return h.engine.HandleText(tghelpers.BuildContext(c), h.textEvent(c))
}

func (h *Handlers) commandEvent(c tele.Context) flow.Event {
	return flow.Event{
		Conversation: c.Chat().ID,
		Actor:        c.Sender().ID,
	}
}

func (h *Handlers) textEvent(c tele.Context) flow.Event {
	ev := h.commandEvent(c)
	ev.Text = c.Text()
	return ev
}

func (h *Handlers) callbackEvent(c tele.Context) flow.Event {
	ev := h.commandEvent(c)
	ev.Key = callbacks.CallbackKey(c)
	ev.Payload = callbacks.CallbackPayload(c)
	if cb := c.Callback(); cb != nil {
		ev.Press = flow.Press{ID: cb.ID}
		if cb.Message != nil {
			ev.Press.Message = cb.Message.ID
		}
	}
	return ev
}
