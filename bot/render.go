package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/splitbot/core/telegram/format"
	"github.com/m3rciful/splitbot/flow"
)

// Renderer produces every outbound text and keyboard for the session engine.
type Renderer struct {
	DefaultCurrency string
}

const membersPerRow = 2

func (r Renderer) GroupList(groups []flow.Group) (string, *flow.Keyboard) {
	return "📂 *Your groups*\nPick one to see its details.", groupKeyboard(groups, flow.KeyGroup)
}

func (r Renderer) DefaultGroupList(groups []flow.Group) (string, *flow.Keyboard) {
	return "📌 Pick the group new expenses go to by default.", groupKeyboard(groups, flow.KeyDefaultGroup)
}

func (r Renderer) GroupDetail(g flow.Group) (string, *flow.Keyboard) {
	var b strings.Builder
	fmt.Fprintf(&b, "👥 *%s*\n", md(g.Name))
	for _, m := range g.Members {
		fmt.Fprintf(&b, "• %s\n", md(m.Name))
	}
	kb := &flow.Keyboard{Rows: [][]flow.Button{{
		{Label: "➕ Add expense here", Key: flow.KeyExpenseIn, Payload: strconv.FormatInt(g.ID, 10)},
	}}}
	return b.String(), kb
}

func (r Renderer) AskDescription(g flow.Group) (string, *flow.Keyboard) {
	text := fmt.Sprintf("🧾 New expense in *%s*.\nWhat was it for?", md(g.Name))
	return text, cancelKeyboard()
}

func (r Renderer) AskAmount(currency string) (string, *flow.Keyboard) {
	text := fmt.Sprintf("💰 How much? Send e.g. `12.50` or `12.50 USD` (default %s).", currency)
	return text, cancelKeyboard()
}

func (r Renderer) AskSplitChoice(w *flow.Wizard) (string, *flow.Keyboard) {
	text := fmt.Sprintf("*%s* — %s %s\nHow should it be split?",
		md(w.Description), flow.FormatCents(w.AmountCents), w.Currency)
	kb := &flow.Keyboard{Rows: [][]flow.Button{
		{
			{Label: "🟰 Equally", Key: flow.KeySplitEqual},
			{Label: "✏️ Pick members", Key: flow.KeySplitCustom},
		},
		{cancelButton()},
	}}
	return text, kb
}

func (r Renderer) MemberRoster(w *flow.Wizard) (string, *flow.Keyboard) {
	var row []flow.Button
	kb := &flow.Keyboard{}
	for _, m := range w.Group.Members {
		label := m.Name
		if _, on := w.Selected[m.ID]; on {
			label = "✅ " + label
		}
		row = append(row, flow.Button{
			Label:   label,
			Key:     flow.KeyMemberToggle,
			Payload: strconv.FormatInt(m.ID, 10),
		})
		if len(row) == membersPerRow {
			kb.Rows = append(kb.Rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb.Rows = append(kb.Rows, row)
	}
	kb.Rows = append(kb.Rows, []flow.Button{
		{Label: "✔️ Submit", Key: flow.KeySubmit},
		cancelButton(),
	})
	return "👇 Toggle who shares this expense, then submit.", kb
}

func (r Renderer) ExpenseCreated(w *flow.Wizard, memberCount int) string {
	return fmt.Sprintf("✅ Added *%s* — %s %s split between %d member(s).",
		md(w.Description), flow.FormatCents(w.AmountCents), w.Currency, memberCount)
}

func (r Renderer) SubmitRejected(complaints []string) string {
	var b strings.Builder
	b.WriteString("🚫 The service rejected the request:\n")
	for _, c := range complaints {
		fmt.Fprintf(&b, "• %s\n", md(c))
	}
	return b.String()
}

func (r Renderer) SubmitFailed() string {
	return "⚠️ Something went wrong talking to the service. Please try again."
}

func (r Renderer) DefaultGroupSet(g flow.Group) string {
	return fmt.Sprintf("📌 Default group set to *%s*.", md(g.Name))
}

func (r Renderer) NotLinked() string {
	return "🔑 No account is linked yet. Use /login <token> first."
}

func (r Renderer) NoDefaultGroup() string {
	return "📌 No default group chosen. Use /setgroup first, or pick a group via /groups."
}

func (r Renderer) NoGroups() string {
	return "🤷 Your account has no groups."
}

func (r Renderer) GroupsUnavailable() string {
	return "⚠️ Could not reach the service. Please try again."
}

func (r Renderer) EmptyDescription() string {
	return "✍️ The description cannot be empty. What was it for?"
}

func (r Renderer) BadAmount() string {
	return "🔢 That does not look like an amount. Send e.g. `12.50` or `12.50 USD`."
}

func (r Renderer) NoMembersSelected() string {
	return "Select at least one member first."
}

func (r Renderer) ForeignSession() string {
	return "This session belongs to someone else."
}

func (r Renderer) SessionExpired() string {
	return "⌛ Session expired."
}

func (r Renderer) Cancelled() string {
	return "🚪 Cancelled."
}

func groupKeyboard(groups []flow.Group, key string) *flow.Keyboard {
	kb := &flow.Keyboard{}
	for _, g := range groups {
		kb.Rows = append(kb.Rows, []flow.Button{{
			Label:   g.Name,
			Key:     key,
			Payload: strconv.FormatInt(g.ID, 10),
		}})
	}
	kb.Rows = append(kb.Rows, []flow.Button{cancelButton()})
	return kb
}

func cancelKeyboard() *flow.Keyboard {
	return &flow.Keyboard{Rows: [][]flow.Button{{cancelButton()}}}
}

func cancelButton() flow.Button {
	return flow.Button{Label: "❌ Cancel", Key: flow.KeyCancel}
}

// md escapes user- and service-provided strings for Markdown rendering.
func md(s string) string {
	escaped, err := format.EscapeMarkdown(s, format.MarkdownV1, "")
	if err != nil {
		return s
	}
	return escaped
}
