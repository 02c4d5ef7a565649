package flow

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/splitbot/core/logger"
	"log/slog"
)

// Callback keys recognized by the engine. The bot adapter registers one
// callback route per key and forwards presses to HandleButton.
const (
	KeyGroup        = "grp"
	KeyDefaultGroup = "grpdef"
	KeyExpenseIn    = "expin"
	KeySplitEqual   = "spliteq"
	KeySplitCustom  = "splitcu"
	KeyMemberToggle = "member"
	KeySubmit       = "submit"
	KeyCancel       = "cancel"
)

// Event is one inbound interaction delivered by the chat transport.
type Event struct {
	Conversation int64
	Actor        int64
	Text         string
	Press        Press
	Key          string
	Payload      string
}

// Renderer produces every outbound text and keyboard. Formatting lives in
// the bot adapter so the engine stays transport- and locale-agnostic.
type Renderer interface {
	GroupList(groups []Group) (string, *Keyboard)
	DefaultGroupList(groups []Group) (string, *Keyboard)
	GroupDetail(g Group) (string, *Keyboard)
	AskDescription(g Group) (string, *Keyboard)
	AskAmount(currency string) (string, *Keyboard)
	AskSplitChoice(w *Wizard) (string, *Keyboard)
	MemberRoster(w *Wizard) (string, *Keyboard)

	ExpenseCreated(w *Wizard, memberCount int) string
	SubmitRejected(complaints []string) string
	SubmitFailed() string
	DefaultGroupSet(g Group) string

	NotLinked() string
	NoDefaultGroup() string
	NoGroups() string
	GroupsUnavailable() string
	EmptyDescription() string
	BadAmount() string
	NoMembersSelected() string
	ForeignSession() string
	SessionExpired() string
	Cancelled() string
}

// Config tunes the engine.
type Config struct {
	// Deadline is the input window armed for every interactive step.
	Deadline time.Duration
	// DefaultCurrency is used when the amount input omits a currency code.
	DefaultCurrency string
}

const defaultDeadline = 5 * time.Minute

// Engine is the per-conversation session lifecycle manager: it owns session
// creation and teardown, the wizard transition table, ownership checks,
// deadline expiry and artifact cleanup.
type Engine struct {
	cfg      Config
	store    Store
	timeouts *Timeouts
	tr       Transport
	links    Links
	acct     Accounting
	render   Renderer
}

// NewEngine wires the engine with its collaborators.
func NewEngine(cfg Config, store Store, timeouts *Timeouts, tr Transport, links Links, acct Accounting, render Renderer) *Engine {
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultDeadline
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		timeouts: timeouts,
		tr:       tr,
		links:    links,
		acct:     acct,
		render:   render,
	}
}

// HasSession reports whether a session is open for the conversation. The
// text router uses it to decide whether free text belongs to the engine.
func (e *Engine) HasSession(conversation int64) bool {
	_, ok := e.store.Get(conversation)
	return ok
}

// StartGroupBrowse opens the group-list flow (/groups).
func (e *Engine) StartGroupBrowse(ctx context.Context, ev Event) error {
	return e.startGroupListing(ctx, ev, StepBrowsingGroups)
}

// StartDefaultGroupChoice opens the default-group flow (/setgroup).
func (e *Engine) StartDefaultGroupChoice(ctx context.Context, ev Event) error {
	return e.startGroupListing(ctx, ev, StepChoosingDefaultGroup)
}

func (e *Engine) startGroupListing(ctx context.Context, ev Event, step Step) error {
	lock := e.store.Acquire(ev.Conversation)
	lock.Lock()
	defer lock.Unlock()

	link, ok, err := e.requireLink(ctx, ev)
	if err != nil || !ok {
		return err
	}

	groups, err := e.acct.ListGroups(ctx, link.Credential)
	if err != nil {
		return e.reportRemoteFailure(ctx, ev, err)
	}
	if len(groups) == 0 {
		_, err := e.tr.Send(ctx, ev.Conversation, e.render.NoGroups(), nil)
		return err
	}

	e.teardown(ctx, ev.Conversation)

	text, kb := e.render.GroupList(groups)
	if step == StepChoosingDefaultGroup {
		text, kb = e.render.DefaultGroupList(groups)
	}
	return e.open(ctx, ev, step, &GroupChoice{Groups: groups}, text, kb)
}

// StartExpense opens the expense wizard in the conversation's default group
// (/expense).
func (e *Engine) StartExpense(ctx context.Context, ev Event) error {
	lock := e.store.Acquire(ev.Conversation)
	lock.Lock()
	defer lock.Unlock()

	link, ok, err := e.requireLink(ctx, ev)
	if err != nil || !ok {
		return err
	}
	if link.DefaultGroup == 0 {
		_, err := e.tr.Send(ctx, ev.Conversation, e.render.NoDefaultGroup(), nil)
		return err
	}
	return e.openExpense(ctx, ev, link.Credential, link.DefaultGroup)
}

// StartExpenseInGroup opens the expense wizard in an explicitly chosen group.
// It backs the stateless "create expense here" button on a group detail
// message, so no session is required for the press to be recognized.
func (e *Engine) StartExpenseInGroup(ctx context.Context, ev Event) error {
	lock := e.store.Acquire(ev.Conversation)
	lock.Lock()
	defer lock.Unlock()

	groupID, err := strconv.ParseInt(ev.Payload, 10, 64)
	if err != nil {
		return e.answer(ctx, ev.Press, "", false)
	}
	if err := e.answer(ctx, ev.Press, "", false); err != nil {
		return err
	}

	link, ok, err := e.requireLink(ctx, ev)
	if err != nil || !ok {
		return err
	}
	return e.openExpense(ctx, ev, link.Credential, groupID)
}

func (e *Engine) openExpense(ctx context.Context, ev Event, credential string, groupID int64) error {
	group, err := e.acct.GetGroup(ctx, credential, groupID)
	if err != nil {
		return e.reportRemoteFailure(ctx, ev, err)
	}

	e.teardown(ctx, ev.Conversation)

	text, kb := e.render.AskDescription(group)
	return e.open(ctx, ev, StepAwaitingDescription, &Wizard{Group: group}, text, kb)
}

// open sends the opening prompt, creates the session record, and arms the
// interactive deadline. The caller holds the conversation lock and has torn
// down any prior session.
func (e *Engine) open(ctx context.Context, ev Event, step Step, data Data, text string, kb *Keyboard) error {
	id, err := e.tr.Send(ctx, ev.Conversation, text, kb)
	if err != nil {
		return err
	}

	s := &Session{Owner: ev.Actor, Step: step, Data: data}
	record(s, id)
	e.store.Put(ev.Conversation, s)
	e.arm(ev.Conversation)

	logger.Debug(ctx, "flow", "session.open",
		slog.String("status", "ok"),
		slog.Int64("chat_id", ev.Conversation),
		slog.Int64("user_id", ev.Actor),
		slog.String("step", string(step)),
	)
	return nil
}

// HandleText consumes free text for the conversation's session, if any step
// expects it. Non-owner text and text in button-driven steps is ignored
// silently.
func (e *Engine) HandleText(ctx context.Context, ev Event) error {
	lock := e.store.Acquire(ev.Conversation)
	lock.Lock()
	defer lock.Unlock()

	s, ok := e.store.Get(ev.Conversation)
	if !ok || !s.Step.expectsText() {
		return nil
	}
	if s.Owner != ev.Actor {
		logger.Debug(ctx, "flow", "input.foreign.ignored",
			slog.String("status", "skip"),
			slog.Int64("chat_id", ev.Conversation),
			slog.Int64("user_id", ev.Actor),
		)
		return nil
	}

	switch s.Step {
	case StepAwaitingDescription:
		return e.consumeDescription(ctx, ev, s)
	case StepAwaitingAmount:
		return e.consumeAmount(ctx, ev, s)
	}
	return nil
}

func (e *Engine) consumeDescription(ctx context.Context, ev Event, s *Session) error {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return e.reprompt(ctx, ev.Conversation, s, e.render.EmptyDescription())
	}

	w := s.wizard()
	w.Description = text
	s.Step = StepAwaitingAmount

	prompt, kb := e.render.AskAmount(e.cfg.DefaultCurrency)
	return e.advance(ctx, ev.Conversation, s, prompt, kb)
}

func (e *Engine) consumeAmount(ctx context.Context, ev Event, s *Session) error {
	cents, currency, ok := ParseAmount(ev.Text, e.cfg.DefaultCurrency)
	if !ok {
		return e.reprompt(ctx, ev.Conversation, s, e.render.BadAmount())
	}

	w := s.wizard()
	w.AmountCents = cents
	w.Currency = currency
	w.Token = uuid.NewString()
	s.Step = StepAwaitingSplitChoice

	prompt, kb := e.render.AskSplitChoice(w)
	return e.advance(ctx, ev.Conversation, s, prompt, kb)
}

// HandleButton consumes a button press for the session. Presses whose key
// does not fit the current step are acknowledged and dropped; presses from
// a non-owner get a visible rejection and mutate nothing.
func (e *Engine) HandleButton(ctx context.Context, ev Event) error {
	lock := e.store.Acquire(ev.Conversation)
	lock.Lock()
	defer lock.Unlock()

	s, ok := e.store.Get(ev.Conversation)
	if !ok {
		// Stale control of an already-ended session.
		return e.answer(ctx, ev.Press, "", false)
	}
	if s.Owner != ev.Actor {
		return e.answer(ctx, ev.Press, e.render.ForeignSession(), false)
	}

	switch {
	case ev.Key == KeyCancel:
		return e.cancel(ctx, ev, s)
	case ev.Key == KeyGroup && s.Step == StepBrowsingGroups:
		return e.selectGroup(ctx, ev, s)
	case ev.Key == KeyDefaultGroup && s.Step == StepChoosingDefaultGroup:
		return e.selectDefaultGroup(ctx, ev, s)
	case ev.Key == KeySplitEqual && s.Step == StepAwaitingSplitChoice:
		return e.chooseEqualSplit(ctx, ev, s)
	case ev.Key == KeySplitCustom && s.Step == StepAwaitingSplitChoice:
		return e.chooseCustomSplit(ctx, ev, s)
	case ev.Key == KeyMemberToggle && s.Step == StepSelectingMembers:
		return e.toggleMember(ctx, ev, s)
	case ev.Key == KeySubmit && s.Step == StepSelectingMembers:
		return e.submitCustomSplit(ctx, ev, s)
	}
	return e.answer(ctx, ev.Press, "", false)
}

func (e *Engine) selectGroup(ctx context.Context, ev Event, s *Session) error {
	group, ok := e.pickGroup(s, ev.Payload)
	if !ok {
		return e.answer(ctx, ev.Press, "", false)
	}
	if err := e.answer(ctx, ev.Press, "", false); err != nil {
		return err
	}

	link, found, err := e.links.Get(ctx, ev.Conversation)
	if err != nil || !found {
		return e.close(ctx, ev.Conversation, s, e.render.NotLinked())
	}
	detail, err := e.acct.GetGroup(ctx, link.Credential, group.ID)
	if err != nil {
		return e.closeOnRemoteFailure(ctx, ev.Conversation, s, err)
	}

	text, kb := e.render.GroupDetail(detail)
	if _, err := e.tr.Send(ctx, ev.Conversation, text, kb); err != nil {
		return err
	}
	e.finish(ctx, ev.Conversation, s)
	return nil
}

func (e *Engine) selectDefaultGroup(ctx context.Context, ev Event, s *Session) error {
	group, ok := e.pickGroup(s, ev.Payload)
	if !ok {
		return e.answer(ctx, ev.Press, "", false)
	}
	if err := e.answer(ctx, ev.Press, "", false); err != nil {
		return err
	}

	if err := e.links.SetDefaultGroup(ctx, ev.Conversation, group.ID); err != nil {
		logger.Error(ctx, "flow", "default_group.persist.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", ev.Conversation),
			slog.Int64("group_id", group.ID),
			slog.String("err", err.Error()),
		)
		return e.close(ctx, ev.Conversation, s, e.render.SubmitFailed())
	}
	return e.close(ctx, ev.Conversation, s, e.render.DefaultGroupSet(group))
}

func (e *Engine) chooseEqualSplit(ctx context.Context, ev Event, s *Session) error {
	if err := e.answer(ctx, ev.Press, "", false); err != nil {
		return err
	}
	w := s.wizard()
	members := make([]int64, 0, len(w.Group.Members))
	for _, m := range w.Group.Members {
		members = append(members, m.ID)
	}
	return e.submit(ctx, ev.Conversation, s, members)
}

func (e *Engine) chooseCustomSplit(ctx context.Context, ev Event, s *Session) error {
	if err := e.answer(ctx, ev.Press, "", false); err != nil {
		return err
	}
	w := s.wizard()
	w.Selected = make(map[int64]struct{})
	s.Step = StepSelectingMembers

	prompt, kb := e.render.MemberRoster(w)
	return e.advance(ctx, ev.Conversation, s, prompt, kb)
}

// toggleMember flips the member in the selected set and re-renders the
// roster controls in place. A mere toggle records no new artifact.
func (e *Engine) toggleMember(ctx context.Context, ev Event, s *Session) error {
	memberID, err := strconv.ParseInt(ev.Payload, 10, 64)
	if err != nil {
		return e.answer(ctx, ev.Press, "", false)
	}
	w := s.wizard()
	if !w.Group.HasMember(memberID) {
		return e.answer(ctx, ev.Press, "", false)
	}
	if err := e.answer(ctx, ev.Press, "", false); err != nil {
		return err
	}

	if _, on := w.Selected[memberID]; on {
		delete(w.Selected, memberID)
	} else {
		w.Selected[memberID] = struct{}{}
	}

	_, kb := e.render.MemberRoster(w)
	if err := e.tr.EditControls(ctx, ev.Conversation, s.lastArtifact(), kb); err != nil {
		logger.Warn(ctx, "flow", "roster.edit.skip",
			slog.String("status", "skip"),
			slog.Int64("chat_id", ev.Conversation),
			slog.String("err", err.Error()),
		)
	}
	e.arm(ev.Conversation)
	return nil
}

func (e *Engine) submitCustomSplit(ctx context.Context, ev Event, s *Session) error {
	w := s.wizard()
	if len(w.Selected) == 0 {
		// Re-prompt in place; no transition.
		return e.answer(ctx, ev.Press, e.render.NoMembersSelected(), true)
	}
	if err := e.answer(ctx, ev.Press, "", false); err != nil {
		return err
	}

	members := make([]int64, 0, len(w.Selected))
	for _, m := range w.Group.Members {
		if _, on := w.Selected[m.ID]; on {
			members = append(members, m.ID)
		}
	}
	return e.submit(ctx, ev.Conversation, s, members)
}

// submit performs the terminal create-expense call and runs the uniform
// terminal protocol: one result message, artifact flush, session removal.
func (e *Engine) submit(ctx context.Context, conversation int64, s *Session, members []int64) error {
	w := s.wizard()

	link, found, err := e.links.Get(ctx, conversation)
	if err != nil || !found {
		return e.close(ctx, conversation, s, e.render.NotLinked())
	}

	exp := Expense{
		GroupID:     w.Group.ID,
		Description: w.Description,
		AmountCents: w.AmountCents,
		Currency:    w.Currency,
		Shares:      splitShares(w.AmountCents, members),
		Token:       w.Token,
	}

	err = e.acct.CreateExpense(ctx, link.Credential, exp)
	var domainErr *DomainError
	switch {
	case err == nil:
		logger.Info(ctx, "flow", "expense.created",
			slog.String("status", "ok"),
			slog.Int64("chat_id", conversation),
			slog.Int64("group_id", w.Group.ID),
			slog.Int64("amount_cents", w.AmountCents),
			slog.String("currency", w.Currency),
			slog.Int("members", len(members)),
		)
		return e.close(ctx, conversation, s, e.render.ExpenseCreated(w, len(members)))
	case errors.As(err, &domainErr):
		logger.Warn(ctx, "flow", "expense.rejected",
			slog.String("status", "fail"),
			slog.Int64("chat_id", conversation),
			slog.Int64("group_id", w.Group.ID),
			slog.String("err", domainErr.Error()),
		)
		return e.close(ctx, conversation, s, e.render.SubmitRejected(domainErr.Complaints))
	default:
		logger.Error(ctx, "flow", "expense.submit.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", conversation),
			slog.Int64("group_id", w.Group.ID),
			slog.String("err", err.Error()),
		)
		return e.close(ctx, conversation, s, e.render.SubmitFailed())
	}
}

// Cancel tears the session down on explicit request (/cancel). Only the
// owner may cancel; anyone else's command is ignored.
func (e *Engine) Cancel(ctx context.Context, ev Event) error {
	lock := e.store.Acquire(ev.Conversation)
	lock.Lock()
	defer lock.Unlock()

	s, ok := e.store.Get(ev.Conversation)
	if !ok || s.Owner != ev.Actor {
		return nil
	}
	return e.close(ctx, ev.Conversation, s, e.render.Cancelled())
}

func (e *Engine) cancel(ctx context.Context, ev Event, s *Session) error {
	if err := e.answer(ctx, ev.Press, "", false); err != nil {
		return err
	}
	return e.close(ctx, ev.Conversation, s, e.render.Cancelled())
}

// expire is scheduled by the Timeouts manager. It is just another event
// against the conversation lock. A user event may win the lock after the
// timer fired and re-arm a fresh deadline, so the firing must claim its
// generation under the lock; a superseded or disarmed deadline no-ops.
func (e *Engine) expire(conversation int64, gen uint64) {
	ctx := context.Background()

	lock := e.store.Acquire(conversation)
	lock.Lock()
	defer lock.Unlock()

	if !e.timeouts.Claim(conversation, gen) {
		logger.Debug(ctx, "flow", "expire.superseded",
			slog.String("status", "skip"),
			slog.Int64("chat_id", conversation),
		)
		return
	}

	s, ok := e.store.Get(conversation)
	if !ok {
		logger.Debug(ctx, "flow", "expire.noop",
			slog.String("status", "skip"),
			slog.Int64("chat_id", conversation),
		)
		return
	}

	// Strip the controls from the most recent interactive message if it is
	// still editable; it may already be altered or gone.
	if last := s.lastArtifact(); last != 0 {
		if err := e.tr.EditControls(ctx, conversation, last, nil); err != nil {
			logger.Debug(ctx, "flow", "expire.strip.skip",
				slog.String("status", "skip"),
				slog.Int64("chat_id", conversation),
				slog.String("err", err.Error()),
			)
		}
	}

	if id, err := e.tr.Send(ctx, conversation, e.render.SessionExpired(), nil); err == nil {
		record(s, id)
	}

	e.flushArtifacts(ctx, conversation, s)
	e.store.Remove(conversation)

	logger.Info(ctx, "flow", "session.expired",
		slog.String("status", "ok"),
		slog.Int64("chat_id", conversation),
		slog.String("step", string(s.Step)),
	)
}

// close runs the uniform terminal protocol with a result message. The result
// message is deliberately not recorded so it outlives the cleanup.
func (e *Engine) close(ctx context.Context, conversation int64, s *Session, result string) error {
	_, err := e.tr.Send(ctx, conversation, result, nil)
	e.finish(ctx, conversation, s)
	return err
}

// finish cancels the deadline, flushes artifacts, and removes the record.
func (e *Engine) finish(ctx context.Context, conversation int64, s *Session) {
	e.timeouts.Cancel(conversation)
	e.flushArtifacts(ctx, conversation, s)
	e.store.Remove(conversation)
	logger.Debug(ctx, "flow", "session.closed",
		slog.String("status", "ok"),
		slog.Int64("chat_id", conversation),
		slog.String("step", string(s.Step)),
	)
}

// teardown removes any active session before a new flow-opening command
// creates its replacement. Sessions are never merged.
func (e *Engine) teardown(ctx context.Context, conversation int64) {
	s, ok := e.store.Get(conversation)
	if !ok {
		return
	}
	e.finish(ctx, conversation, s)
}

// advance sends the next step's prompt, records it, and re-arms the deadline.
func (e *Engine) advance(ctx context.Context, conversation int64, s *Session, text string, kb *Keyboard) error {
	id, err := e.tr.Send(ctx, conversation, text, kb)
	if err != nil {
		return err
	}
	record(s, id)
	e.arm(conversation)
	return nil
}

// reprompt repeats the current step's expectation after invalid input. The
// step and its armed deadline stay untouched.
func (e *Engine) reprompt(ctx context.Context, conversation int64, s *Session, text string) error {
	id, err := e.tr.Send(ctx, conversation, text, nil)
	if err != nil {
		return err
	}
	record(s, id)
	return nil
}

func (e *Engine) arm(conversation int64) {
	e.timeouts.Arm(conversation, e.cfg.Deadline, func(gen uint64) {
		e.expire(conversation, gen)
	})
}

func (e *Engine) answer(ctx context.Context, press Press, text string, alert bool) error {
	if press.ID == "" {
		return nil
	}
	return e.tr.AnswerButton(ctx, press, text, alert)
}

// requireLink reports the conversation's link, telling the user when the
// account is not linked yet. No session is created in that case.
func (e *Engine) requireLink(ctx context.Context, ev Event) (Link, bool, error) {
	link, found, err := e.links.Get(ctx, ev.Conversation)
	if err != nil {
		logger.Error(ctx, "flow", "link.lookup.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", ev.Conversation),
			slog.String("err", err.Error()),
		)
		_, sendErr := e.tr.Send(ctx, ev.Conversation, e.render.SubmitFailed(), nil)
		return Link{}, false, sendErr
	}
	if !found || link.Credential == "" {
		_, sendErr := e.tr.Send(ctx, ev.Conversation, e.render.NotLinked(), nil)
		return Link{}, false, sendErr
	}
	return link, true, nil
}

// reportRemoteFailure reports a failed remote call that prevented a flow
// from starting. No session exists at this point.
func (e *Engine) reportRemoteFailure(ctx context.Context, ev Event, err error) error {
	var domainErr *DomainError
	text := e.render.GroupsUnavailable()
	if errors.As(err, &domainErr) {
		text = e.render.SubmitRejected(domainErr.Complaints)
	}
	logger.Warn(ctx, "flow", "remote.fail",
		slog.String("status", "fail"),
		slog.Int64("chat_id", ev.Conversation),
		slog.String("err", err.Error()),
	)
	_, sendErr := e.tr.Send(ctx, ev.Conversation, text, nil)
	return sendErr
}

// closeOnRemoteFailure tears the session down after an unrecoverable remote
// call, branching the result text on the error class.
func (e *Engine) closeOnRemoteFailure(ctx context.Context, conversation int64, s *Session, err error) error {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return e.close(ctx, conversation, s, e.render.SubmitRejected(domainErr.Complaints))
	}
	return e.close(ctx, conversation, s, e.render.SubmitFailed())
}

func (e *Engine) pickGroup(s *Session, payload string) (Group, bool) {
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return Group{}, false
	}
	gc := s.groupChoice()
	if gc == nil {
		return Group{}, false
	}
	for _, g := range gc.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

// HasMember reports whether the group roster contains the member.
func (g Group) HasMember(id int64) bool {
	for _, m := range g.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}
