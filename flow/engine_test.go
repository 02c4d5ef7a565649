package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const (
	testChat     int64 = 100
	testOwner    int64 = 7
	testIntruder int64 = 8
)

type editCall struct {
	message int
	kb      *Keyboard
}

type answerCall struct {
	press Press
	text  string
	alert bool
}

type fakeTransport struct {
	mu      sync.Mutex
	nextID  int
	texts   map[int]string
	deleted []int
	edits   []editCall
	answers []answerCall
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{texts: map[int]string{}}
}

func (f *fakeTransport) Send(ctx context.Context, conversation int64, text string, kb *Keyboard) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextID++
	f.texts[f.nextID] = text
	return f.nextID, nil
}

func (f *fakeTransport) EditControls(ctx context.Context, conversation int64, messageID int, kb *Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editCall{message: messageID, kb: kb})
	return nil
}

func (f *fakeTransport) Delete(ctx context.Context, conversation int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) AnswerButton(ctx context.Context, press Press, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answerCall{press: press, text: text, alert: alert})
	return nil
}

func (f *fakeTransport) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts[f.nextID]
}

func (f *fakeTransport) wasDeleted(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deleted {
		if d == id {
			return true
		}
	}
	return false
}

func (f *fakeTransport) lastAnswer() answerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		return answerCall{}
	}
	return f.answers[len(f.answers)-1]
}

type fakeLinks struct {
	link       Link
	linked     bool
	getErr     error
	setErr     error
	defaultSet []int64
}

func (f *fakeLinks) Get(ctx context.Context, conversation int64) (Link, bool, error) {
	return f.link, f.linked, f.getErr
}

func (f *fakeLinks) SetCredential(ctx context.Context, conversation int64, credential string) error {
	f.link.Credential = credential
	f.linked = true
	return nil
}

func (f *fakeLinks) SetDefaultGroup(ctx context.Context, conversation int64, groupID int64) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.defaultSet = append(f.defaultSet, groupID)
	f.link.DefaultGroup = groupID
	return nil
}

func (f *fakeLinks) Remove(ctx context.Context, conversation int64) error {
	f.linked = false
	f.link = Link{}
	return nil
}

type fakeAccounting struct {
	groups    []Group
	listErr   error
	getErr    error
	createErr error
	created   []Expense
}

func (f *fakeAccounting) ListGroups(ctx context.Context, credential string) ([]Group, error) {
	return f.groups, f.listErr
}

func (f *fakeAccounting) GetGroup(ctx context.Context, credential string, id int64) (Group, error) {
	if f.getErr != nil {
		return Group{}, f.getErr
	}
	for _, g := range f.groups {
		if g.ID == id {
			return g, nil
		}
	}
	return Group{}, errors.New("group not found")
}

func (f *fakeAccounting) CreateExpense(ctx context.Context, credential string, exp Expense) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, exp)
	return nil
}

// fakeRenderer returns sentinel texts so assertions can identify which
// message reached the transport.
type fakeRenderer struct{}

func (fakeRenderer) GroupList(groups []Group) (string, *Keyboard)        { return "group-list", &Keyboard{} }
func (fakeRenderer) DefaultGroupList(groups []Group) (string, *Keyboard) { return "default-group-list", &Keyboard{} }
func (fakeRenderer) GroupDetail(g Group) (string, *Keyboard)             { return "group-detail", &Keyboard{} }
func (fakeRenderer) AskDescription(g Group) (string, *Keyboard)          { return "ask-description", &Keyboard{} }
func (fakeRenderer) AskAmount(currency string) (string, *Keyboard)       { return "ask-amount", &Keyboard{} }
func (fakeRenderer) AskSplitChoice(w *Wizard) (string, *Keyboard)        { return "ask-split-choice", &Keyboard{} }
func (fakeRenderer) MemberRoster(w *Wizard) (string, *Keyboard)          { return "member-roster", &Keyboard{} }

func (fakeRenderer) ExpenseCreated(w *Wizard, memberCount int) string { return "expense-created" }
func (fakeRenderer) SubmitRejected(complaints []string) string        { return "submit-rejected" }
func (fakeRenderer) SubmitFailed() string                             { return "submit-failed" }
func (fakeRenderer) DefaultGroupSet(g Group) string                   { return "default-group-set" }

func (fakeRenderer) NotLinked() string         { return "not-linked" }
func (fakeRenderer) NoDefaultGroup() string    { return "no-default-group" }
func (fakeRenderer) NoGroups() string          { return "no-groups" }
func (fakeRenderer) GroupsUnavailable() string { return "groups-unavailable" }
func (fakeRenderer) EmptyDescription() string  { return "empty-description" }
func (fakeRenderer) BadAmount() string         { return "bad-amount" }
func (fakeRenderer) NoMembersSelected() string { return "no-members-selected" }
func (fakeRenderer) ForeignSession() string    { return "foreign-session" }
func (fakeRenderer) SessionExpired() string    { return "session-expired" }
func (fakeRenderer) Cancelled() string         { return "cancelled" }

type fixture struct {
	engine   *Engine
	store    Store
	timeouts *Timeouts
	clock    *fakeClock
	tr       *fakeTransport
	links    *fakeLinks
	acct     *fakeAccounting
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{}
	store := NewMemoryStore()
	timeouts := NewTimeouts(clock)
	tr := newFakeTransport()
	links := &fakeLinks{
		link:   Link{Credential: "token", DefaultGroup: 1},
		linked: true,
	}
	acct := &fakeAccounting{
		groups: []Group{
			{ID: 1, Name: "Flat", Members: []Member{{ID: 11, Name: "Ann"}, {ID: 12, Name: "Ben"}}},
			{ID: 2, Name: "Trip", Members: []Member{{ID: 11, Name: "Ann"}, {ID: 13, Name: "Cid"}}},
		},
	}
	cfg := Config{Deadline: 5 * time.Minute, DefaultCurrency: "USD"}
	return &fixture{
		engine:   NewEngine(cfg, store, timeouts, tr, links, acct, fakeRenderer{}),
		store:    store,
		timeouts: timeouts,
		clock:    clock,
		tr:       tr,
		links:    links,
		acct:     acct,
	}
}

func ownerEvent() Event {
	return Event{Conversation: testChat, Actor: testOwner}
}

func ownerText(text string) Event {
	ev := ownerEvent()
	ev.Text = text
	return ev
}

func ownerPress(key, payload string) Event {
	ev := ownerEvent()
	ev.Key = key
	ev.Payload = payload
	ev.Press = Press{ID: "cb-1", Message: 1}
	return ev
}

// startWizard drives a fixture to awaiting_description via /expense.
func startWizard(t *testing.T, f *fixture) {
	t.Helper()
	if err := f.engine.StartExpense(context.Background(), ownerEvent()); err != nil {
		t.Fatalf("StartExpense: %v", err)
	}
	mustStep(t, f, StepAwaitingDescription)
}

func mustStep(t *testing.T, f *fixture, step Step) {
	t.Helper()
	s, ok := f.store.Get(testChat)
	if !ok {
		t.Fatalf("expected an open session at step %s", step)
	}
	if s.Step != step {
		t.Fatalf("step = %s, expected %s", s.Step, step)
	}
}

func mustClosed(t *testing.T, f *fixture) {
	t.Helper()
	if _, ok := f.store.Get(testChat); ok {
		t.Fatal("expected the session removed")
	}
	if f.timeouts.Pending(testChat) {
		t.Fatal("expected the deadline disarmed")
	}
}

func TestExpenseEqualSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	if !f.timeouts.Pending(testChat) {
		t.Fatal("expected an armed deadline after opening")
	}

	if err := f.engine.HandleText(ctx, ownerText("Dinner")); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	mustStep(t, f, StepAwaitingAmount)

	if err := f.engine.HandleText(ctx, ownerText("30 EUR")); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	mustStep(t, f, StepAwaitingSplitChoice)

	s, _ := f.store.Get(testChat)
	token := s.wizard().Token
	if token == "" {
		t.Fatal("expected an idempotency token after the amount step")
	}

	if err := f.engine.HandleButton(ctx, ownerPress(KeySplitEqual, "")); err != nil {
		t.Fatalf("HandleButton: %v", err)
	}
	mustClosed(t, f)

	if len(f.acct.created) != 1 {
		t.Fatalf("expected 1 expense, got %d", len(f.acct.created))
	}
	exp := f.acct.created[0]
	if exp.GroupID != 1 || exp.Description != "Dinner" || exp.AmountCents != 3000 || exp.Currency != "EUR" {
		t.Fatalf("unexpected expense: %+v", exp)
	}
	if exp.Token != token {
		t.Fatalf("token = %s, expected %s", exp.Token, token)
	}
	if len(exp.Shares) != 2 {
		t.Fatalf("expected 2 shares, got %d", len(exp.Shares))
	}
	var sum int64
	for _, sh := range exp.Shares {
		sum += sh.Owed
	}
	if sum != 3000 {
		t.Fatalf("shares sum to %d, expected 3000", sum)
	}

	// Prompts 1..3 were flushed; the result message survives the cleanup.
	for id := 1; id <= 3; id++ {
		if !f.tr.wasDeleted(id) {
			t.Fatalf("expected prompt %d deleted", id)
		}
	}
	if f.tr.wasDeleted(4) {
		t.Fatal("result message must not be deleted")
	}
	if f.tr.lastText() != "expense-created" {
		t.Fatalf("last message = %q, expected expense-created", f.tr.lastText())
	}
}

func TestExpenseCustomSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	f.engine.HandleText(ctx, ownerText("Taxi"))
	f.engine.HandleText(ctx, ownerText("10"))
	mustStep(t, f, StepAwaitingSplitChoice)

	if err := f.engine.HandleButton(ctx, ownerPress(KeySplitCustom, "")); err != nil {
		t.Fatalf("choose custom: %v", err)
	}
	mustStep(t, f, StepSelectingMembers)

	// Submitting with nothing selected re-prompts in place.
	if err := f.engine.HandleButton(ctx, ownerPress(KeySubmit, "")); err != nil {
		t.Fatalf("empty submit: %v", err)
	}
	mustStep(t, f, StepSelectingMembers)
	if ans := f.tr.lastAnswer(); ans.text != "no-members-selected" || !ans.alert {
		t.Fatalf("expected an alert answer, got %+v", ans)
	}

	// Toggling edits the roster controls in place without a new artifact.
	before := len(f.tr.texts)
	if err := f.engine.HandleButton(ctx, ownerPress(KeyMemberToggle, "11")); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if len(f.tr.texts) != before {
		t.Fatal("toggle must not send a new message")
	}
	if len(f.tr.edits) != 1 || f.tr.edits[0].message != 4 {
		t.Fatalf("expected an in-place edit of the roster, got %+v", f.tr.edits)
	}
	if !f.timeouts.Pending(testChat) {
		t.Fatal("expected the deadline re-armed after toggle")
	}

	// Toggling twice deselects again.
	f.engine.HandleButton(ctx, ownerPress(KeyMemberToggle, "11"))
	s, _ := f.store.Get(testChat)
	if len(s.wizard().Selected) != 0 {
		t.Fatal("double toggle must leave the member deselected")
	}

	f.engine.HandleButton(ctx, ownerPress(KeyMemberToggle, "11"))
	if err := f.engine.HandleButton(ctx, ownerPress(KeySubmit, "")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	mustClosed(t, f)

	if len(f.acct.created) != 1 {
		t.Fatalf("expected 1 expense, got %d", len(f.acct.created))
	}
	exp := f.acct.created[0]
	if len(exp.Shares) != 1 || exp.Shares[0].MemberID != 11 || exp.Shares[0].Owed != 1000 {
		t.Fatalf("unexpected shares: %+v", exp.Shares)
	}
	if exp.Currency != "USD" {
		t.Fatalf("currency = %s, expected the USD default", exp.Currency)
	}
}

func TestUnknownMemberToggleIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	f.engine.HandleText(ctx, ownerText("Taxi"))
	f.engine.HandleText(ctx, ownerText("10"))
	f.engine.HandleButton(ctx, ownerPress(KeySplitCustom, ""))

	f.engine.HandleButton(ctx, ownerPress(KeyMemberToggle, "999"))
	s, _ := f.store.Get(testChat)
	if len(s.wizard().Selected) != 0 {
		t.Fatal("a member outside the roster must not be selectable")
	}
}

func TestForeignPressRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	f.engine.HandleText(ctx, ownerText("Dinner"))
	f.engine.HandleText(ctx, ownerText("30"))

	ev := ownerPress(KeySplitEqual, "")
	ev.Actor = testIntruder
	if err := f.engine.HandleButton(ctx, ev); err != nil {
		t.Fatalf("HandleButton: %v", err)
	}

	mustStep(t, f, StepAwaitingSplitChoice)
	if len(f.acct.created) != 0 {
		t.Fatal("a foreign press must not submit")
	}
	if ans := f.tr.lastAnswer(); ans.text != "foreign-session" {
		t.Fatalf("expected a visible rejection, got %+v", ans)
	}
}

func TestForeignTextIgnoredSilently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	sent := len(f.tr.texts)

	ev := ownerText("hijack")
	ev.Actor = testIntruder
	if err := f.engine.HandleText(ctx, ev); err != nil {
		t.Fatalf("HandleText: %v", err)
	}

	mustStep(t, f, StepAwaitingDescription)
	s, _ := f.store.Get(testChat)
	if s.wizard().Description != "" {
		t.Fatal("foreign text must not be consumed")
	}
	if len(f.tr.texts) != sent {
		t.Fatal("foreign text must produce no reply")
	}
}

func TestStalePressAcknowledged(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.HandleButton(context.Background(), ownerPress(KeySubmit, "")); err != nil {
		t.Fatalf("HandleButton: %v", err)
	}
	if len(f.tr.answers) != 1 {
		t.Fatalf("expected exactly one ack, got %d", len(f.tr.answers))
	}
	if ans := f.tr.lastAnswer(); ans.text != "" || ans.alert {
		t.Fatalf("expected a bare ack, got %+v", ans)
	}
	if len(f.tr.texts) != 0 {
		t.Fatal("a stale press must not produce messages")
	}
}

func TestWrongStepPressDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	// A submit press while awaiting a description must not transition.
	if err := f.engine.HandleButton(ctx, ownerPress(KeySubmit, "")); err != nil {
		t.Fatalf("HandleButton: %v", err)
	}
	mustStep(t, f, StepAwaitingDescription)
}

func TestEmptyDescriptionReprompts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	if err := f.engine.HandleText(ctx, ownerText("   ")); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	mustStep(t, f, StepAwaitingDescription)
	if f.tr.lastText() != "empty-description" {
		t.Fatalf("last message = %q, expected empty-description", f.tr.lastText())
	}
}

func TestBadAmountReprompts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	f.engine.HandleText(ctx, ownerText("Dinner"))
	if err := f.engine.HandleText(ctx, ownerText("lots")); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	mustStep(t, f, StepAwaitingAmount)
	if f.tr.lastText() != "bad-amount" {
		t.Fatalf("last message = %q, expected bad-amount", f.tr.lastText())
	}

	// The re-prompt is an artifact and is flushed with the rest.
	repromptID := f.tr.nextID
	f.engine.Cancel(ctx, ownerEvent())
	if !f.tr.wasDeleted(repromptID) {
		t.Fatal("expected the re-prompt flushed on teardown")
	}
}

func TestCancelByOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	if err := f.engine.Cancel(ctx, ownerEvent()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	mustClosed(t, f)
	if f.tr.lastText() != "cancelled" {
		t.Fatalf("last message = %q, expected cancelled", f.tr.lastText())
	}
	if !f.tr.wasDeleted(1) {
		t.Fatal("expected the prompt flushed")
	}
}

func TestCancelByNonOwnerIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	ev := ownerEvent()
	ev.Actor = testIntruder
	if err := f.engine.Cancel(ctx, ev); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	mustStep(t, f, StepAwaitingDescription)
}

func TestCancelButton(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	if err := f.engine.HandleButton(ctx, ownerPress(KeyCancel, "")); err != nil {
		t.Fatalf("HandleButton: %v", err)
	}
	mustClosed(t, f)
	if f.tr.lastText() != "cancelled" {
		t.Fatalf("last message = %q, expected cancelled", f.tr.lastText())
	}
}

func TestExpiry(t *testing.T) {
	f := newFixture(t)

	startWizard(t, f)
	promptID := f.tr.nextID

	if !f.clock.fire() {
		t.Fatal("expected a live deadline")
	}
	mustClosed(t, f)

	// Controls are stripped from the last prompt before it is retracted.
	if len(f.tr.edits) != 1 || f.tr.edits[0].message != promptID || f.tr.edits[0].kb != nil {
		t.Fatalf("expected a control strip on message %d, got %+v", promptID, f.tr.edits)
	}
	if !f.tr.wasDeleted(promptID) {
		t.Fatal("expected the prompt flushed")
	}

	// The expiry notice is recorded and flushed along with the artifacts.
	noticeID := promptID + 1
	if f.tr.texts[noticeID] != "session-expired" {
		t.Fatalf("message %d = %q, expected session-expired", noticeID, f.tr.texts[noticeID])
	}
	if !f.tr.wasDeleted(noticeID) {
		t.Fatal("expected the expiry notice flushed")
	}
}

func TestExpiryAfterCloseIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	stale := f.clock.latest()
	f.engine.Cancel(ctx, ownerEvent())
	sent := len(f.tr.texts)

	// The deadline fired while the cancel held the lock; its claim fails.
	stale.fn()
	if len(f.tr.texts) != sent {
		t.Fatal("expiry of a closed session must produce no messages")
	}
}

func TestStaleExpiryAfterReArmIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	f.engine.HandleText(ctx, ownerText("Taxi"))
	f.engine.HandleText(ctx, ownerText("10"))
	f.engine.HandleButton(ctx, ownerPress(KeySplitCustom, ""))
	mustStep(t, f, StepSelectingMembers)

	// The roster deadline fires, but a member toggle wins the conversation
	// lock first and re-arms a fresh deadline.
	stale := f.clock.latest()
	f.engine.HandleButton(ctx, ownerPress(KeyMemberToggle, "11"))
	if !f.timeouts.Pending(testChat) {
		t.Fatal("expected a fresh deadline after the toggle")
	}

	stale.fn()

	mustStep(t, f, StepSelectingMembers)
	s, _ := f.store.Get(testChat)
	if _, on := s.wizard().Selected[11]; !on {
		t.Fatal("the toggled selection must survive the stale firing")
	}
	if !f.timeouts.Pending(testChat) {
		t.Fatal("the fresh deadline must stay pending")
	}

	// The fresh deadline still expires the session when left alone.
	if !f.clock.fire() {
		t.Fatal("expected a live deadline")
	}
	mustClosed(t, f)
}

func TestNewCommandReplacesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	startWizard(t, f)
	oldPrompt := f.tr.nextID

	if err := f.engine.StartGroupBrowse(ctx, ownerEvent()); err != nil {
		t.Fatalf("StartGroupBrowse: %v", err)
	}
	mustStep(t, f, StepBrowsingGroups)
	if !f.tr.wasDeleted(oldPrompt) {
		t.Fatal("expected the replaced session's artifacts flushed")
	}
}

func TestGroupBrowseDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.StartGroupBrowse(ctx, ownerEvent()); err != nil {
		t.Fatalf("StartGroupBrowse: %v", err)
	}
	mustStep(t, f, StepBrowsingGroups)
	listID := f.tr.nextID

	if err := f.engine.HandleButton(ctx, ownerPress(KeyGroup, "2")); err != nil {
		t.Fatalf("HandleButton: %v", err)
	}
	mustClosed(t, f)

	if !f.tr.wasDeleted(listID) {
		t.Fatal("expected the listing flushed")
	}
	if f.tr.lastText() != "group-detail" {
		t.Fatalf("last message = %q, expected group-detail", f.tr.lastText())
	}
	if f.tr.wasDeleted(f.tr.nextID) {
		t.Fatal("the detail message must survive the cleanup")
	}
}

func TestSetDefaultGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.StartDefaultGroupChoice(ctx, ownerEvent()); err != nil {
		t.Fatalf("StartDefaultGroupChoice: %v", err)
	}
	mustStep(t, f, StepChoosingDefaultGroup)

	if err := f.engine.HandleButton(ctx, ownerPress(KeyDefaultGroup, "2")); err != nil {
		t.Fatalf("HandleButton: %v", err)
	}
	mustClosed(t, f)

	if len(f.links.defaultSet) != 1 || f.links.defaultSet[0] != 2 {
		t.Fatalf("default group persisted as %v, expected [2]", f.links.defaultSet)
	}
	if f.tr.lastText() != "default-group-set" {
		t.Fatalf("last message = %q, expected default-group-set", f.tr.lastText())
	}
}

func TestStartExpenseRequiresLink(t *testing.T) {
	f := newFixture(t)
	f.links.linked = false

	if err := f.engine.StartExpense(context.Background(), ownerEvent()); err != nil {
		t.Fatalf("StartExpense: %v", err)
	}
	if _, ok := f.store.Get(testChat); ok {
		t.Fatal("no session may open without a link")
	}
	if f.tr.lastText() != "not-linked" {
		t.Fatalf("last message = %q, expected not-linked", f.tr.lastText())
	}
}

func TestStartExpenseRequiresDefaultGroup(t *testing.T) {
	f := newFixture(t)
	f.links.link.DefaultGroup = 0

	if err := f.engine.StartExpense(context.Background(), ownerEvent()); err != nil {
		t.Fatalf("StartExpense: %v", err)
	}
	if _, ok := f.store.Get(testChat); ok {
		t.Fatal("no session may open without a default group")
	}
	if f.tr.lastText() != "no-default-group" {
		t.Fatalf("last message = %q, expected no-default-group", f.tr.lastText())
	}
}

func TestStartExpenseInGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := ownerPress(KeyExpenseIn, "2")
	if err := f.engine.StartExpenseInGroup(ctx, ev); err != nil {
		t.Fatalf("StartExpenseInGroup: %v", err)
	}
	mustStep(t, f, StepAwaitingDescription)

	s, _ := f.store.Get(testChat)
	if s.wizard().Group.ID != 2 {
		t.Fatalf("wizard group = %d, expected 2", s.wizard().Group.ID)
	}
}

func TestGroupBrowseEmpty(t *testing.T) {
	f := newFixture(t)
	f.acct.groups = nil

	if err := f.engine.StartGroupBrowse(context.Background(), ownerEvent()); err != nil {
		t.Fatalf("StartGroupBrowse: %v", err)
	}
	if _, ok := f.store.Get(testChat); ok {
		t.Fatal("an empty listing must not open a session")
	}
	if f.tr.lastText() != "no-groups" {
		t.Fatalf("last message = %q, expected no-groups", f.tr.lastText())
	}
}

func TestGroupBrowseRemoteFailure(t *testing.T) {
	f := newFixture(t)
	f.acct.listErr = errors.New("upstream down")

	if err := f.engine.StartGroupBrowse(context.Background(), ownerEvent()); err != nil {
		t.Fatalf("StartGroupBrowse: %v", err)
	}
	if _, ok := f.store.Get(testChat); ok {
		t.Fatal("a failed listing must not open a session")
	}
	if f.tr.lastText() != "groups-unavailable" {
		t.Fatalf("last message = %q, expected groups-unavailable", f.tr.lastText())
	}
}

func TestSubmitDomainRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.acct.createErr = &DomainError{Complaints: []string{"amount: over group limit"}}

	startWizard(t, f)
	f.engine.HandleText(ctx, ownerText("Dinner"))
	f.engine.HandleText(ctx, ownerText("30"))
	if err := f.engine.HandleButton(ctx, ownerPress(KeySplitEqual, "")); err != nil {
		t.Fatalf("HandleButton: %v", err)
	}

	mustClosed(t, f)
	if f.tr.lastText() != "submit-rejected" {
		t.Fatalf("last message = %q, expected submit-rejected", f.tr.lastText())
	}
}

func TestSubmitTransportFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.acct.createErr = errors.New("timeout")

	startWizard(t, f)
	f.engine.HandleText(ctx, ownerText("Dinner"))
	f.engine.HandleText(ctx, ownerText("30"))
	if err := f.engine.HandleButton(ctx, ownerPress(KeySplitEqual, "")); err != nil {
		t.Fatalf("HandleButton: %v", err)
	}

	mustClosed(t, f)
	if f.tr.lastText() != "submit-failed" {
		t.Fatalf("last message = %q, expected submit-failed", f.tr.lastText())
	}
}
