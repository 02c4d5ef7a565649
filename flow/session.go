package flow

// Step identifies the state a session's wizard is in.
type Step string

const (
	// StepBrowsingGroups waits for a group button on the /groups listing.
	StepBrowsingGroups Step = "browsing_groups"
	// StepChoosingDefaultGroup waits for a group button on the /setgroup listing.
	StepChoosingDefaultGroup Step = "choosing_default_group"
	// StepAwaitingDescription waits for the expense description as free text.
	StepAwaitingDescription Step = "awaiting_description"
	// StepAwaitingAmount waits for "<amount>[ <currency>]" as free text.
	StepAwaitingAmount Step = "awaiting_amount"
	// StepAwaitingSplitChoice waits for the equal/custom split button.
	StepAwaitingSplitChoice Step = "awaiting_split_choice"
	// StepSelectingMembers waits for member toggles and the submit button.
	StepSelectingMembers Step = "selecting_members"
)

// expectsText reports whether the step consumes free-text input.
func (s Step) expectsText() bool {
	return s == StepAwaitingDescription || s == StepAwaitingAmount
}

// Data is the step-scoped payload of a session. Exactly one variant is
// populated; GroupChoice serves both group-list steps and Wizard serves the
// expense steps, which accumulate fields in step order and never read a
// field before the step producing it has completed.
type Data interface {
	isData()
}

// GroupChoice carries the group listing shown to the user while a group
// button press is awaited.
type GroupChoice struct {
	Groups []Group
}

func (*GroupChoice) isData() {}

// Wizard accumulates the expense being built. Description is valid once
// awaiting_description completed, AmountCents/Currency once awaiting_amount
// completed, Selected only while selecting members.
type Wizard struct {
	Group       Group
	Description string
	AmountCents int64
	Currency    string
	Selected    map[int64]struct{}
	Token       string
}

func (*Wizard) isData() {}

// Session is the ephemeral record of one in-progress flow for a conversation.
type Session struct {
	Owner int64
	Step  Step
	Data  Data
	// Artifacts lists engine-produced message ids in send order; cleanup
	// retracts them in that order on every termination path.
	Artifacts []int
}

// wizard returns the expense payload, which is only called from steps whose
// entry guarantees the variant.
func (s *Session) wizard() *Wizard {
	w, _ := s.Data.(*Wizard)
	return w
}

func (s *Session) groupChoice() *GroupChoice {
	g, _ := s.Data.(*GroupChoice)
	return g
}

// lastArtifact returns the most recent recorded message id, or 0.
func (s *Session) lastArtifact() int {
	if len(s.Artifacts) == 0 {
		return 0
	}
	return s.Artifacts[len(s.Artifacts)-1]
}
