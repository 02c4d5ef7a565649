package flow

import (
	"context"
	"strings"
)

// Button is a single inline control offered to the user.
type Button struct {
	Label   string
	Key     string
	Payload string
}

// Keyboard is an ordered grid of inline controls attached to a message.
type Keyboard struct {
	Rows [][]Button
}

// Press identifies one button press so the transport can acknowledge it.
type Press struct {
	ID      string
	Message int
}

// Transport is the chat side of the engine. Implementations must tolerate
// Delete being called for messages that are already gone.
type Transport interface {
	Send(ctx context.Context, conversation int64, text string, kb *Keyboard) (int, error)
	EditControls(ctx context.Context, conversation int64, messageID int, kb *Keyboard) error
	Delete(ctx context.Context, conversation int64, messageID int) error
	AnswerButton(ctx context.Context, press Press, text string, alert bool) error
}

// Link is the persisted account binding for one conversation.
type Link struct {
	Credential   string
	DefaultGroup int64 // 0 when no default group has been chosen
}

// Links persists account credentials and default-group choices per conversation.
type Links interface {
	Get(ctx context.Context, conversation int64) (Link, bool, error)
	SetCredential(ctx context.Context, conversation int64, credential string) error
	SetDefaultGroup(ctx context.Context, conversation int64, groupID int64) error
	Remove(ctx context.Context, conversation int64) error
}

// Member is one participant of an accounting group.
type Member struct {
	ID   int64
	Name string
}

// Group is an accounting group the linked account belongs to.
type Group struct {
	ID      int64
	Name    string
	Members []Member
}

// Share is one member's (paid, owed) pair on an expense, in cents.
type Share struct {
	MemberID int64
	Paid     int64
	Owed     int64
}

// Expense is the payload submitted to the accounting service.
type Expense struct {
	GroupID     int64
	Description string
	AmountCents int64
	Currency    string
	Shares      []Share
	// Token makes a retried submit idempotent on the service side.
	Token string
}

// Accounting is the remote accounting service. Calls either succeed, fail
// with a *DomainError carrying the service's complaints, or fail with a
// plain transport error.
type Accounting interface {
	ListGroups(ctx context.Context, credential string) ([]Group, error)
	GetGroup(ctx context.Context, credential string, id int64) (Group, error)
	CreateExpense(ctx context.Context, credential string, exp Expense) error
}

// DomainError is a structured rejection from the accounting service,
// e.g. a split validation failure. Complaints are reported to the user
// verbatim and the session is torn down.
type DomainError struct {
	Complaints []string
}

func (e *DomainError) Error() string {
	if len(e.Complaints) == 0 {
		return "accounting service rejected the request"
	}
	return strings.Join(e.Complaints, "; ")
}
