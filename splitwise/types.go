package splitwise

// Wire types for the accounting API. Only the fields the bot consumes are
// mapped; the service sends more.

type apiMember struct {
	ID        int64   `json:"id"`
	FirstName string  `json:"first_name"`
	LastName  *string `json:"last_name"`
}

type apiGroup struct {
	ID      int64       `json:"id"`
	Name    string      `json:"name"`
	Members []apiMember `json:"members"`
}

type groupsResponse struct {
	Groups []apiGroup `json:"groups"`
}

type groupResponse struct {
	Group apiGroup `json:"group"`
}

type apiShare struct {
	UserID    int64  `json:"user_id"`
	PaidShare string `json:"paid_share"`
	OwedShare string `json:"owed_share"`
}

type createExpenseRequest struct {
	GroupID      int64      `json:"group_id"`
	Description  string     `json:"description"`
	Cost         string     `json:"cost"`
	CurrencyCode string     `json:"currency_code"`
	Users        []apiShare `json:"users"`
	// Reference is echoed back by the service and deduplicates retried
	// submissions.
	Reference string `json:"reference,omitempty"`
}

type errorResponse struct {
	Error  string              `json:"error"`
	Errors map[string][]string `json:"errors"`
}
