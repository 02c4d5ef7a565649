package splitwise

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/m3rciful/splitbot/flow"
)

func newTestClient(srv *httptest.Server) *Client {
	return &Client{baseURL: srv.URL, http: srv.Client()}
}

func TestListGroups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get_groups" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Fatalf("unexpected auth header %q", got)
		}
		_, _ = w.Write([]byte(`{"groups":[
			{"id":1,"name":"Flat","members":[
				{"id":11,"first_name":"Ann","last_name":"Lee"},
				{"id":12,"first_name":"Ben","last_name":null}
			]}
		]}`))
	}))
	defer srv.Close()

	groups, err := newTestClient(srv).ListGroups(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != 1 || groups[0].Name != "Flat" {
		t.Fatalf("unexpected groups: %+v", groups)
	}
	members := groups[0].Members
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if members[0].Name != "Ann Lee" {
		t.Fatalf("member name = %q, expected %q", members[0].Name, "Ann Lee")
	}
	// A null last name must not leave a trailing space.
	if members[1].Name != "Ben" {
		t.Fatalf("member name = %q, expected %q", members[1].Name, "Ben")
	}
}

func TestCreateExpenseSerialization(t *testing.T) {
	var captured createExpenseRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/create_expense" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	exp := flow.Expense{
		GroupID:     1,
		Description: "Dinner",
		AmountCents: 3001,
		Currency:    "EUR",
		Shares: []flow.Share{
			{MemberID: 11, Paid: 1501, Owed: 1501},
			{MemberID: 12, Paid: 1500, Owed: 1500},
		},
		Token: "tok-abc",
	}
	if err := newTestClient(srv).CreateExpense(context.Background(), "token-1", exp); err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}

	if captured.GroupID != 1 || captured.Description != "Dinner" {
		t.Fatalf("unexpected request: %+v", captured)
	}
	if captured.Cost != "30.01" || captured.CurrencyCode != "EUR" {
		t.Fatalf("cost = %s %s, expected 30.01 EUR", captured.Cost, captured.CurrencyCode)
	}
	if captured.Reference != "tok-abc" {
		t.Fatalf("reference = %q, expected tok-abc", captured.Reference)
	}
	if len(captured.Users) != 2 || captured.Users[0].OwedShare != "15.01" || captured.Users[1].PaidShare != "15.00" {
		t.Fatalf("unexpected shares: %+v", captured.Users)
	}
}

func TestRejectionBecomesDomainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":{
			"base":["The total of everyone's owed shares must equal the cost"],
			"cost":["must be greater than zero"]
		}}`))
	}))
	defer srv.Close()

	err := newTestClient(srv).CreateExpense(context.Background(), "token-1", flow.Expense{GroupID: 1})
	var domainErr *flow.DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected a DomainError, got %v", err)
	}
	if len(domainErr.Complaints) != 2 {
		t.Fatalf("unexpected complaints: %v", domainErr.Complaints)
	}
	// base complaints stay bare, field complaints carry a prefix.
	if domainErr.Complaints[0] != "The total of everyone's owed shares must equal the cost" {
		t.Fatalf("unexpected first complaint: %q", domainErr.Complaints[0])
	}
	if domainErr.Complaints[1] != "cost: must be greater than zero" {
		t.Fatalf("unexpected second complaint: %q", domainErr.Complaints[1])
	}
}

func TestServerErrorStaysPlain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).ListGroups(context.Background(), "token-1")
	if err == nil {
		t.Fatal("expected an error")
	}
	var domainErr *flow.DomainError
	if errors.As(err, &domainErr) {
		t.Fatalf("a 5xx must not become a DomainError: %v", err)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected the status code in the error, got %v", err)
	}
}

func TestUnparsableRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).ListGroups(context.Background(), "token-1")
	var domainErr *flow.DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected a DomainError, got %v", err)
	}
	if len(domainErr.Complaints) != 1 || !strings.Contains(domainErr.Complaints[0], "403") {
		t.Fatalf("unexpected complaints: %v", domainErr.Complaints)
	}
}
