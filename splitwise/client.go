package splitwise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/m3rciful/splitbot/core/logger"
	"github.com/m3rciful/splitbot/core/telegram/format"
	"github.com/m3rciful/splitbot/core/telegram/netutil"
	"github.com/m3rciful/splitbot/flow"
	"log/slog"
)

const (
	defaultBaseURL     = "https://secure.splitwise.com/api/v3.0"
	defaultDialTimeout = 5 * time.Second
	defaultTLSTimeout  = 5 * time.Second
	defaultRespTimeout = 10 * time.Second
	defaultTimeout     = 30 * time.Second
)

// Config tunes the accounting API client.
type Config struct {
	BaseURL string        `yaml:"base_url" envconfig:"SPLITWISE_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"SPLITWISE_TIMEOUT"`
}

// Client talks to the accounting service. It implements flow.Accounting:
// calls succeed, fail with *flow.DomainError when the service rejects the
// request, or fail with a plain transport error.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client with a transport tuned the same way as the Telegram
// one: bounded dial/TLS/response timeouts and retry on transient network
// failures.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   defaultTLSTimeout,
		ResponseHeaderTimeout: defaultRespTimeout,
	}

	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: &retryTransport{base: transport, maxRetries: 2, backoff: time.Second},
		},
	}
}

// ListGroups fetches the groups the linked account belongs to.
func (c *Client) ListGroups(ctx context.Context, credential string) ([]flow.Group, error) {
	var resp groupsResponse
	if err := c.call(ctx, http.MethodGet, "/get_groups", credential, nil, &resp); err != nil {
		return nil, err
	}
	groups := make([]flow.Group, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		groups = append(groups, mapGroup(g))
	}
	return groups, nil
}

// GetGroup fetches a single group with its member roster.
func (c *Client) GetGroup(ctx context.Context, credential string, id int64) (flow.Group, error) {
	var resp groupResponse
	path := fmt.Sprintf("/get_group/%d", id)
	if err := c.call(ctx, http.MethodGet, path, credential, nil, &resp); err != nil {
		return flow.Group{}, err
	}
	return mapGroup(resp.Group), nil
}

// CreateExpense submits the accumulated expense.
func (c *Client) CreateExpense(ctx context.Context, credential string, exp flow.Expense) error {
	req := createExpenseRequest{
		GroupID:      exp.GroupID,
		Description:  exp.Description,
		Cost:         flow.FormatCents(exp.AmountCents),
		CurrencyCode: exp.Currency,
		Reference:    exp.Token,
	}
	for _, s := range exp.Shares {
		req.Users = append(req.Users, apiShare{
			UserID:    s.MemberID,
			PaidShare: flow.FormatCents(s.Paid),
			OwedShare: flow.FormatCents(s.Owed),
		})
	}
	return c.call(ctx, http.MethodPost, "/create_expense", credential, req, nil)
}

func (c *Client) call(ctx context.Context, method, path, credential string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("splitwise: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("splitwise: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Error(ctx, "service.split", "api.call.fail",
			slog.String("status", "fail"),
			slog.String("op", method+" "+path),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("splitwise: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("splitwise: read response: %w", err)
	}

	logger.Debug(ctx, "service.split", "api.call",
		slog.String("status", logger.Status(nil)),
		slog.String("op", method+" "+path),
		slog.Int("http_code", resp.StatusCode),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("splitwise: decode response: %w", err)
		}
	}
	return nil
}

// decodeAPIError maps a 4xx rejection to a structured *flow.DomainError so
// the engine can report the service's complaints verbatim. 5xx stays a
// plain error: the user is told to retry, not what the service choked on.
func decodeAPIError(status int, data []byte) error {
	if status >= 500 {
		return fmt.Errorf("splitwise: service error (%d)", status)
	}

	var parsed errorResponse
	_ = json.Unmarshal(data, &parsed)

	var complaints []string
	if parsed.Error != "" {
		complaints = append(complaints, parsed.Error)
	}
	fields := make([]string, 0, len(parsed.Errors))
	for field := range parsed.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		for _, msg := range parsed.Errors[field] {
			if field == "base" {
				complaints = append(complaints, msg)
				continue
			}
			complaints = append(complaints, field+": "+msg)
		}
	}
	if len(complaints) == 0 {
		complaints = append(complaints, fmt.Sprintf("request rejected (%d)", status))
	}
	return &flow.DomainError{Complaints: complaints}
}

func mapGroup(g apiGroup) flow.Group {
	members := make([]flow.Member, 0, len(g.Members))
	for _, m := range g.Members {
		name := strings.TrimSpace(m.FirstName + " " + format.DerefString(m.LastName, ""))
		members = append(members, flow.Member{ID: m.ID, Name: name})
	}
	return flow.Group{ID: g.ID, Name: g.Name, Members: members}
}

// retryTransport retries transient network failures, mirroring the Telegram
// HTTP client. Requests without a rewindable body are not retried.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := t.maxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		currReq := req
		if attempt > 1 {
			currReq = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				currReq.Body = body
			} else if req.Body != nil {
				return nil, lastErr
			}
		}

		resp, err := base.RoundTrip(currReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !netutil.ShouldRetry(err) || attempt == attempts {
			break
		}

		timer := time.NewTimer(t.backoff * time.Duration(attempt))
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}
