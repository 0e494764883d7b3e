// Package splitwise implements provider.Client against the Splitwise v3 REST API.
package splitwise

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"saldo/internal/core"
	"saldo/internal/provider"
)

const (
	DefaultBaseURL  = "https://secure.splitwise.com/api/v3.0"
	DefaultPageSize = 100

	// maxPages bounds pagination against a provider that never returns a short page.
	maxPages = 500
)

var _ provider.Client = (*Client)(nil)

type Client struct {
	httpClient *http.Client
	baseURL    string
	pageSize   int
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: timeout,
			},
		},
		baseURL:  baseURL,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type currentUserResponse struct {
	User struct {
		ID json.Number `json:"id"`
	} `json:"user"`
}

type expensesResponse struct {
	Expenses []apiExpense `json:"expenses"`
}

type apiExpense struct {
	ID           json.Number `json:"id"`
	Description  string      `json:"description"`
	Cost         string      `json:"cost"`
	CurrencyCode string      `json:"currency_code"`
	Date         string      `json:"date"`
	Payment      bool        `json:"payment"`
	DeletedAt    *string     `json:"deleted_at"`
	Category     *struct {
		Name string `json:"name"`
	} `json:"category"`
	Users []apiShare `json:"users"`
}

type apiShare struct {
	UserID json.Number `json:"user_id"`
	User   *struct {
		ID json.Number `json:"id"`
	} `json:"user"`
	PaidShare string `json:"paid_share"`
	OwedShare string `json:"owed_share"`
}

func (s apiShare) userID() string {
	if s.UserID != "" {
		return s.UserID.String()
	}
	if s.User != nil {
		return s.User.ID.String()
	}
	return ""
}

// FetchExpenses returns every expense visible to the token holder inside the window.
func (c *Client) FetchExpenses(ctx context.Context, creds provider.Credentials, window provider.DateWindow) ([]provider.Record, error) {
	if creds.Token == "" {
		return nil, fmt.Errorf("%w: missing token", provider.ErrAuthenticationFailed)
	}

	var me currentUserResponse
	if err := c.get(ctx, creds, "/get_current_user", nil, &me); err != nil {
		return nil, fmt.Errorf("get current user: %w", err)
	}
	userID := me.User.ID.String()
	if userID == "" {
		return nil, fmt.Errorf("%w: current user has no id", provider.ErrProviderUnavailable)
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.pageSize))
	start, end := window.Bounds()
	if !start.IsZero() {
		query.Set("dated_after", start.Format(time.RFC3339))
	}
	if !end.IsZero() {
		query.Set("dated_before", end.Format(time.RFC3339Nano))
	}

	var records []provider.Record
	offset := 0
	for page := 0; page < maxPages; page++ {
		query.Set("offset", strconv.Itoa(offset))
		var resp expensesResponse
		if err := c.get(ctx, creds, "/get_expenses", query, &resp); err != nil {
			return nil, fmt.Errorf("get expenses (offset=%d): %w", offset, err)
		}
		for _, e := range resp.Expenses {
			rec := toRecord(e, userID)
			if d, err := core.ParseDate(rec.Date); err == nil && !window.Contains(d) {
				continue
			}
			records = append(records, rec)
		}
		if len(resp.Expenses) < c.pageSize {
			break
		}
		offset += len(resp.Expenses)
	}

	slog.DebugContext(ctx, "Fetched provider expenses",
		"component", "provider",
		"records", len(records),
		"offset", offset)

	return records, nil
}

func toRecord(e apiExpense, userID string) provider.Record {
	rec := provider.Record{
		ID:          e.ID.String(),
		Description: e.Description,
		Cost:        e.Cost,
		Currency:    e.CurrencyCode,
		Date:        e.Date,
		Payment:     e.Payment,
		Deleted:     e.DeletedAt != nil && *e.DeletedAt != "",
	}
	if e.Category != nil {
		rec.Category = e.Category.Name
	}
	for _, share := range e.Users {
		if share.userID() == userID {
			rec.Participant = true
			rec.PaidShare = share.PaidShare
			rec.OwedShare = share.OwedShare
			break
		}
	}
	return rec
}

func (c *Client) get(ctx context.Context, creds provider.Credentials, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", provider.ErrAuthenticationFailed, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", provider.ErrProviderUnavailable, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", provider.ErrProviderUnavailable, err)
	}
	return nil
}
