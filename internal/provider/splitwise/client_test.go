package splitwise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"saldo/internal/core"
	"saldo/internal/provider"
)

type fakeSplitwise struct {
	mu       sync.Mutex
	expenses []map[string]any
	offsets  []string
	query    map[string]string
	auth     string
}

func (f *fakeSplitwise) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/get_current_user", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"user": map[string]any{"id": 42}})
	})
	mux.HandleFunc("/get_expenses", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		f.mu.Lock()
		f.offsets = append(f.offsets, q.Get("offset"))
		f.query = map[string]string{"dated_after": q.Get("dated_after"), "dated_before": q.Get("dated_before")}
		f.mu.Unlock()

		end := offset + limit
		if end > len(f.expenses) {
			end = len(f.expenses)
		}
		page := []map[string]any{}
		if offset < len(f.expenses) {
			page = f.expenses[offset:end]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"expenses": page})
	})
	return mux
}

func expense(id int, date string, paid, owed string) map[string]any {
	return map[string]any{
		"id":            id,
		"description":   fmt.Sprintf("expense %d", id),
		"cost":          "30.00",
		"currency_code": "EUR",
		"date":          date,
		"payment":       false,
		"deleted_at":    nil,
		"category":      map[string]any{"name": "Dining out"},
		"users": []map[string]any{
			{"user": map[string]any{"id": 7}, "user_id": 7, "paid_share": "30.00", "owed_share": "15.00"},
			{"user": map[string]any{"id": 42}, "user_id": 42, "paid_share": paid, "owed_share": owed},
		},
	}
}

func TestFetchExpenses_Paginates(t *testing.T) {
	fake := &fakeSplitwise{}
	for i := 1; i <= 5; i++ {
		fake.expenses = append(fake.expenses, expense(i, "2024-05-0"+strconv.Itoa(i)+"T10:00:00Z", "0", "15.00"))
	}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := New(srv.URL, time.Second, WithPageSize(2))
	recs, err := c.FetchExpenses(context.Background(), provider.Credentials{Token: "tok"}, provider.DateWindow{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("expected 5 records, got %d", len(recs))
	}
	if want := []string{"0", "2", "4"}; fmt.Sprint(fake.offsets) != fmt.Sprint(want) {
		t.Errorf("offsets = %v, want %v", fake.offsets, want)
	}
	if fake.auth != "Bearer tok" {
		t.Errorf("authorization header = %q", fake.auth)
	}

	r := recs[0]
	if r.ID != "1" || r.Currency != "EUR" || r.Category != "Dining out" || !r.Participant {
		t.Errorf("unexpected record %+v", r)
	}
	if r.PaidShare != "0" || r.OwedShare != "15.00" {
		t.Errorf("shares taken from the wrong user: %+v", r)
	}
}

func TestFetchExpenses_DateWindow(t *testing.T) {
	fake := &fakeSplitwise{expenses: []map[string]any{
		expense(1, "2024-04-30T23:00:00Z", "0", "10"),
		expense(2, "2024-05-01T00:00:00Z", "0", "10"),
		expense(3, "2024-05-31T23:59:00Z", "0", "10"),
		expense(4, "2024-06-01T00:00:00Z", "0", "10"),
	}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	start, end := core.NewDate(2024, 5, 1), core.NewDate(2024, 5, 31)
	c := New(srv.URL, time.Second)
	recs, err := c.FetchExpenses(context.Background(), provider.Credentials{Token: "tok"}, provider.DateWindow{Start: &start, End: &end})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ID != "2" || recs[1].ID != "3" {
		t.Fatalf("window filter kept %+v", recs)
	}
	if fake.query["dated_after"] != "2024-05-01T00:00:00Z" {
		t.Errorf("dated_after = %q", fake.query["dated_after"])
	}
	if fake.query["dated_before"] != "2024-05-31T23:59:59.999999Z" {
		t.Errorf("dated_before = %q", fake.query["dated_before"])
	}
}

func TestFetchExpenses_NonParticipantAndDeleted(t *testing.T) {
	other := expense(1, "2024-05-01", "0", "0")
	other["users"] = []map[string]any{{"user_id": 7, "paid_share": "30", "owed_share": "30"}}
	deleted := expense(2, "2024-05-01", "0", "10")
	deleted["deleted_at"] = "2024-05-02T00:00:00Z"

	fake := &fakeSplitwise{expenses: []map[string]any{other, deleted}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	recs, err := New(srv.URL, time.Second).FetchExpenses(context.Background(), provider.Credentials{Token: "tok"}, provider.DateWindow{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Participant {
		t.Error("record 1 should not list the user as participant")
	}
	if !recs[1].Deleted {
		t.Error("record 2 should be marked deleted")
	}
}

func TestFetchExpenses_Empty(t *testing.T) {
	srv := httptest.NewServer((&fakeSplitwise{}).handler(t))
	defer srv.Close()

	recs, err := New(srv.URL, time.Second).FetchExpenses(context.Background(), provider.Credentials{Token: "tok"}, provider.DateWindow{})
	if err != nil {
		t.Fatalf("empty result should not fail, got %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records, got %d", len(recs))
	}
}

func TestFetchExpenses_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"Invalid API request: you are not logged in"}`, provider.ErrAuthenticationFailed},
		{"forbidden", http.StatusForbidden, `{}`, provider.ErrAuthenticationFailed},
		{"server error", http.StatusBadGateway, `upstream down`, provider.ErrProviderUnavailable},
		{"bad json", http.StatusOK, `{"user":`, provider.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, time.Second).FetchExpenses(context.Background(), provider.Credentials{Token: "tok"}, provider.DateWindow{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFetchExpenses_MissingToken(t *testing.T) {
	_, err := New("http://127.0.0.1:1", time.Second).FetchExpenses(context.Background(), provider.Credentials{}, provider.DateWindow{})
	if !errors.Is(err, provider.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestFetchExpenses_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).FetchExpenses(context.Background(), provider.Credentials{Token: "tok"}, provider.DateWindow{})
	if !errors.Is(err, provider.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestFetchExpenses_Cancelled(t *testing.T) {
	srv := httptest.NewServer((&fakeSplitwise{}).handler(t))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL, time.Second).FetchExpenses(ctx, provider.Credentials{Token: "tok"}, provider.DateWindow{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
