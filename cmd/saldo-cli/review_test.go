package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/importer"
	"saldo/internal/provider"
	"saldo/internal/storage/memory"
)

type stubProvider struct{ records []provider.Record }

func (p stubProvider) FetchExpenses(context.Context, provider.Credentials, provider.DateWindow) ([]provider.Record, error) {
	return p.records, nil
}

func record(id, desc, paid, owed string) provider.Record {
	return provider.Record{
		ID: id, Description: desc, Cost: "40", Currency: "USD", Date: "2024-03-10",
		PaidShare: paid, OwedShare: owed, Participant: true,
	}
}

func newTestApp(t *testing.T, records ...provider.Record) (*app, *bytes.Buffer) {
	t.Helper()
	store := memory.New()
	if err := store.SaveProviderToken(context.Background(), "u1", "tok"); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	return &app{
		store:    store,
		importer: importer.NewService(store, stubProvider{records: records}, nil, nil),
		cleanup:  store.Close,
		out:      &out,
	}, &out
}

func identity(s string) string { return s }

func TestReviewerSavesAndSkips(t *testing.T) {
	a, out := newTestApp(t,
		record("sw-1", "Dinner", "40", "20"),
		record("sw-2", "Cinema", "0", "15"),
	)
	r := &reviewer{app: a, in: strings.NewReader("all\ne category=Food\ne share=abc\ns\nk\n"), render: identity}

	if err := r.run(context.Background(), "u1", provider.DateWindow{}); err != nil {
		t.Fatal(err)
	}
	all, err := a.store.AllExpenses(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("saved %d expenses", len(all))
	}
	if c := all[0].Category; c == nil || *c != "Food" {
		t.Fatalf("category = %v", c)
	}
	if !all[0].OwedShare.Decimal.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("owed share = %s", all[0].OwedShare.Decimal)
	}
	if !strings.Contains(out.String(), "Invalid edit") {
		t.Fatalf("bad edit not reported:\n%s", out)
	}
	if st := a.importer.Status("u1"); st.State != importer.StateComplete || st.Saved != 1 || st.Skipped != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestReviewerCancelAndQuit(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty selection cancels", "\n"},
		{"quit mid review", "0\nq\n"},
		{"end of input quits", "0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestApp(t, record("sw-1", "Dinner", "40", "20"))
			r := &reviewer{app: a, in: strings.NewReader(tt.input), render: identity}
			if err := r.run(context.Background(), "u1", provider.DateWindow{}); err != nil {
				t.Fatal(err)
			}
			if st := a.importer.Status("u1"); st.State != importer.StateIdle {
				t.Fatalf("state = %s", st.State)
			}
			if all, _ := a.store.AllExpenses(context.Background(), "u1"); len(all) != 0 {
				t.Fatalf("saved %d", len(all))
			}
		})
	}
}

func TestReviewerMissingCredentials(t *testing.T) {
	a, _ := newTestApp(t)
	r := &reviewer{app: a, in: strings.NewReader(""), render: identity}
	err := r.run(context.Background(), "someone-else", provider.DateWindow{})
	if !errors.Is(err, importer.ErrMissingCredentials) {
		t.Fatalf("got %v", err)
	}
}

func TestParsePositions(t *testing.T) {
	selectable := []int{0, 2, 3, 4, 6}
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"all", []int{0, 2, 3, 4, 6}, false},
		{"6, 0", []int{0, 6}, false},
		{"2-4 2", []int{2, 3, 4}, false},
		{"1", nil, true},
		{"4-2", nil, true},
		{"x", nil, true},
		{",", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePositions(tt.in, selectable)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestParseEdit(t *testing.T) {
	p, err := parseEdit("share = 12.50")
	if err != nil || p.OwedShare == nil || p.OwedShare.String() != "12.5" {
		t.Fatalf("share: %+v %v", p, err)
	}
	p, err = parseEdit("category=")
	if err != nil || p.Category == nil || *p.Category != "" {
		t.Fatalf("clear category: %+v %v", p, err)
	}
	p, err = parseEdit("type=LENT")
	if err != nil || *p.ExpenseType != core.Lent {
		t.Fatalf("type: %+v %v", p, err)
	}
	for _, bad := range []string{"nonsense", "color=red", "type=gift", "date=tomorrow"} {
		if _, err := parseEdit(bad); err == nil {
			t.Errorf("%q should fail", bad)
		}
	}
}

func TestParseWindow(t *testing.T) {
	if _, err := parseWindow("2024-02-01", "2024-01-01"); !errors.Is(err, core.ErrInvalidDate) {
		t.Fatalf("reversed: %v", err)
	}
	w, err := parseWindow("", "2024-01-31")
	if err != nil || w.Start != nil || w.End == nil {
		t.Fatalf("open start: %+v %v", w, err)
	}
}

func TestExpensesMarkdown(t *testing.T) {
	md := expensesMarkdown(core.NewPage([]core.Expense{{
		Description: "A|B",
		Amount:      decimal.RequireFromString("5"),
		Currency:    "USD",
		Date:        core.NewDate(2024, 1, 2),
		ExternalID:  "sw-1",
	}}, 1, core.PageRequest{}))
	if !strings.Contains(md, `A\|B`) || !strings.Contains(md, "imported") {
		t.Fatalf("markdown:\n%s", md)
	}
}
