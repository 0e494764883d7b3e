package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"saldo/internal/core"
	"saldo/internal/importer"
	"saldo/internal/provider"
)

// reviewer drives one interactive import from a line-oriented input.
type reviewer struct {
	app    *app
	in     io.Reader
	render func(string) string

	lines *bufio.Scanner
}

func (r *reviewer) prompt(msg string) (string, bool) {
	if r.lines == nil {
		r.lines = bufio.NewScanner(r.in)
	}
	fmt.Fprint(r.app.out, msg)
	if !r.lines.Scan() {
		return "", false
	}
	return strings.TrimSpace(r.lines.Text()), true
}

func (r *reviewer) show(md string) {
	fmt.Fprint(r.app.out, r.render(md))
}

func (r *reviewer) run(ctx context.Context, userID string, window provider.DateWindow) error {
	imp := r.app.importer

	batch, err := imp.Fetch(ctx, userID, window)
	if errors.Is(err, importer.ErrMissingCredentials) {
		return fmt.Errorf("%w: run `saldo-cli credentials -user %s -token ...` first", err, userID)
	}
	if err != nil {
		return err
	}
	r.show(batchMarkdown(batch))

	selectable := importer.NewPositions(batch.Candidates)
	if len(selectable) == 0 {
		fmt.Fprintln(r.app.out, "Nothing new to import.")
		imp.Close(ctx, userID)
		return nil
	}

	line, ok := r.prompt("Positions to review (all, a list like 0,2,5-7, or empty to cancel): ")
	if !ok || line == "" {
		imp.Close(ctx, userID)
		fmt.Fprintln(r.app.out, "Cancelled.")
		return nil
	}
	positions, err := parsePositions(line, selectable)
	if err != nil {
		imp.Close(ctx, userID)
		return err
	}
	if _, err := imp.Start(ctx, userID, positions); err != nil {
		imp.Close(ctx, userID)
		return err
	}

	for {
		item, err := imp.Current(userID)
		if errors.Is(err, importer.ErrNotReviewing) {
			return nil
		}
		if err != nil {
			return err
		}
		r.show(itemMarkdown(item))

		cmd, ok := r.prompt("[s]ave, s[k]ip, [e]dit field=value, [q]uit: ")
		if !ok {
			cmd = "q"
		}
		verb, rest, _ := strings.Cut(cmd, " ")
		switch strings.ToLower(verb) {
		case "s", "save":
			if _, err := imp.Save(ctx, userID, item.Index); err != nil {
				fmt.Fprintf(r.app.out, "Save failed: %v\n", err)
			}
		case "k", "skip":
			if _, err := imp.Skip(ctx, userID, item.Index); err != nil {
				fmt.Fprintf(r.app.out, "Skip failed: %v\n", err)
			}
		case "e", "edit":
			patch, err := parseEdit(rest)
			if err != nil {
				fmt.Fprintf(r.app.out, "Invalid edit: %v\n", err)
				continue
			}
			if _, err := imp.Edit(userID, patch); err != nil {
				fmt.Fprintf(r.app.out, "Edit rejected: %v\n", err)
			}
		case "q", "quit":
			st := imp.Status(userID)
			imp.Close(ctx, userID)
			fmt.Fprintf(r.app.out, "Review closed after %d saved and %d skipped.\n", st.Saved, st.Skipped)
			return nil
		default:
			fmt.Fprintf(r.app.out, "Unknown command %q\n", verb)
		}
	}
}

func parseWindow(from, to string) (provider.DateWindow, error) {
	var w provider.DateWindow
	if strings.TrimSpace(from) != "" {
		d, err := core.ParseDate(from)
		if err != nil {
			return w, fmt.Errorf("-from: %w", err)
		}
		w.Start = &d
	}
	if strings.TrimSpace(to) != "" {
		d, err := core.ParseDate(to)
		if err != nil {
			return w, fmt.Errorf("-to: %w", err)
		}
		w.End = &d
	}
	if w.Start != nil && w.End != nil && w.End.Before(w.Start.Time) {
		return w, fmt.Errorf("%w: -to is before -from", core.ErrInvalidDate)
	}
	return w, nil
}

// parsePositions reads "all" or a list of positions and ranges separated by
// commas or spaces. Only selectable positions are accepted.
func parsePositions(s string, selectable []int) ([]int, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return append([]int(nil), selectable...), nil
	}
	allowed := make(map[int]bool, len(selectable))
	for _, p := range selectable {
		allowed[p] = true
	}

	seen := map[int]bool{}
	var out []int
	add := func(p int) error {
		if !allowed[p] {
			return fmt.Errorf("position %d cannot be selected", p)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
		return nil
	}

	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	for _, f := range fields {
		lo, hi, isRange := strings.Cut(f, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("bad position %q", f)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil || b < a {
				return nil, fmt.Errorf("bad range %q", f)
			}
		}
		for p := a; p <= b; p++ {
			if err := add(p); err != nil {
				return nil, err
			}
		}
	}
	if len(out) == 0 {
		return nil, importer.ErrEmptySelection
	}
	sort.Ints(out)
	return out, nil
}

// parseEdit reads one field=value pair. An empty value clears category and group.
func parseEdit(s string) (importer.CandidatePatch, error) {
	var p importer.CandidatePatch
	field, value, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return p, errors.New("expected field=value")
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "description", "desc":
		p.Description = &value
	case "share", "owed_share", "amount":
		d, err := core.ParseAmount(value)
		if err != nil {
			return p, err
		}
		p.OwedShare = &d
	case "currency":
		p.Currency = &value
	case "date":
		d, err := core.ParseDate(value)
		if err != nil {
			return p, err
		}
		p.Date = &d
	case "category":
		p.Category = &value
	case "group", "group_id":
		p.GroupID = &value
	case "type":
		t := core.ExpenseType(strings.ToLower(value))
		if !t.Valid() {
			return p, fmt.Errorf("%w: %q", core.ErrInvalidExpenseType, value)
		}
		p.ExpenseType = &t
	default:
		return p, fmt.Errorf("unknown field %q", field)
	}
	return p, nil
}
