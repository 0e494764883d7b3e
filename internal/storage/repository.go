// Package storage persists expenses, groups, incomes and provider
// credentials in SQLite or PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"saldo/internal/core"
)

type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	}
	return "unknown"
}

func (d Dialect) driverName() string {
	return d.String()
}

// timeLayout keeps a fixed width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Repository is the SQL implementation of ports.Store.
type Repository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	return open(db, SQLite, dsn)
}

func NewPostgresRepository(dsn string) (*Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return open(db, Postgres, dsn)
}

func open(db *sql.DB, d Dialect, dsn string) (*Repository, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(d, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{
		db:      db,
		dialect: d,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *Repository) Dialect() Dialect { return r.dialect }

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// q rewrites ? placeholders to $n for PostgreSQL.
func (r *Repository) q(query string) string {
	if r.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint failure in
// either dialect.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE"))
	}
	return false
}

// Expenses

const expenseColumns = `id, user_id, description, amount, currency, date, category, group_id,
	group_name, expense_type, external_id, owed_share, total_expense, created_at, updated_at`

func scanExpense(row scanner) (core.Expense, error) {
	var (
		e                     core.Expense
		date                  dbDate
		category, groupID     sql.NullString
		groupName, typ, extID sql.NullString
		created, updated      dbTime
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Description, &e.Amount, &e.Currency, &date,
		&category, &groupID, &groupName, &typ, &extID, &e.OwedShare, &e.TotalExpense,
		&created, &updated)
	if err != nil {
		return core.Expense{}, err
	}
	e.Date = date.Date
	e.Category = fromNull(category)
	e.GroupID = fromNull(groupID)
	e.GroupName = fromNull(groupName)
	e.ExpenseType = core.ExpenseType(typ.String)
	e.ExternalID = extID.String
	e.CreatedAt = created.Time
	e.UpdatedAt = updated.Time
	return e, nil
}

func (r *Repository) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	e.ID = uuid.NewString()
	e.CreatedAt = r.now()
	e.UpdatedAt = e.CreatedAt

	_, err := r.db.ExecContext(ctx, r.q(`INSERT INTO expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.UserID, e.Description, e.Amount, e.Currency, e.Date.String(),
		e.Category, e.GroupID, e.GroupName, nullString(string(e.ExpenseType)), nullString(e.ExternalID),
		e.OwedShare, e.TotalExpense, formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Expense{}, fmt.Errorf("%w: %s", core.ErrDuplicateExternalID, e.ExternalID)
		}
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}

	slog.DebugContext(ctx, "Expense saved",
		"component", "storage",
		"dialect", r.dialect.String(),
		"id", e.ID,
		"external_id", e.ExternalID,
		"amount", e.Amount.String())
	return e, nil
}

func (r *Repository) GetExpense(ctx context.Context, userID, id string) (core.Expense, error) {
	return r.getExpense(ctx, r.db, userID, id)
}

func (r *Repository) getExpense(ctx context.Context, db queryer, userID, id string) (core.Expense, error) {
	row := db.QueryRowContext(ctx, r.q(`SELECT `+expenseColumns+` FROM expenses WHERE id = ? AND user_id = ?`), id, userID)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, core.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %s: %w", id, err)
	}
	return e, nil
}

func (r *Repository) ListExpenses(ctx context.Context, userID string, page core.PageRequest) (core.Page[core.Expense], error) {
	page = page.Normalize()

	var total int
	if err := r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM expenses WHERE user_id = ?`), userID).Scan(&total); err != nil {
		return core.Page[core.Expense]{}, fmt.Errorf("count expenses: %w", err)
	}

	items, err := r.queryExpenses(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE user_id = ?
		ORDER BY date DESC, created_at DESC, id DESC LIMIT ? OFFSET ?`, userID, page.Size, page.Offset())
	if err != nil {
		return core.Page[core.Expense]{}, err
	}
	return core.NewPage(items, total, page), nil
}

func (r *Repository) AllExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	return r.queryExpenses(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE user_id = ?
		ORDER BY date DESC, created_at DESC, id DESC`, userID)
}

func (r *Repository) queryExpenses(ctx context.Context, query string, args ...any) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return out, nil
}

func (r *Repository) UpdateExpense(ctx context.Context, userID, id string, p core.ExpensePatch) (core.Expense, error) {
	var updated core.Expense
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		current, err := r.getExpense(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		updated = p.Apply(current)
		if p.GroupID != nil && updated.GroupID != nil {
			g, err := r.getGroup(ctx, tx, userID, *updated.GroupID)
			if err != nil {
				return err
			}
			updated.GroupName = &g.Name
		}
		if err := updated.Validate(); err != nil {
			return err
		}
		updated.UpdatedAt = r.now()

		_, err = tx.ExecContext(ctx, r.q(`UPDATE expenses SET description = ?, amount = ?, currency = ?, date = ?,
			category = ?, group_id = ?, group_name = ?, expense_type = ?, owed_share = ?, updated_at = ?
			WHERE id = ? AND user_id = ?`),
			updated.Description, updated.Amount, updated.Currency, updated.Date.String(),
			updated.Category, updated.GroupID, updated.GroupName, nullString(string(updated.ExpenseType)),
			updated.OwedShare, formatTime(updated.UpdatedAt), id, userID)
		if err != nil {
			return fmt.Errorf("update expense %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return core.Expense{}, err
	}
	return updated, nil
}

func (r *Repository) DeleteExpense(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM expenses WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	return requireAffected(res)
}

func (r *Repository) DeleteAllExpenses(ctx context.Context, userID string) (int, error) {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM expenses WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("delete expenses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	slog.InfoContext(ctx, "All expenses deleted", "component", "storage", "user_id", userID, "count", n)
	return int(n), nil
}

func (r *Repository) KnownExternalIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT external_id FROM expenses WHERE user_id = ? AND external_id IS NOT NULL`), userID)
	if err != nil {
		return nil, fmt.Errorf("list external ids: %w", err)
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan external id: %w", err)
		}
		known[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate external ids: %w", err)
	}
	return known, nil
}

func (r *Repository) HasExternalID(ctx context.Context, userID, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	var n int
	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT COUNT(*) FROM expenses WHERE user_id = ? AND external_id = ?`), userID, externalID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check external id: %w", err)
	}
	return n > 0, nil
}

// Groups

const groupSelect = `SELECT g.id, g.user_id, g.name, g.description, g.color, g.created_at,
	(SELECT COUNT(*) FROM expenses e WHERE e.group_id = g.id AND e.user_id = g.user_id)
	FROM expense_groups g`

func scanGroup(row scanner) (core.Group, error) {
	var (
		g       core.Group
		desc    sql.NullString
		created dbTime
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.Name, &desc, &g.Color, &created, &g.ExpenseCount); err != nil {
		return core.Group{}, err
	}
	g.Description = fromNull(desc)
	g.CreatedAt = created.Time
	return g, nil
}

func (r *Repository) CreateGroup(ctx context.Context, g core.Group) (core.Group, error) {
	if err := g.Validate(); err != nil {
		return core.Group{}, err
	}
	g.ID = uuid.NewString()
	g.Name = strings.TrimSpace(g.Name)
	if g.Color == "" {
		g.Color = core.DefaultGroupColor
	}
	g.CreatedAt = r.now()
	g.ExpenseCount = 0

	_, err := r.db.ExecContext(ctx, r.q(`INSERT INTO expense_groups (id, user_id, name, description, color, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		g.ID, g.UserID, g.Name, g.Description, g.Color, formatTime(g.CreatedAt))
	if err != nil {
		return core.Group{}, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

func (r *Repository) GetGroup(ctx context.Context, userID, id string) (core.Group, error) {
	return r.getGroup(ctx, r.db, userID, id)
}

func (r *Repository) getGroup(ctx context.Context, db queryer, userID, id string) (core.Group, error) {
	g, err := scanGroup(db.QueryRowContext(ctx, r.q(groupSelect+` WHERE g.id = ? AND g.user_id = ?`), id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Group{}, core.ErrNotFound
	}
	if err != nil {
		return core.Group{}, fmt.Errorf("get group %s: %w", id, err)
	}
	return g, nil
}

func (r *Repository) ListGroups(ctx context.Context, userID string) ([]core.Group, error) {
	rows, err := r.db.QueryContext(ctx, r.q(groupSelect+` WHERE g.user_id = ? ORDER BY g.name`), userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	out := []core.Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return out, nil
}

func (r *Repository) UpdateGroup(ctx context.Context, userID, id string, p core.GroupPatch) (core.Group, error) {
	var updated core.Group
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		current, err := r.getGroup(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		updated = p.Apply(current)
		if err := updated.Validate(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.q(`UPDATE expense_groups SET name = ?, description = ?, color = ?
			WHERE id = ? AND user_id = ?`), updated.Name, updated.Description, updated.Color, id, userID); err != nil {
			return fmt.Errorf("update group %s: %w", id, err)
		}
		if updated.Name != current.Name {
			if _, err := tx.ExecContext(ctx, r.q(`UPDATE expenses SET group_name = ? WHERE group_id = ? AND user_id = ?`),
				updated.Name, id, userID); err != nil {
				return fmt.Errorf("rename group on expenses: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return core.Group{}, err
	}
	return updated, nil
}

func (r *Repository) DeleteGroup(ctx context.Context, userID, id string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.q(`UPDATE expenses SET group_id = NULL, group_name = NULL
			WHERE group_id = ? AND user_id = ?`), id, userID); err != nil {
			return fmt.Errorf("detach group expenses: %w", err)
		}
		res, err := tx.ExecContext(ctx, r.q(`DELETE FROM expense_groups WHERE id = ? AND user_id = ?`), id, userID)
		if err != nil {
			return fmt.Errorf("delete group %s: %w", id, err)
		}
		return requireAffected(res)
	})
}

// Incomes

const incomeColumns = `id, user_id, description, amount, currency, date, category, source, created_at`

func scanIncome(row scanner) (core.Income, error) {
	var (
		i                core.Income
		date             dbDate
		category, source sql.NullString
		created          dbTime
	)
	if err := row.Scan(&i.ID, &i.UserID, &i.Description, &i.Amount, &i.Currency, &date, &category, &source, &created); err != nil {
		return core.Income{}, err
	}
	i.Date = date.Date
	i.Category = fromNull(category)
	i.Source = fromNull(source)
	i.CreatedAt = created.Time
	return i, nil
}

func (r *Repository) CreateIncome(ctx context.Context, i core.Income) (core.Income, error) {
	if err := i.Validate(); err != nil {
		return core.Income{}, err
	}
	i.ID = uuid.NewString()
	i.CreatedAt = r.now()

	_, err := r.db.ExecContext(ctx, r.q(`INSERT INTO incomes (`+incomeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		i.ID, i.UserID, i.Description, i.Amount, i.Currency, i.Date.String(), i.Category, i.Source, formatTime(i.CreatedAt))
	if err != nil {
		return core.Income{}, fmt.Errorf("create income: %w", err)
	}
	return i, nil
}

func (r *Repository) getIncome(ctx context.Context, db queryer, userID, id string) (core.Income, error) {
	i, err := scanIncome(db.QueryRowContext(ctx, r.q(`SELECT `+incomeColumns+` FROM incomes WHERE id = ? AND user_id = ?`), id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Income{}, core.ErrNotFound
	}
	if err != nil {
		return core.Income{}, fmt.Errorf("get income %s: %w", id, err)
	}
	return i, nil
}

func (r *Repository) ListIncomes(ctx context.Context, userID string, page core.PageRequest) (core.Page[core.Income], error) {
	page = page.Normalize()

	var total int
	if err := r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM incomes WHERE user_id = ?`), userID).Scan(&total); err != nil {
		return core.Page[core.Income]{}, fmt.Errorf("count incomes: %w", err)
	}
	items, err := r.queryIncomes(ctx, `SELECT `+incomeColumns+` FROM incomes WHERE user_id = ?
		ORDER BY date DESC, id DESC LIMIT ? OFFSET ?`, userID, page.Size, page.Offset())
	if err != nil {
		return core.Page[core.Income]{}, err
	}
	return core.NewPage(items, total, page), nil
}

func (r *Repository) AllIncomes(ctx context.Context, userID string) ([]core.Income, error) {
	return r.queryIncomes(ctx, `SELECT `+incomeColumns+` FROM incomes WHERE user_id = ? ORDER BY date DESC, id DESC`, userID)
}

func (r *Repository) queryIncomes(ctx context.Context, query string, args ...any) ([]core.Income, error) {
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list incomes: %w", err)
	}
	defer rows.Close()

	var out []core.Income
	for rows.Next() {
		i, err := scanIncome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan income: %w", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incomes: %w", err)
	}
	return out, nil
}

func (r *Repository) UpdateIncome(ctx context.Context, userID, id string, p core.IncomePatch) (core.Income, error) {
	var updated core.Income
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		current, err := r.getIncome(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		updated = p.Apply(current)
		if err := updated.Validate(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, r.q(`UPDATE incomes SET description = ?, amount = ?, currency = ?, date = ?,
			category = ?, source = ? WHERE id = ? AND user_id = ?`),
			updated.Description, updated.Amount, updated.Currency, updated.Date.String(),
			updated.Category, updated.Source, id, userID)
		if err != nil {
			return fmt.Errorf("update income %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return core.Income{}, err
	}
	return updated, nil
}

func (r *Repository) DeleteIncome(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM incomes WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("delete income %s: %w", id, err)
	}
	return requireAffected(res)
}

// Credentials

func (r *Repository) SaveProviderToken(ctx context.Context, userID, token string) error {
	_, err := r.db.ExecContext(ctx, r.q(`INSERT INTO provider_credentials (user_id, token, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`),
		userID, token, formatTime(r.now()))
	if err != nil {
		return fmt.Errorf("save provider token: %w", err)
	}
	return nil
}

func (r *Repository) ProviderToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx, r.q(`SELECT token FROM provider_credentials WHERE user_id = ?`), userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load provider token: %w", err)
	}
	return token, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
