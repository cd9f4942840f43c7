package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"budget/internal/core"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; ledger transactions would otherwise hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// UpdateBalances implements services.LedgerStore. Each record is written
// with a compare-and-set on its version.
func (r *SQLiteRepository) UpdateBalances(ctx context.Context, keys []core.LedgerKey, fn func(map[core.LedgerKey]*core.BalanceRecord) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	records := make(map[core.LedgerKey]*core.BalanceRecord, len(keys))
	loaded := make(map[core.LedgerKey]int64, len(keys))
	for _, k := range keys {
		rec, ok, err := getBalance(ctx, tx, k)
		if err != nil {
			return err
		}
		if !ok {
			rec = core.NewBalanceRecord(k)
		}
		loaded[k] = rec.Version
		records[k] = &rec
	}

	if err := fn(records); err != nil {
		return err
	}

	for _, k := range keys {
		rec := records[k]
		if !rec.Consistent() {
			return fmt.Errorf("balance %s: closing does not match totals", k)
		}
		cents, err := balanceCents(rec)
		if err != nil {
			return fmt.Errorf("balance %s: %w", k, err)
		}
		if loaded[k] > 0 {
			err = casUpdateBalance(ctx, tx, k, loaded[k], cents)
		} else {
			err = insertBalance(ctx, tx, k, cents)
		}
		if err != nil {
			return err
		}
		rec.Version = loaded[k] + 1
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit balances: %w", err)
	}
	return nil
}

func casUpdateBalance(ctx context.Context, tx *sql.Tx, k core.LedgerKey, version int64, c [4]int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE balance_history
		SET opening_cents = ?, income_cents = ?, expenses_cents = ?, closing_cents = ?,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND day = ? AND version = ?`,
		c[0], c[1], c[2], c[3], k.UserID.String(), k.Date.String(), version)
	if err != nil {
		return fmt.Errorf("update balance %s: %w", k, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update balance %s: %w", k, err)
	}
	if n == 0 {
		return fmt.Errorf("balance %s at version %d: %w", k, version, core.ErrConcurrencyViolation)
	}
	return nil
}

func insertBalance(ctx context.Context, tx *sql.Tx, k core.LedgerKey, c [4]int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balance_history (user_id, day, opening_cents, income_cents, expenses_cents, closing_cents, version)
		VALUES (?, ?, ?, ?, ?, ?, 1)`,
		k.UserID.String(), k.Date.String(), c[0], c[1], c[2], c[3])
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("balance %s created concurrently: %w", k, core.ErrConcurrencyViolation)
		}
		return fmt.Errorf("insert balance %s: %w", k, err)
	}
	return nil
}

// GetBalance implements services.LedgerStore.
func (r *SQLiteRepository) GetBalance(ctx context.Context, key core.LedgerKey) (core.BalanceRecord, bool, error) {
	return getBalance(ctx, r.db, key)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBalance(ctx context.Context, q queryer, key core.LedgerKey) (core.BalanceRecord, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT user_id, day, opening_cents, income_cents, expenses_cents, closing_cents, version
		FROM balance_history WHERE user_id = ? AND day = ?`,
		key.UserID.String(), key.Date.String())
	rec, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BalanceRecord{}, false, nil
	}
	if err != nil {
		return core.BalanceRecord{}, false, fmt.Errorf("get balance %s: %w", key, err)
	}
	return rec, true, nil
}

// ListBalances returns a user's stored records between from and to
// inclusive, oldest first.
func (r *SQLiteRepository) ListBalances(ctx context.Context, userID uuid.UUID, from, to core.Date) ([]core.BalanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, day, opening_cents, income_cents, expenses_cents, closing_cents, version
		FROM balance_history
		WHERE user_id = ? AND day BETWEEN ? AND ?
		ORDER BY day`,
		userID.String(), from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var out []core.BalanceRecord
	for rows.Next() {
		rec, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListLedgerUsers returns the users with at least one record between from
// and to inclusive.
func (r *SQLiteRepository) ListLedgerUsers(ctx context.Context, from, to core.Date) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT user_id
		FROM balance_history
		WHERE day BETWEEN ? AND ?
		ORDER BY user_id`,
		from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("list ledger users: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan ledger user: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse ledger user %q: %w", raw, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBalance(s scanner) (core.BalanceRecord, error) {
	var (
		userID, day                       string
		opening, income, expenses, closed int64
		version                           int64
	)
	if err := s.Scan(&userID, &day, &opening, &income, &expenses, &closed, &version); err != nil {
		return core.BalanceRecord{}, err
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return core.BalanceRecord{}, fmt.Errorf("parse user id: %w", err)
	}
	date, err := core.ParseDate(day)
	if err != nil {
		return core.BalanceRecord{}, err
	}
	return core.BalanceRecord{
		Key:            core.LedgerKey{UserID: uid, Date: date},
		OpeningBalance: core.AmountFromCents(opening),
		Income:         core.AmountFromCents(income),
		Expenses:       core.AmountFromCents(expenses),
		ClosingBalance: core.AmountFromCents(closed),
		Version:        version,
	}, nil
}

func balanceCents(rec *core.BalanceRecord) ([4]int64, error) {
	var out [4]int64
	var err error
	if out[0], err = core.AmountToCents(rec.OpeningBalance); err != nil {
		return out, err
	}
	if out[1], err = core.AmountToCents(rec.Income); err != nil {
		return out, err
	}
	if out[2], err = core.AmountToCents(rec.Expenses); err != nil {
		return out, err
	}
	if out[3], err = core.AmountToCents(rec.ClosingBalance); err != nil {
		return out, err
	}
	return out, nil
}

// CreateExpense stores a new expense.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) error {
	cents, err := core.AmountToCents(e.Amount)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO expenses (id, user_id, amount_cents, category, day, payment_method, notes, recurring_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.UserID.String(), cents, e.Category, e.Date.String(),
		e.PaymentMethod, e.Notes, nullUUID(e.RecurringID))
	if err != nil {
		return fmt.Errorf("create expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved to SQLite",
		"id", e.ID,
		"amount_cents", cents,
		"day", e.Date.String())
	return nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, userID, id uuid.UUID) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount_cents, category, day, payment_method, notes, recurring_id
		FROM expenses WHERE id = ? AND user_id = ?`,
		id.String(), userID.String())
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("expense %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense by id: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.Expense) error {
	cents, err := core.AmountToCents(e.Amount)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE expenses
		SET amount_cents = ?, category = ?, day = ?, payment_method = ?, notes = ?, recurring_id = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?`,
		cents, e.Category, e.Date.String(), e.PaymentMethod, e.Notes, nullUUID(e.RecurringID),
		e.ID.String(), e.UserID.String())
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return expectOne(res, "expense", e.ID)
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, userID, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ? AND user_id = ?`, id.String(), userID.String())
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return expectOne(res, "expense", id)
}

// ListExpenses returns a user's expenses between from and to inclusive,
// newest first.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, userID uuid.UUID, from, to core.Date) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, amount_cents, category, day, payment_method, notes, recurring_id
		FROM expenses
		WHERE user_id = ? AND day BETWEEN ? AND ?
		ORDER BY day DESC, created_at DESC`,
		userID.String(), from.String(), to.String())
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
	return out, rows.Err()
}

func scanExpense(s scanner) (core.Expense, error) {
	var (
		id, userID, category, day, method, notes string
		cents                                    int64
		recurringID                              sql.NullString
	)
	if err := s.Scan(&id, &userID, &cents, &category, &day, &method, &notes, &recurringID); err != nil {
		return core.Expense{}, err
	}
	e := core.Expense{
		Amount:        core.AmountFromCents(cents),
		Category:      category,
		PaymentMethod: method,
		Notes:         notes,
	}
	var err error
	if e.ID, err = uuid.Parse(id); err != nil {
		return core.Expense{}, err
	}
	if e.UserID, err = uuid.Parse(userID); err != nil {
		return core.Expense{}, err
	}
	if e.Date, err = core.ParseDate(day); err != nil {
		return core.Expense{}, err
	}
	if e.RecurringID, err = parseNullUUID(recurringID); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func (r *SQLiteRepository) CreateIncome(ctx context.Context, i core.Income) error {
	cents, err := core.AmountToCents(i.Amount)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO incomes (id, user_id, amount_cents, source_id, day, notes)
		VALUES (?, ?, ?, ?, ?, ?)`,
		i.ID.String(), i.UserID.String(), cents, nullUUID(i.SourceID), i.Date.String(), i.Notes)
	if err != nil {
		return fmt.Errorf("create income: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetIncome(ctx context.Context, userID, id uuid.UUID) (core.Income, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount_cents, source_id, day, notes
		FROM incomes WHERE id = ? AND user_id = ?`,
		id.String(), userID.String())

	var (
		sid, uid, day, notes string
		cents                int64
		sourceID             sql.NullString
	)
	err := row.Scan(&sid, &uid, &cents, &sourceID, &day, &notes)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Income{}, fmt.Errorf("income %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Income{}, fmt.Errorf("get income by id: %w", err)
	}
	in := core.Income{ID: id, UserID: userID, Amount: core.AmountFromCents(cents), Notes: notes}
	if in.Date, err = core.ParseDate(day); err != nil {
		return core.Income{}, err
	}
	if in.SourceID, err = parseNullUUID(sourceID); err != nil {
		return core.Income{}, err
	}
	return in, nil
}

func (r *SQLiteRepository) UpdateIncome(ctx context.Context, i core.Income) error {
	cents, err := core.AmountToCents(i.Amount)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE incomes
		SET amount_cents = ?, source_id = ?, day = ?, notes = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?`,
		cents, nullUUID(i.SourceID), i.Date.String(), i.Notes, i.ID.String(), i.UserID.String())
	if err != nil {
		return fmt.Errorf("update income: %w", err)
	}
	return expectOne(res, "income", i.ID)
}

func (r *SQLiteRepository) DeleteIncome(ctx context.Context, userID, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM incomes WHERE id = ? AND user_id = ?`, id.String(), userID.String())
	if err != nil {
		return fmt.Errorf("delete income: %w", err)
	}
	return expectOne(res, "income", id)
}

func (r *SQLiteRepository) CreateIncomeSource(ctx context.Context, src core.IncomeSource) error {
	cents, err := core.AmountToCents(src.Amount)
	if err != nil {
		return err
	}
	s := src.Schedule
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO income_sources (id, user_id, name, amount_cents, frequency, day_of_week, day_of_month,
		                            start_date, end_date, anchor_date, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID.String(), src.UserID.String(), src.Name, cents, string(s.Frequency),
		nullWeekday(s.DayOfWeek), nullInt(s.DayOfMonth), s.StartDate.String(),
		nullDate(s.EndDate), nullDate(s.Anchor), src.IsActive)
	if err != nil {
		return fmt.Errorf("create income source: %w", err)
	}
	return nil
}

const incomeSourceColumns = `id, user_id, name, amount_cents, frequency, day_of_week, day_of_month,
	start_date, end_date, anchor_date, is_active`

func (r *SQLiteRepository) GetIncomeSource(ctx context.Context, userID, id uuid.UUID) (core.IncomeSource, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+incomeSourceColumns+` FROM income_sources WHERE id = ? AND user_id = ?`,
		id.String(), userID.String())
	src, err := scanIncomeSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.IncomeSource{}, fmt.Errorf("income source %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.IncomeSource{}, fmt.Errorf("get income source: %w", err)
	}
	return src, nil
}

// DeactivateIncomeSource soft deletes a source.
func (r *SQLiteRepository) DeactivateIncomeSource(ctx context.Context, userID, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE income_sources SET is_active = 0 WHERE id = ? AND user_id = ?`,
		id.String(), userID.String())
	if err != nil {
		return fmt.Errorf("deactivate income source: %w", err)
	}
	return expectOne(res, "income source", id)
}

func (r *SQLiteRepository) ListActiveIncomeSources(ctx context.Context, userID uuid.UUID) ([]core.IncomeSource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+incomeSourceColumns+` FROM income_sources WHERE user_id = ? AND is_active = 1 ORDER BY name`,
		userID.String())
	if err != nil {
		return nil, fmt.Errorf("list income sources: %w", err)
	}
	defer rows.Close()

	var out []core.IncomeSource
	for rows.Next() {
		src, err := scanIncomeSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan income source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func scanIncomeSource(s scanner) (core.IncomeSource, error) {
	var (
		id, userID, name string
		cents            int64
		active           bool
		sched            scheduleRow
	)
	err := s.Scan(&id, &userID, &name, &cents, &sched.frequency, &sched.dayOfWeek, &sched.dayOfMonth,
		&sched.startDate, &sched.endDate, &sched.anchor, &active)
	if err != nil {
		return core.IncomeSource{}, err
	}
	src := core.IncomeSource{Name: name, Amount: core.AmountFromCents(cents), IsActive: active}
	if src.ID, err = uuid.Parse(id); err != nil {
		return core.IncomeSource{}, err
	}
	if src.UserID, err = uuid.Parse(userID); err != nil {
		return core.IncomeSource{}, err
	}
	if src.Schedule, err = sched.descriptor(); err != nil {
		return core.IncomeSource{}, err
	}
	return src, nil
}

func (r *SQLiteRepository) CreateRecurringExpense(ctx context.Context, re core.RecurringExpense) error {
	cents, err := core.AmountToCents(re.Amount)
	if err != nil {
		return err
	}
	s := re.Schedule
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO recurring_expenses (id, user_id, name, amount_cents, category, frequency, day_of_week,
		                                day_of_month, start_date, end_date, anchor_date, next_occurrence,
		                                is_active, auto_deduct, reminder_days)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		re.ID.String(), re.UserID.String(), re.Name, cents, re.Category, string(s.Frequency),
		nullWeekday(s.DayOfWeek), nullInt(s.DayOfMonth), s.StartDate.String(), nullDate(s.EndDate),
		nullDate(s.Anchor), re.NextOccurrence.String(), re.IsActive, re.AutoDeduct, re.ReminderDays)
	if err != nil {
		return fmt.Errorf("create recurring expense: %w", err)
	}
	return nil
}

const recurringColumns = `id, user_id, name, amount_cents, category, frequency, day_of_week, day_of_month,
	start_date, end_date, anchor_date, next_occurrence, is_active, auto_deduct, reminder_days`

func (r *SQLiteRepository) GetRecurringExpense(ctx context.Context, userID, id uuid.UUID) (core.RecurringExpense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recurringColumns+` FROM recurring_expenses WHERE id = ? AND user_id = ?`,
		id.String(), userID.String())
	re, err := scanRecurring(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringExpense{}, fmt.Errorf("recurring expense %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.RecurringExpense{}, fmt.Errorf("get recurring expense: %w", err)
	}
	return re, nil
}

// UpdateRecurringExpense rewrites a template, including its next occurrence
// and active flag.
func (r *SQLiteRepository) UpdateRecurringExpense(ctx context.Context, re core.RecurringExpense) error {
	cents, err := core.AmountToCents(re.Amount)
	if err != nil {
		return err
	}
	s := re.Schedule
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_expenses
		SET name = ?, amount_cents = ?, category = ?, frequency = ?, day_of_week = ?, day_of_month = ?,
		    start_date = ?, end_date = ?, anchor_date = ?, next_occurrence = ?, is_active = ?,
		    auto_deduct = ?, reminder_days = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?`,
		re.Name, cents, re.Category, string(s.Frequency), nullWeekday(s.DayOfWeek), nullInt(s.DayOfMonth),
		s.StartDate.String(), nullDate(s.EndDate), nullDate(s.Anchor), re.NextOccurrence.String(),
		re.IsActive, re.AutoDeduct, re.ReminderDays, re.ID.String(), re.UserID.String())
	if err != nil {
		return fmt.Errorf("update recurring expense: %w", err)
	}
	return expectOne(res, "recurring expense", re.ID)
}

func (r *SQLiteRepository) ListActiveRecurringExpenses(ctx context.Context, userID uuid.UUID) ([]core.RecurringExpense, error) {
	return r.listRecurring(ctx,
		`SELECT `+recurringColumns+` FROM recurring_expenses WHERE user_id = ? AND is_active = 1 ORDER BY name`,
		userID.String())
}

// ListDueRecurringExpenses returns the active templates of every user whose
// next occurrence is on or before asOf, earliest first.
func (r *SQLiteRepository) ListDueRecurringExpenses(ctx context.Context, asOf core.Date) ([]core.RecurringExpense, error) {
	return r.listRecurring(ctx,
		`SELECT `+recurringColumns+` FROM recurring_expenses
		 WHERE is_active = 1 AND next_occurrence <= ? ORDER BY next_occurrence, id`,
		asOf.String())
}

func (r *SQLiteRepository) listRecurring(ctx context.Context, query string, args ...any) ([]core.RecurringExpense, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recurring expenses: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringExpense
	for rows.Next() {
		re, err := scanRecurring(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring expense: %w", err)
		}
		out = append(out, re)
	}
	return out, rows.Err()
}

func scanRecurring(s scanner) (core.RecurringExpense, error) {
	var (
		id, userID, name, category, next string
		cents                            int64
		active, autoDeduct               bool
		reminderDays                     int
		sched                            scheduleRow
	)
	err := s.Scan(&id, &userID, &name, &cents, &category, &sched.frequency, &sched.dayOfWeek,
		&sched.dayOfMonth, &sched.startDate, &sched.endDate, &sched.anchor, &next,
		&active, &autoDeduct, &reminderDays)
	if err != nil {
		return core.RecurringExpense{}, err
	}
	re := core.RecurringExpense{
		Name:         name,
		Amount:       core.AmountFromCents(cents),
		Category:     category,
		IsActive:     active,
		AutoDeduct:   autoDeduct,
		ReminderDays: reminderDays,
	}
	if re.ID, err = uuid.Parse(id); err != nil {
		return core.RecurringExpense{}, err
	}
	if re.UserID, err = uuid.Parse(userID); err != nil {
		return core.RecurringExpense{}, err
	}
	if re.NextOccurrence, err = core.ParseDate(next); err != nil {
		return core.RecurringExpense{}, err
	}
	if re.Schedule, err = sched.descriptor(); err != nil {
		return core.RecurringExpense{}, err
	}
	return re, nil
}

// scheduleRow holds the nullable schedule columns shared by income sources
// and recurring expenses.
type scheduleRow struct {
	frequency  string
	dayOfWeek  sql.NullInt64
	dayOfMonth sql.NullInt64
	startDate  string
	endDate    sql.NullString
	anchor     sql.NullString
}

func (s scheduleRow) descriptor() (core.ScheduleDescriptor, error) {
	d := core.ScheduleDescriptor{Frequency: core.Frequency(s.frequency)}
	if s.dayOfWeek.Valid {
		wd := time.Weekday(s.dayOfWeek.Int64)
		d.DayOfWeek = &wd
	}
	if s.dayOfMonth.Valid {
		dom := int(s.dayOfMonth.Int64)
		d.DayOfMonth = &dom
	}
	var err error
	if d.StartDate, err = core.ParseDate(s.startDate); err != nil {
		return core.ScheduleDescriptor{}, err
	}
	if d.EndDate, err = parseNullDate(s.endDate); err != nil {
		return core.ScheduleDescriptor{}, err
	}
	if d.Anchor, err = parseNullDate(s.anchor); err != nil {
		return core.ScheduleDescriptor{}, err
	}
	return d, nil
}

func expectOne(res sql.Result, what string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, core.ErrNotFound)
	}
	return nil
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func parseNullUUID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func nullDate(d *core.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*core.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := core.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullWeekday(w *time.Weekday) sql.NullInt64 {
	if w == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*w), Valid: true}
}
