// Package postgres stores ledger balances and budget records in PostgreSQL.
//
// Balance rows are read with SELECT ... FOR UPDATE inside the ledger's
// transaction and written back with a compare-and-set on their version, so
// several processes can share one database safely.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"budget/internal/core"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

// Open connects to dsn, applies pending migrations and returns the store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps an existing connection pool. The schema must already exist.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded migrations.
func Migrate(db *sql.DB) error {
	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("No Postgres migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("get migration version: %w", err)
	}
	slog.Info("Postgres migrations completed", "version", version, "dirty", dirty)
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpdateBalances implements services.LedgerStore.
func (s *Store) UpdateBalances(ctx context.Context, keys []core.LedgerKey, fn func(map[core.LedgerKey]*core.BalanceRecord) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	records := make(map[core.LedgerKey]*core.BalanceRecord, len(keys))
	loaded := make(map[core.LedgerKey]int64, len(keys))
	for _, k := range keys {
		row := tx.QueryRowContext(ctx, selectBalance+` FOR UPDATE`, k.UserID, k.Date.Time)
		rec, err := scanBalance(row)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			rec = core.NewBalanceRecord(k)
		case err != nil:
			return fmt.Errorf("lock balance %s: %w", k, err)
		}
		loaded[k] = rec.Version
		records[k] = &rec
	}

	if err := fn(records); err != nil {
		return err
	}

	for _, k := range keys {
		rec := records[k]
		if err := checkRecord(rec); err != nil {
			return fmt.Errorf("balance %s: %w", k, err)
		}
		if loaded[k] == 0 {
			err = insertBalance(ctx, tx, rec)
		} else {
			err = updateBalance(ctx, tx, rec, loaded[k])
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

const selectBalance = `SELECT user_id, day, opening_balance, income, expenses, closing_balance, version
	FROM balance_history WHERE user_id = $1 AND day = $2`

func insertBalance(ctx context.Context, tx *sql.Tx, rec *core.BalanceRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balance_history (user_id, day, opening_balance, income, expenses, closing_balance, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)`,
		rec.Key.UserID, rec.Key.Date.Time, rec.OpeningBalance, rec.Income, rec.Expenses, rec.ClosingBalance)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("balance %s created concurrently: %w", rec.Key, core.ErrConcurrencyViolation)
		}
		return fmt.Errorf("insert balance %s: %w", rec.Key, err)
	}
	return nil
}

func updateBalance(ctx context.Context, tx *sql.Tx, rec *core.BalanceRecord, version int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE balance_history
		SET opening_balance = $1, income = $2, expenses = $3, closing_balance = $4,
		    version = version + 1, updated_at = NOW()
		WHERE user_id = $5 AND day = $6 AND version = $7`,
		rec.OpeningBalance, rec.Income, rec.Expenses, rec.ClosingBalance,
		rec.Key.UserID, rec.Key.Date.Time, version)
	if err != nil {
		return fmt.Errorf("update balance %s: %w", rec.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update balance %s: %w", rec.Key, err)
	}
	if n == 0 {
		return fmt.Errorf("balance %s at version %d: %w", rec.Key, version, core.ErrConcurrencyViolation)
	}
	return nil
}

func checkRecord(rec *core.BalanceRecord) error {
	for _, d := range []decimal.Decimal{rec.OpeningBalance, rec.Income, rec.Expenses, rec.ClosingBalance} {
		if _, err := core.NormalizeAmount(d); err != nil {
			return err
		}
	}
	if !rec.Consistent() {
		return errors.New("closing does not match totals")
	}
	return nil
}

// GetBalance implements services.LedgerStore.
func (s *Store) GetBalance(ctx context.Context, key core.LedgerKey) (core.BalanceRecord, bool, error) {
	rec, err := scanBalance(s.db.QueryRowContext(ctx, selectBalance, key.UserID, key.Date.Time))
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
func (s *Store) ListBalances(ctx context.Context, userID uuid.UUID, from, to core.Date) ([]core.BalanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, day, opening_balance, income, expenses, closing_balance, version
		FROM balance_history
		WHERE user_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day`,
		userID, from.Time, to.Time)
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
func (s *Store) ListLedgerUsers(ctx context.Context, from, to core.Date) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id
		FROM balance_history
		WHERE day BETWEEN $1 AND $2
		ORDER BY user_id`,
		from.Time, to.Time)
	if err != nil {
		return nil, fmt.Errorf("list ledger users: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ledger user: %w", err)
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
		rec core.BalanceRecord
		day time.Time
	)
	err := s.Scan(&rec.Key.UserID, &day, &rec.OpeningBalance, &rec.Income, &rec.Expenses, &rec.ClosingBalance, &rec.Version)
	if err != nil {
		return core.BalanceRecord{}, err
	}
	rec.Key.Date = core.DateOf(day)
	return rec, nil
}

func (s *Store) CreateExpense(ctx context.Context, e core.Expense) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, user_id, amount, category, day, payment_method, notes, recurring_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.Amount, e.Category, e.Date.Time, e.PaymentMethod, e.Notes, nullUUID(e.RecurringID))
	if err != nil {
		return fmt.Errorf("create expense: %w", err)
	}
	return nil
}

const expenseColumns = `id, user_id, amount, category, day, payment_method, notes, recurring_id`

func (s *Store) GetExpense(ctx context.Context, userID, id uuid.UUID) (core.Expense, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = $1 AND user_id = $2`, id, userID)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("expense %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

func (s *Store) UpdateExpense(ctx context.Context, e core.Expense) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE expenses
		SET amount = $1, category = $2, day = $3, payment_method = $4, notes = $5, recurring_id = $6,
		    updated_at = NOW()
		WHERE id = $7 AND user_id = $8`,
		e.Amount, e.Category, e.Date.Time, e.PaymentMethod, e.Notes, nullUUID(e.RecurringID), e.ID, e.UserID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return expectOne(res, "expense", e.ID)
}

func (s *Store) DeleteExpense(ctx context.Context, userID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return expectOne(res, "expense", id)
}

func (s *Store) ListExpenses(ctx context.Context, userID uuid.UUID, from, to core.Date) ([]core.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+expenseColumns+` FROM expenses
		WHERE user_id = $1 AND day BETWEEN $2 AND $3 ORDER BY day DESC, created_at DESC`,
		userID, from.Time, to.Time)
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
		e           core.Expense
		day         time.Time
		recurringID uuid.NullUUID
	)
	err := s.Scan(&e.ID, &e.UserID, &e.Amount, &e.Category, &day, &e.PaymentMethod, &e.Notes, &recurringID)
	if err != nil {
		return core.Expense{}, err
	}
	e.Date = core.DateOf(day)
	if recurringID.Valid {
		e.RecurringID = &recurringID.UUID
	}
	return e, nil
}

func (s *Store) CreateIncome(ctx context.Context, i core.Income) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incomes (id, user_id, amount, source_id, day, notes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		i.ID, i.UserID, i.Amount, nullUUID(i.SourceID), i.Date.Time, i.Notes)
	if err != nil {
		return fmt.Errorf("create income: %w", err)
	}
	return nil
}

func (s *Store) GetIncome(ctx context.Context, userID, id uuid.UUID) (core.Income, error) {
	var (
		in       core.Income
		day      time.Time
		sourceID uuid.NullUUID
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount, source_id, day, notes
		FROM incomes WHERE id = $1 AND user_id = $2`, id, userID).
		Scan(&in.ID, &in.UserID, &in.Amount, &sourceID, &day, &in.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Income{}, fmt.Errorf("income %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Income{}, fmt.Errorf("get income: %w", err)
	}
	in.Date = core.DateOf(day)
	if sourceID.Valid {
		in.SourceID = &sourceID.UUID
	}
	return in, nil
}

func (s *Store) UpdateIncome(ctx context.Context, i core.Income) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incomes SET amount = $1, source_id = $2, day = $3, notes = $4, updated_at = NOW()
		WHERE id = $5 AND user_id = $6`,
		i.Amount, nullUUID(i.SourceID), i.Date.Time, i.Notes, i.ID, i.UserID)
	if err != nil {
		return fmt.Errorf("update income: %w", err)
	}
	return expectOne(res, "income", i.ID)
}

func (s *Store) DeleteIncome(ctx context.Context, userID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM incomes WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete income: %w", err)
	}
	return expectOne(res, "income", id)
}

func (s *Store) CreateIncomeSource(ctx context.Context, src core.IncomeSource) error {
	sc := src.Schedule
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO income_sources (id, user_id, name, amount, frequency, day_of_week, day_of_month,
		                            start_date, end_date, anchor_date, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		src.ID, src.UserID, src.Name, src.Amount, string(sc.Frequency), nullWeekday(sc.DayOfWeek),
		nullInt(sc.DayOfMonth), sc.StartDate.Time, nullDate(sc.EndDate), nullDate(sc.Anchor), src.IsActive)
	if err != nil {
		return fmt.Errorf("create income source: %w", err)
	}
	return nil
}

const incomeSourceColumns = `id, user_id, name, amount, frequency, day_of_week, day_of_month,
	start_date, end_date, anchor_date, is_active`

func (s *Store) GetIncomeSource(ctx context.Context, userID, id uuid.UUID) (core.IncomeSource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+incomeSourceColumns+` FROM income_sources WHERE id = $1 AND user_id = $2`, id, userID)
	src, err := scanIncomeSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.IncomeSource{}, fmt.Errorf("income source %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.IncomeSource{}, fmt.Errorf("get income source: %w", err)
	}
	return src, nil
}

func (s *Store) DeactivateIncomeSource(ctx context.Context, userID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE income_sources SET is_active = FALSE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("deactivate income source: %w", err)
	}
	return expectOne(res, "income source", id)
}

func (s *Store) ListActiveIncomeSources(ctx context.Context, userID uuid.UUID) ([]core.IncomeSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incomeSourceColumns+` FROM income_sources WHERE user_id = $1 AND is_active ORDER BY name`, userID)
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
		src   core.IncomeSource
		sched scheduleRow
	)
	err := s.Scan(&src.ID, &src.UserID, &src.Name, &src.Amount, &sched.frequency, &sched.dayOfWeek,
		&sched.dayOfMonth, &sched.startDate, &sched.endDate, &sched.anchor, &src.IsActive)
	if err != nil {
		return core.IncomeSource{}, err
	}
	src.Schedule = sched.descriptor()
	return src, nil
}

func (s *Store) CreateRecurringExpense(ctx context.Context, re core.RecurringExpense) error {
	sc := re.Schedule
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recurring_expenses (id, user_id, name, amount, category, frequency, day_of_week,
		                                day_of_month, start_date, end_date, anchor_date, next_occurrence,
		                                is_active, auto_deduct, reminder_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		re.ID, re.UserID, re.Name, re.Amount, re.Category, string(sc.Frequency), nullWeekday(sc.DayOfWeek),
		nullInt(sc.DayOfMonth), sc.StartDate.Time, nullDate(sc.EndDate), nullDate(sc.Anchor),
		re.NextOccurrence.Time, re.IsActive, re.AutoDeduct, re.ReminderDays)
	if err != nil {
		return fmt.Errorf("create recurring expense: %w", err)
	}
	return nil
}

const recurringColumns = `id, user_id, name, amount, category, frequency, day_of_week, day_of_month,
	start_date, end_date, anchor_date, next_occurrence, is_active, auto_deduct, reminder_days`

func (s *Store) GetRecurringExpense(ctx context.Context, userID, id uuid.UUID) (core.RecurringExpense, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recurringColumns+` FROM recurring_expenses WHERE id = $1 AND user_id = $2`, id, userID)
	re, err := scanRecurring(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringExpense{}, fmt.Errorf("recurring expense %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.RecurringExpense{}, fmt.Errorf("get recurring expense: %w", err)
	}
	return re, nil
}

func (s *Store) UpdateRecurringExpense(ctx context.Context, re core.RecurringExpense) error {
	sc := re.Schedule
	res, err := s.db.ExecContext(ctx, `
		UPDATE recurring_expenses
		SET name = $1, amount = $2, category = $3, frequency = $4, day_of_week = $5, day_of_month = $6,
		    start_date = $7, end_date = $8, anchor_date = $9, next_occurrence = $10, is_active = $11,
		    auto_deduct = $12, reminder_days = $13, updated_at = NOW()
		WHERE id = $14 AND user_id = $15`,
		re.Name, re.Amount, re.Category, string(sc.Frequency), nullWeekday(sc.DayOfWeek), nullInt(sc.DayOfMonth),
		sc.StartDate.Time, nullDate(sc.EndDate), nullDate(sc.Anchor), re.NextOccurrence.Time,
		re.IsActive, re.AutoDeduct, re.ReminderDays, re.ID, re.UserID)
	if err != nil {
		return fmt.Errorf("update recurring expense: %w", err)
	}
	return expectOne(res, "recurring expense", re.ID)
}

func (s *Store) ListActiveRecurringExpenses(ctx context.Context, userID uuid.UUID) ([]core.RecurringExpense, error) {
	return s.listRecurring(ctx,
		`SELECT `+recurringColumns+` FROM recurring_expenses WHERE user_id = $1 AND is_active ORDER BY name`, userID)
}

func (s *Store) ListDueRecurringExpenses(ctx context.Context, asOf core.Date) ([]core.RecurringExpense, error) {
	return s.listRecurring(ctx,
		`SELECT `+recurringColumns+` FROM recurring_expenses
		 WHERE is_active AND next_occurrence <= $1 ORDER BY next_occurrence, id`, asOf.Time)
}

func (s *Store) listRecurring(ctx context.Context, query string, args ...any) ([]core.RecurringExpense, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
		re    core.RecurringExpense
		next  time.Time
		sched scheduleRow
	)
	err := s.Scan(&re.ID, &re.UserID, &re.Name, &re.Amount, &re.Category, &sched.frequency, &sched.dayOfWeek,
		&sched.dayOfMonth, &sched.startDate, &sched.endDate, &sched.anchor, &next,
		&re.IsActive, &re.AutoDeduct, &re.ReminderDays)
	if err != nil {
		return core.RecurringExpense{}, err
	}
	re.NextOccurrence = core.DateOf(next)
	re.Schedule = sched.descriptor()
	return re, nil
}

type scheduleRow struct {
	frequency  string
	dayOfWeek  sql.NullInt16
	dayOfMonth sql.NullInt16
	startDate  time.Time
	endDate    sql.NullTime
	anchor     sql.NullTime
}

func (s scheduleRow) descriptor() core.ScheduleDescriptor {
	d := core.ScheduleDescriptor{
		Frequency: core.Frequency(s.frequency),
		StartDate: core.DateOf(s.startDate),
	}
	if s.dayOfWeek.Valid {
		wd := time.Weekday(s.dayOfWeek.Int16)
		d.DayOfWeek = &wd
	}
	if s.dayOfMonth.Valid {
		dom := int(s.dayOfMonth.Int16)
		d.DayOfMonth = &dom
	}
	if s.endDate.Valid {
		end := core.DateOf(s.endDate.Time)
		d.EndDate = &end
	}
	if s.anchor.Valid {
		anchor := core.DateOf(s.anchor.Time)
		d.Anchor = &anchor
	}
	return d
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

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullDate(d *core.Date) sql.NullTime {
	if d == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: d.Time, Valid: true}
}

func nullInt(i *int) sql.NullInt16 {
	if i == nil {
		return sql.NullInt16{}
	}
	return sql.NullInt16{Int16: int16(*i), Valid: true}
}

func nullWeekday(w *time.Weekday) sql.NullInt16 {
	if w == nil {
		return sql.NullInt16{}
	}
	return sql.NullInt16{Int16: int16(*w), Valid: true}
}
