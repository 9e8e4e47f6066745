package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the SQL for the expenses table.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Expense is one row of the expenses table.
type Expense struct {
	ID       int64
	Amount   float64
	Category string
	Date     int64
	Note     sql.NullString
}

type CategoryTotalRow struct {
	Category string
	Total    float64
}

const upsertExpense = `INSERT OR REPLACE INTO expenses (id, amount, category, date, note)
VALUES (?, ?, ?, ?, ?)`

type UpsertExpenseParams struct {
	ID       sql.NullInt64
	Amount   float64
	Category string
	Date     int64
	Note     sql.NullString
}

// UpsertExpense inserts a row, replacing any row with the same id, and
// returns the row id.
func (q *Queries) UpsertExpense(ctx context.Context, arg UpsertExpenseParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, upsertExpense, arg.ID, arg.Amount, arg.Category, arg.Date, arg.Note)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const deleteExpenseByIdentity = `DELETE FROM expenses
WHERE id = ? AND amount = ? AND category = ? AND date = ? AND note IS ?`

type DeleteExpenseByIdentityParams struct {
	ID       int64
	Amount   float64
	Category string
	Date     int64
	Note     sql.NullString
}

func (q *Queries) DeleteExpenseByIdentity(ctx context.Context, arg DeleteExpenseByIdentityParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpenseByIdentity, arg.ID, arg.Amount, arg.Category, arg.Date, arg.Note)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getExpense = `SELECT id, amount, category, date, note FROM expenses WHERE id = ?`

func (q *Queries) GetExpense(ctx context.Context, id int64) (Expense, error) {
	row := q.db.QueryRowContext(ctx, getExpense, id)
	var i Expense
	err := row.Scan(&i.ID, &i.Amount, &i.Category, &i.Date, &i.Note)
	return i, err
}

const listExpenses = `SELECT id, amount, category, date, note FROM expenses
ORDER BY date DESC, id DESC`

func (q *Queries) ListExpenses(ctx context.Context) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, listExpenses)
	if err != nil {
		return nil, err
	}
	return scanExpenses(rows)
}

const listExpensesByDateRange = `SELECT id, amount, category, date, note FROM expenses
WHERE date >= ? AND date < ?
ORDER BY date DESC, id DESC`

func (q *Queries) ListExpensesByDateRange(ctx context.Context, start, end int64) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, listExpensesByDateRange, start, end)
	if err != nil {
		return nil, err
	}
	return scanExpenses(rows)
}

const getCategoryTotals = `SELECT category, SUM(amount) AS total FROM expenses
GROUP BY category
ORDER BY category`

func (q *Queries) GetCategoryTotals(ctx context.Context) ([]CategoryTotalRow, error) {
	rows, err := q.db.QueryContext(ctx, getCategoryTotals)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryTotalRow
	for rows.Next() {
		var i CategoryTotalRow
		if err := rows.Scan(&i.Category, &i.Total); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getTotalByDateRange = `SELECT SUM(amount) FROM expenses WHERE date >= ? AND date < ?`

// GetTotalByDateRange returns a NULL total when no row matches.
func (q *Queries) GetTotalByDateRange(ctx context.Context, start, end int64) (sql.NullFloat64, error) {
	row := q.db.QueryRowContext(ctx, getTotalByDateRange, start, end)
	var total sql.NullFloat64
	err := row.Scan(&total)
	return total, err
}

func scanExpenses(rows *sql.Rows) ([]Expense, error) {
	defer rows.Close()
	var items []Expense
	for rows.Next() {
		var i Expense
		if err := rows.Scan(&i.ID, &i.Amount, &i.Category, &i.Date, &i.Note); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
