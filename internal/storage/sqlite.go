package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tally/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the durable Ledger backed by an embedded SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Ledger = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", core.ErrStoreUnavailable)
	}

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

const timeLayout = time.RFC3339

func (r *SQLiteRepository) QueryTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error) {
	query := `SELECT id, owner_id, type, category_id, amount, description, created_at
	          FROM transactions WHERE owner_id = ?`
	args := []any{f.OwnerID}

	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}
	if f.CategoryID != nil {
		if *f.CategoryID == "" {
			query += " AND category_id IS NULL"
		} else {
			query += " AND category_id = ?"
			args = append(args, *f.CategoryID)
		}
	}
	if f.Start != nil {
		query += " AND created_at >= ?"
		args = append(args, f.Start.UTC().Format(timeLayout))
	}
	if f.End != nil {
		query += " AND created_at < ?"
		args = append(args, f.End.UTC().Format(timeLayout))
	}
	query += " ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			tx        core.Transaction
			category  sql.NullString
			amount    string
			createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.OwnerID, &tx.Type, &category, &amount, &tx.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if category.Valid {
			tx.CategoryID = category.String
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		if tx.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) QueryBudgetAllocations(ctx context.Context, ownerID string, period core.Period) ([]core.BudgetAllocation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, b.owner_id, b.period, a.category_id, a.amount
		FROM budget_allocations a
		JOIN budgets b ON b.id = a.budget_id
		WHERE b.owner_id = ? AND b.period = ?
		ORDER BY a.category_id ASC`, ownerID, period.String())
	if err != nil {
		return nil, fmt.Errorf("query budget allocations: %w", err)
	}
	defer rows.Close()

	var out []core.BudgetAllocation
	for rows.Next() {
		var (
			a      core.BudgetAllocation
			amount string
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Period, &a.CategoryID, &amount); err != nil {
			return nil, fmt.Errorf("scan budget allocation: %w", err)
		}
		if a.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse allocation amount %q: %w", amount, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate budget allocations: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) QueryOpeningBalance(ctx context.Context, ownerID string, period core.Period) (core.OpeningBalance, error) {
	var amount string
	err := r.db.QueryRowContext(ctx,
		`SELECT amount FROM opening_balances WHERE owner_id = ? AND period = ?`,
		ownerID, period.String()).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return core.OpeningBalance{}, core.ErrOpeningBalanceNotFound
	}
	if err != nil {
		return core.OpeningBalance{}, fmt.Errorf("query opening balance: %w", err)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return core.OpeningBalance{}, fmt.Errorf("parse opening balance %q: %w", amount, err)
	}
	return core.OpeningBalance{OwnerID: ownerID, Period: period, Amount: d}, nil
}

func (r *SQLiteRepository) QueryCategories(ctx context.Context, typ core.TransactionType) ([]core.Category, error) {
	query := `SELECT id, name, description, transaction_type FROM categories`
	var args []any
	if typ != "" {
		query += " WHERE transaction_type = ?"
		args = append(args, string(typ))
	}
	query += " ORDER BY name ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.TransactionType); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) QueryOwners(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT owner_id FROM transactions ORDER BY owner_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		out = append(out, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owners: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", fmt.Errorf("validate transaction: %w", err)
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, owner_id, type, category_id, amount, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.OwnerID, string(tx.Type), nullable(tx.CategoryID),
		tx.Amount.String(), tx.Description, tx.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved",
		"id", tx.ID,
		"owner_id", tx.OwnerID,
		"type", tx.Type,
		"amount", tx.Amount.String())

	return tx.ID, nil
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("validate transaction: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET type = ?, category_id = ?, amount = ?, description = ?, created_at = ?
		WHERE id = ? AND owner_id = ?`,
		string(tx.Type), nullable(tx.CategoryID), tx.Amount.String(),
		tx.Description, tx.CreatedAt.UTC().Format(timeLayout), tx.ID, tx.OwnerID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update transaction %s: %w", tx.ID, core.ErrTransactionNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	slog.InfoContext(ctx, "Transaction deleted", "id", id, "owner_id", ownerID)
	return nil
}

// CreateBudget inserts the budget header and every per-category allocation
// inside one transaction. Any failure rolls the whole set back; partial
// allocation sets never exist.
func (r *SQLiteRepository) CreateBudget(ctx context.Context, ownerID string, period core.Period, allocations []core.BudgetAllocation) (string, error) {
	for i := range allocations {
		allocations[i].OwnerID = ownerID
		allocations[i].Period = period
		if allocations[i].ID == "" {
			allocations[i].ID = uuid.NewString()
		}
		if err := allocations[i].Validate(); err != nil {
			return "", fmt.Errorf("validate allocation: %w", err)
		}
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin budget transaction: %w", err)
	}
	defer dbTx.Rollback()

	budgetID := uuid.NewString()
	if _, err := dbTx.ExecContext(ctx,
		`INSERT INTO budgets (id, owner_id, period) VALUES (?, ?, ?)`,
		budgetID, ownerID, period.String()); err != nil {
		return "", fmt.Errorf("insert budget header: %w", err)
	}

	for _, a := range allocations {
		if _, err := dbTx.ExecContext(ctx,
			`INSERT INTO budget_allocations (id, budget_id, category_id, amount) VALUES (?, ?, ?, ?)`,
			a.ID, budgetID, a.CategoryID, a.Amount.String()); err != nil {
			return "", fmt.Errorf("insert budget allocation: %w", err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return "", fmt.Errorf("commit budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget created",
		"budget_id", budgetID,
		"owner_id", ownerID,
		"period", period.String(),
		"allocations", len(allocations))

	return budgetID, nil
}

func (r *SQLiteRepository) SetOpeningBalance(ctx context.Context, ob core.OpeningBalance) error {
	if err := ob.Period.Validate(); err != nil {
		return fmt.Errorf("validate period: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO opening_balances (owner_id, period, amount) VALUES (?, ?, ?)
		ON CONFLICT(owner_id, period) DO UPDATE SET amount = excluded.amount`,
		ob.OwnerID, ob.Period.String(), ob.Amount.String())
	if err != nil {
		return fmt.Errorf("upsert opening balance: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
