package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account name already exists")
	ErrAccountInUse        = errors.New("account has transactions")
	ErrCategoryNotFound    = errors.New("category not found")
	ErrCategoryExists      = errors.New("category name already exists")
	ErrTransactionNotFound = errors.New("transaction not found")
)

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, created_at
		FROM accounts
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]Account, 0)
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Name, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.CreatedAt = a.CreatedAt.UTC()
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	balances, err := r.balances(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		accounts[i].Balance = balances[accounts[i].ID]
	}

	return accounts, nil
}

// balances sums amounts in Go because they are stored as decimal text.
func (r *Repository) balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT account_id, amount, type FROM transactions`)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			t      Transaction
			amount string
		)
		if err := rows.Scan(&t.AccountID, &amount, &t.Type); err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		t.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		out[t.AccountID] = out[t.AccountID].Add(t.signed())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}

	return out, nil
}

func (r *Repository) CreateAccount(ctx context.Context, input AccountInput) (Account, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE name = $1)`, input.Name).Scan(&exists); err != nil {
		return Account{}, fmt.Errorf("check account name: %w", err)
	}
	if exists {
		return Account{}, ErrAccountExists
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	a := Account{ID: id.String(), Name: input.Name, CreatedAt: r.now().UTC()}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, created_at)
		VALUES ($1, $2, $3)
	`, a.ID, a.Name, a.CreatedAt)
	if err != nil {
		return Account{}, fmt.Errorf("insert account: %w", err)
	}

	return a, nil
}

// UpdateAccount renames an account and returns it with its current balance.
func (r *Repository) UpdateAccount(ctx context.Context, id string, input AccountInput) (Account, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE name = $1 AND id <> $2)`, input.Name, id).Scan(&exists); err != nil {
		return Account{}, fmt.Errorf("check account name: %w", err)
	}
	if exists {
		return Account{}, ErrAccountExists
	}

	var a Account
	err := r.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET name = $2
		WHERE id = $1
		RETURNING id, name, created_at
	`, id, input.Name).Scan(&a.ID, &a.Name, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("update account: %w", err)
	}
	a.CreatedAt = a.CreatedAt.UTC()

	balances, err := r.balances(ctx)
	if err != nil {
		return Account{}, err
	}
	a.Balance = balances[a.ID]

	return a, nil
}

func (r *Repository) DeleteAccount(ctx context.Context, id string) error {
	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = $1`, id).Scan(&count); err != nil {
		return fmt.Errorf("count account transactions: %w", err)
	}
	if count > 0 {
		return ErrAccountInUse
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, created_at
		FROM categories
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	categories := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}

	return categories, nil
}

func (r *Repository) CreateCategory(ctx context.Context, input CategoryInput) (Category, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM categories WHERE name = $1)`, input.Name).Scan(&exists); err != nil {
		return Category{}, fmt.Errorf("check category name: %w", err)
	}
	if exists {
		return Category{}, ErrCategoryExists
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Category{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	c := Category{ID: id.String(), Name: input.Name, CreatedAt: r.now().UTC()}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, created_at)
		VALUES ($1, $2, $3)
	`, c.ID, c.Name, c.CreatedAt)
	if err != nil {
		return Category{}, fmt.Errorf("insert category: %w", err)
	}

	return c, nil
}

// DeleteCategory removes a category. Transactions that used it keep their
// data and lose the category.
func (r *Repository) DeleteCategory(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete category: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET category_id = NULL WHERE category_id = $1`, id); err != nil {
		return fmt.Errorf("detach category: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrCategoryNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete category: %w", err)
	}
	return nil
}

const transactionColumns = `
		t.id, t.account_id, a.name, t.category_id, c.name,
		t.item, t.amount, t.type, t.description, t.occurred_at, t.created_at`

const transactionJoins = `
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		LEFT JOIN categories c ON c.id = t.category_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		t            Transaction
		amount       string
		categoryID   sql.NullString
		categoryName sql.NullString
	)
	if err := row.Scan(&t.ID, &t.AccountID, &t.AccountName, &categoryID, &categoryName,
		&t.Item, &amount, &t.Type, &t.Description, &t.OccurredAt, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}

	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transaction{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if categoryID.Valid {
		t.CategoryID = &categoryID.String
	}
	if categoryName.Valid {
		t.CategoryName = &categoryName.String
	}
	t.OccurredAt = t.OccurredAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

// ListTransactions returns one page of matching transactions, newest first,
// together with the total number of matches.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) (TransactionPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = DefaultPageLimit
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Search != "" {
		p := arg("%" + escapeLike(strings.ToLower(filter.Search)) + "%")
		where = append(where, `(LOWER(t.item) LIKE `+p+` ESCAPE '\' OR LOWER(t.description) LIKE `+p+` ESCAPE '\')`)
	}
	if filter.AccountID != "" {
		where = append(where, `t.account_id = `+arg(filter.AccountID))
	}
	if filter.CategoryID != "" {
		where = append(where, `t.category_id = `+arg(filter.CategoryID))
	}
	if filter.DateFrom != nil {
		where = append(where, `t.occurred_at >= `+arg(filter.DateFrom.UTC()))
	}
	if filter.DateTo != nil {
		where = append(where, `t.occurred_at < `+arg(filter.DateTo.UTC()))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	page := TransactionPage{Data: make([]Transaction, 0), Page: filter.Page, Limit: filter.Limit}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions t`+whereClause, args...).Scan(&page.Total); err != nil {
		return TransactionPage{}, fmt.Errorf("count transactions: %w", err)
	}

	query := `SELECT` + transactionColumns + transactionJoins + whereClause +
		` ORDER BY t.occurred_at DESC, t.id DESC LIMIT ` + arg(filter.Limit) +
		` OFFSET ` + arg((filter.Page-1)*filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return TransactionPage{}, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return TransactionPage{}, fmt.Errorf("scan transaction: %w", err)
		}
		page.Data = append(page.Data, t)
	}
	if err := rows.Err(); err != nil {
		return TransactionPage{}, fmt.Errorf("iterate transactions: %w", err)
	}

	return page, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func getTransaction(ctx context.Context, q queryRower, id string) (Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx,
		`SELECT`+transactionColumns+transactionJoins+` WHERE t.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// checkReferences confirms the account and the optional category exist.
func checkReferences(ctx context.Context, q queryRower, accountID string, categoryID *string) error {
	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return fmt.Errorf("check account: %w", err)
	}
	if !exists {
		return ErrAccountNotFound
	}

	if categoryID == nil {
		return nil
	}
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, *categoryID).Scan(&exists); err != nil {
		return fmt.Errorf("check category: %w", err)
	}
	if !exists {
		return ErrCategoryNotFound
	}
	return nil
}

func (r *Repository) CreateTransaction(ctx context.Context, input TransactionInput) (Transaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Transaction{}, fmt.Errorf("begin create transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkReferences(ctx, tx, input.AccountID, input.CategoryID); err != nil {
		return Transaction{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Transaction{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := r.now().UTC()
	occurredAt := now
	if input.OccurredAt != nil {
		occurredAt = input.OccurredAt.UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, category_id, item, amount, type, description, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id.String(), input.AccountID, input.CategoryID, input.Item, input.Amount.StringFixed(2),
		string(input.Type), input.Description, occurredAt, now)
	if err != nil {
		return Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	t, err := getTransaction(ctx, tx, id.String())
	if err != nil {
		return Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return Transaction{}, fmt.Errorf("commit create transaction: %w", err)
	}
	return t, nil
}

// UpdateTransaction replaces every field of a transaction. A missing
// occurred_at keeps the stored time.
func (r *Repository) UpdateTransaction(ctx context.Context, id string, input TransactionInput) (Transaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Transaction{}, fmt.Errorf("begin update transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := getTransaction(ctx, tx, id)
	if err != nil {
		return Transaction{}, err
	}
	if err := checkReferences(ctx, tx, input.AccountID, input.CategoryID); err != nil {
		return Transaction{}, err
	}

	occurredAt := existing.OccurredAt
	if input.OccurredAt != nil {
		occurredAt = input.OccurredAt.UTC()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transactions
		SET account_id = $2, category_id = $3, item = $4, amount = $5, type = $6, description = $7, occurred_at = $8
		WHERE id = $1
	`, id, input.AccountID, input.CategoryID, input.Item, input.Amount.StringFixed(2),
		string(input.Type), input.Description, occurredAt)
	if err != nil {
		return Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	t, err := getTransaction(ctx, tx, id)
	if err != nil {
		return Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return Transaction{}, fmt.Errorf("commit update transaction: %w", err)
	}
	return t, nil
}

func (r *Repository) DeleteTransaction(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTransactionNotFound
	}

	return nil
}
