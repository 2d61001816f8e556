// Package postingrepo manages repository layer of postings.
package postingrepo

import (
	"context"
	"database/sql"

	"github.com/go-petr/pay-gateway/internal/domain"
	"github.com/go-petr/pay-gateway/pkg/dbpkg"
	"github.com/go-petr/pay-gateway/pkg/errorspkg"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// RepoPGS facilitates posting repository layer logic.
type RepoPGS struct {
	db dbpkg.SQLInterface
}

// NewRepoPGS returns posting RepoPGS.
func NewRepoPGS(db dbpkg.SQLInterface) *RepoPGS {
	return &RepoPGS{
		db: db,
	}
}

var postingColumns = []string{"id", "transaction_id", "from_account", "to_account", "amount", "created_at"}

func scanPosting(row *sql.Row) (domain.Posting, error) {
	var p domain.Posting

	err := row.Scan(
		&p.ID,
		&p.TransactionID,
		&p.FromAccountID,
		&p.ToAccountID,
		&p.Amount,
		&p.CreatedAt,
	)

	return p, err
}

// Create creates a posting leg for the given transaction and returns it.
func (r *RepoPGS) Create(ctx context.Context, transactionID string, fromAccountID, toAccountID, amount int64) (domain.Posting, error) {
	l := zerolog.Ctx(ctx)

	query, args, err := dbpkg.Builder.
		Insert("postings").
		Columns("transaction_id", "from_account", "to_account", "amount").
		Values(transactionID, fromAccountID, toAccountID, amount).
		Suffix("RETURNING id, transaction_id, from_account, to_account, amount, created_at").
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return domain.Posting{}, errorspkg.ErrInternal
	}

	p, err := scanPosting(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		l.Error().Err(err).Send()

		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Constraint {
			case "postings_from_account_fkey", "postings_to_account_fkey":
				return p, domain.ErrAccountNotFound
			case "postings_transaction_id_fkey":
				return p, domain.ErrTransactionNotFound
			case "postings_amount_check":
				return p, domain.ErrInvalidAmount
			}
		}

		return p, errorspkg.ErrInternal
	}

	return p, nil
}

// ListByTransaction returns all postings of the given transaction in insertion order.
func (r *RepoPGS) ListByTransaction(ctx context.Context, transactionID string) ([]domain.Posting, error) {
	l := zerolog.Ctx(ctx)

	query, args, err := dbpkg.Builder.
		Select(postingColumns...).
		From("postings").
		Where("transaction_id = ?", transactionID).
		OrderBy("id").
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return nil, errorspkg.ErrInternal
	}

	return r.list(ctx, query, args)
}

// ListByAccount returns the postings which debit or credit the given account.
func (r *RepoPGS) ListByAccount(ctx context.Context, arg domain.ListPostingsParams) ([]domain.Posting, error) {
	l := zerolog.Ctx(ctx)

	query, args, err := dbpkg.Builder.
		Select(postingColumns...).
		From("postings").
		Where("from_account = ? OR to_account = ?", arg.AccountID, arg.AccountID).
		OrderBy("id").
		Limit(uint64(arg.Limit)).
		Offset(uint64(arg.Offset)).
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return nil, errorspkg.ErrInternal
	}

	return r.list(ctx, query, args)
}

func (r *RepoPGS) list(ctx context.Context, query string, args []interface{}) ([]domain.Posting, error) {
	l := zerolog.Ctx(ctx)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		l.Error().Err(err).Send()
		return nil, errorspkg.ErrInternal
	}
	defer rows.Close()

	items := []domain.Posting{}

	for rows.Next() {
		var p domain.Posting
		if err := rows.Scan(&p.ID, &p.TransactionID, &p.FromAccountID, &p.ToAccountID, &p.Amount, &p.CreatedAt); err != nil {
			l.Error().Err(err).Send()
			return nil, errorspkg.ErrInternal
		}

		items = append(items, p)
	}

	if err := rows.Err(); err != nil {
		l.Error().Err(err).Send()
		return nil, errorspkg.ErrInternal
	}

	return items, nil
}
