// Package transactionrepo manages repository layer of transactions.
package transactionrepo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-petr/pay-gateway/internal/domain"
	"github.com/go-petr/pay-gateway/pkg/dbpkg"
	"github.com/go-petr/pay-gateway/pkg/errorspkg"

	"github.com/rs/zerolog"
)

// RepoPGS facilitates transaction repository layer logic.
type RepoPGS struct {
	db dbpkg.SQLInterface
}

// NewRepoPGS returns transaction RepoPGS.
func NewRepoPGS(db dbpkg.SQLInterface) *RepoPGS {
	return &RepoPGS{
		db: db,
	}
}

var transactionColumns = []string{"id", "idempotency_key", "kind", "status", "created_at", "updated_at"}

func scanTransaction(row *sql.Row) (domain.Transaction, error) {
	var t domain.Transaction

	err := row.Scan(
		&t.ID,
		&t.IdempotencyKey,
		&t.Kind,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
	)

	return t, err
}

// Create persists a new transaction in the pending status and returns it.
func (r *RepoPGS) Create(ctx context.Context, arg domain.CreateTransactionParams) (domain.Transaction, error) {
	l := zerolog.Ctx(ctx)

	query, args, err := dbpkg.Builder.
		Insert("transactions").
		Columns("id", "idempotency_key", "kind", "status").
		Values(arg.ID, arg.IdempotencyKey, arg.Kind, domain.StatusPending).
		Suffix("RETURNING id, idempotency_key, kind, status, created_at, updated_at").
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return domain.Transaction{}, errorspkg.ErrInternal
	}

	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		l.Error().Err(err).Msgf("Create(ctx, %+v)", arg)
		return t, errorspkg.ErrInternal
	}

	return t, nil
}

// Get returns the transaction with the given id.
func (r *RepoPGS) Get(ctx context.Context, id string) (domain.Transaction, error) {
	l := zerolog.Ctx(ctx)

	query, args, err := dbpkg.Builder.
		Select(transactionColumns...).
		From("transactions").
		Where("id = ?", id).
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return domain.Transaction{}, errorspkg.ErrInternal
	}

	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		l.Error().Err(err).Send()

		if err == sql.ErrNoRows {
			return t, domain.ErrTransactionNotFound
		}

		return t, errorspkg.ErrInternal
	}

	return t, nil
}

// SetStatus transitions the transaction to the given status. Transactions in
// a terminal status are never modified.
func (r *RepoPGS) SetStatus(ctx context.Context, id string, status domain.Status) (domain.Transaction, error) {
	l := zerolog.Ctx(ctx)

	query, args, err := dbpkg.Builder.
		Update("transactions").
		Set("status", status).
		Set("updated_at", sq.Expr("now()")).
		Where("id = ?", id).
		Where("status NOT IN (?, ?, ?)", domain.StatusCommitted, domain.StatusRolledBack, domain.StatusFailed).
		Suffix("RETURNING id, idempotency_key, kind, status, created_at, updated_at").
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return domain.Transaction{}, errorspkg.ErrInternal
	}

	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		l.Error().Err(err).Send()

		if err == sql.ErrNoRows {
			if _, getErr := r.Get(ctx, id); getErr == nil {
				return t, domain.ErrTerminalStatus
			}

			return t, domain.ErrTransactionNotFound
		}

		return t, errorspkg.ErrInternal
	}

	return t, nil
}
