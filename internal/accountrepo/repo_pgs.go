// Package accountrepo manages repository layer of accounts.
package accountrepo

import (
	"context"
	"database/sql"

	"github.com/go-petr/pay-gateway/internal/domain"
	"github.com/go-petr/pay-gateway/pkg/dbpkg"
	"github.com/go-petr/pay-gateway/pkg/errorspkg"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// RepoPGS facilitates account repository layer logic.
type RepoPGS struct {
	db dbpkg.SQLInterface
}

// NewRepoPGS returns account RepoPGS.
func NewRepoPGS(db dbpkg.SQLInterface) *RepoPGS {
	return &RepoPGS{
		db: db,
	}
}

var accountColumns = []string{"id", "owner", "kind", "balance", "held", "currency", "version", "created_at"}

func scanAccount(row *sql.Row) (domain.Account, error) {
	var a domain.Account

	err := row.Scan(
		&a.ID,
		&a.Owner,
		&a.Kind,
		&a.Balance,
		&a.Held,
		&a.Currency,
		&a.Version,
		&a.CreatedAt,
	)

	return a, err
}

// Create creates the account and then returns it.
func (r *RepoPGS) Create(ctx context.Context, owner string, balance int64, currency string) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	query, args, err := dbpkg.Builder.
		Insert("accounts").
		Columns("owner", "balance", "currency").
		Values(owner, balance, currency).
		Suffix("RETURNING " + joinColumns(accountColumns)).
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return domain.Account{}, errorspkg.ErrInternal
	}

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		l.Error().Err(err).Send()

		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Constraint {
			case "accounts_owner_fkey":
				return a, domain.ErrOwnerNotFound
			case "accounts_owner_currency_kind_key":
				return a, domain.ErrCurrencyAlreadyExists
			}
		}

		return a, errorspkg.ErrInternal
	}

	return a, nil
}

// Get returns the account with the given id.
func (r *RepoPGS) Get(ctx context.Context, id int64) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	query, args, err := dbpkg.Builder.
		Select(accountColumns...).
		From("accounts").
		Where("id = ?", id).
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return domain.Account{}, errorspkg.ErrInternal
	}

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		l.Error().Err(err).Send()

		if err == sql.ErrNoRows {
			return a, domain.ErrAccountNotFound
		}

		return a, errorspkg.ErrInternal
	}

	return a, nil
}

// List returns the specified number of accounts for the given user.
func (r *RepoPGS) List(ctx context.Context, owner string, limit, offset int32) ([]domain.Account, error) {
	l := zerolog.Ctx(ctx)

	query, args, err := dbpkg.Builder.
		Select(accountColumns...).
		From("accounts").
		Where("owner = ?", owner).
		OrderBy("id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return nil, errorspkg.ErrInternal
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		l.Error().Err(err).Send()
		return nil, errorspkg.ErrInternal
	}
	defer rows.Close()

	items := []domain.Account{}

	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Owner, &a.Kind, &a.Balance, &a.Held, &a.Currency, &a.Version, &a.CreatedAt); err != nil {
			l.Error().Err(err).Send()
			return nil, errorspkg.ErrInternal
		}

		items = append(items, a)
	}

	if err := rows.Err(); err != nil {
		l.Error().Err(err).Send()
		return nil, errorspkg.ErrInternal
	}

	return items, nil
}

// Delete removes the account with the given id.
func (r *RepoPGS) Delete(ctx context.Context, id int64) error {
	query, args, err := dbpkg.Builder.
		Delete("accounts").
		Where("id = ?", id).
		ToSql()
	if err != nil {
		return errorspkg.ErrInternal
	}

	_, err = r.db.ExecContext(ctx, query, args...)

	return err
}

func joinColumns(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}

	return out
}
