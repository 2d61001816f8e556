// Package ledgerrepo implements the ledger store: all account balance
// mutation goes through its reserve/release/commit protocol.
package ledgerrepo

import (
	"context"
	"database/sql"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/go-petr/pay-gateway/internal/domain"
	"github.com/go-petr/pay-gateway/internal/postingrepo"
	"github.com/go-petr/pay-gateway/internal/transactionrepo"
	"github.com/go-petr/pay-gateway/pkg/dbpkg"
	"github.com/go-petr/pay-gateway/pkg/errorspkg"
)

// RepoPGS facilitates ledger store logic over Postgres.
type RepoPGS struct {
	db   dbpkg.SQLInterface
	conn *sql.DB
}

// NewTxRepoPGS returns ledger RepoPGS bound to an open transaction.
func NewTxRepoPGS(db dbpkg.SQLInterface) *RepoPGS {
	return &RepoPGS{
		db: db,
	}
}

// NewRepoPGS returns ledger RepoPGS with a connection to start transactions.
func NewRepoPGS(db *sql.DB) *RepoPGS {
	return &RepoPGS{
		db:   db,
		conn: db,
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

// GetAccount returns the account with the given id.
func (r *RepoPGS) GetAccount(ctx context.Context, id int64) (domain.Account, error) {
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
		if err == sql.ErrNoRows {
			return a, domain.ErrAccountNotFound
		}

		l.Error().Err(err).Send()

		return a, errorspkg.ErrInternal
	}

	return a, nil
}

// GetTreasury returns the gateway settlement account for the given currency.
func (r *RepoPGS) GetTreasury(ctx context.Context, currency string) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	query, args, err := dbpkg.Builder.
		Select(accountColumns...).
		From("accounts").
		Where(sq.Eq{"kind": domain.AccountKindTreasury, "currency": currency}).
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return domain.Account{}, errorspkg.ErrInternal
	}

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return a, domain.ErrTreasuryNotFound
		}

		l.Error().Err(err).Send()

		return a, errorspkg.ErrInternal
	}

	return a, nil
}

// Reserve places a hold of amount on the account without touching its
// spendable balance, so concurrent transactions cannot overdraw it. The
// returned reservation carries the post-reserve account version for the
// optimistic commit check.
func (r *RepoPGS) Reserve(ctx context.Context, accountID, amount int64) (domain.Reservation, error) {
	l := zerolog.Ctx(ctx)

	var res domain.Reservation

	if amount <= 0 {
		return res, domain.ErrInvalidAmount
	}

	query, args, err := dbpkg.Builder.
		Update("accounts").
		Set("held", sq.Expr("held + ?", amount)).
		Set("version", sq.Expr("version + 1")).
		Where("id = ?", accountID).
		Where("(kind = ? OR balance - held >= ?)", domain.AccountKindTreasury, amount).
		Suffix("RETURNING version").
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return res, errorspkg.ErrInternal
	}

	var version int64

	err = r.db.QueryRowContext(ctx, query, args...).Scan(&version)
	if err != nil {
		if err == sql.ErrNoRows {
			// Either the account does not exist or its spendable
			// balance cannot cover the hold.
			if _, getErr := r.GetAccount(ctx, accountID); getErr != nil {
				return res, getErr
			}

			return res, domain.ErrInsufficientBalance
		}

		l.Error().Err(err).Send()

		return res, errorspkg.ErrInternal
	}

	res = domain.Reservation{
		AccountID: accountID,
		Amount:    amount,
		Version:   version,
	}

	return res, nil
}

// Release gives a reserved hold back to the account's spendable balance.
func (r *RepoPGS) Release(ctx context.Context, res domain.Reservation) error {
	l := zerolog.Ctx(ctx)

	query, args, err := dbpkg.Builder.
		Update("accounts").
		Set("held", sq.Expr("held - ?", res.Amount)).
		Set("version", sq.Expr("version + 1")).
		Where("id = ?", res.AccountID).
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return errorspkg.ErrInternal
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		l.Error().Err(err).Send()
		return errorspkg.ErrInternal
	}

	affected, err := result.RowsAffected()
	if err != nil {
		l.Error().Err(err).Send()
		return errorspkg.ErrInternal
	}

	if affected == 0 {
		return domain.ErrAccountNotFound
	}

	return nil
}

// accountDelta accumulates the net effect of all posting legs on one account.
type accountDelta struct {
	accountID int64
	balance   int64
	debited   int64
}

// ApplyPostings commits a transaction: it inserts the posting rows, applies
// the net balance changes, consumes the holds, and marks the transaction
// committed, all within a single database transaction. Debited accounts are
// updated with a compare-and-swap on the version captured at reservation
// time; a mismatch leaves the ledger untouched and returns
// domain.ErrConcurrencyConflict so the caller can retry the whole
// transaction.
func (r *RepoPGS) ApplyPostings(ctx context.Context, transactionID string, postings []domain.Posting, reservations []domain.Reservation) (domain.CommitResult, error) {
	l := zerolog.Ctx(ctx)

	var result domain.CommitResult

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		l.Error().Err(err).Send()
		return result, errorspkg.ErrInternal
	}

	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			l.Error().Err(err).Send()
		}
	}()

	postingRepo := postingrepo.NewRepoPGS(tx)
	transactionRepo := transactionrepo.NewRepoPGS(tx)
	txLedger := NewTxRepoPGS(tx)

	result.Postings = make([]domain.Posting, 0, len(postings))

	for _, p := range postings {
		created, err := postingRepo.Create(ctx, transactionID, p.FromAccountID, p.ToAccountID, p.Amount)
		if err != nil {
			return result, err
		}

		result.Postings = append(result.Postings, created)
	}

	reservedVersions := make(map[int64]int64, len(reservations))
	for _, res := range reservations {
		reservedVersions[res.AccountID] = res.Version
	}

	// Statements execute in ascending account id order so concurrent
	// commits never wait on each other's row locks in a cycle.
	deltas := netDeltas(postings)

	result.Accounts = make(map[int64]domain.Account, len(deltas))

	for _, d := range deltas {
		version, reserved := reservedVersions[d.accountID]

		account, err := txLedger.applyDelta(ctx, d, reserved, version)
		if err != nil {
			return result, err
		}

		result.Accounts[account.ID] = account
	}

	committed, err := transactionRepo.SetStatus(ctx, transactionID, domain.StatusCommitted)
	if err != nil {
		return result, err
	}

	result.Transaction = committed

	if err := tx.Commit(); err != nil {
		l.Error().Err(err).Send()
		return result, errorspkg.ErrInternal
	}

	return result, nil
}

// netDeltas folds posting legs into one delta per account, ordered by
// ascending account id.
func netDeltas(postings []domain.Posting) []accountDelta {
	byAccount := make(map[int64]*accountDelta)

	touch := func(id int64) *accountDelta {
		d, ok := byAccount[id]
		if !ok {
			d = &accountDelta{accountID: id}
			byAccount[id] = d
		}

		return d
	}

	for _, p := range postings {
		from := touch(p.FromAccountID)
		from.balance -= p.Amount
		from.debited += p.Amount

		to := touch(p.ToAccountID)
		to.balance += p.Amount
	}

	deltas := make([]accountDelta, 0, len(byAccount))
	for _, d := range byAccount {
		deltas = append(deltas, *d)
	}

	sort.Slice(deltas, func(i, j int) bool { return deltas[i].accountID < deltas[j].accountID })

	return deltas
}

// applyDelta applies one account's net balance change. Debited accounts
// consume their hold and are guarded by the version compare-and-swap.
func (r *RepoPGS) applyDelta(ctx context.Context, d accountDelta, reserved bool, version int64) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	builder := dbpkg.Builder.
		Update("accounts").
		Set("balance", sq.Expr("balance + ?", d.balance)).
		Set("version", sq.Expr("version + 1")).
		Where("id = ?", d.accountID).
		Suffix("RETURNING " + columnList(accountColumns))

	if reserved {
		builder = builder.
			Set("held", sq.Expr("held - ?", d.debited)).
			Where("version = ?", version)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return domain.Account{}, errorspkg.ErrInternal
	}

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			if reserved {
				return account, domain.ErrConcurrencyConflict
			}

			return account, domain.ErrAccountNotFound
		}

		l.Error().Err(err).Send()

		if pqErr, ok := err.(*pq.Error); ok && pqErr.Constraint == "accounts_balance_check" {
			return account, domain.ErrInsufficientBalance
		}

		return account, errorspkg.ErrInternal
	}

	return account, nil
}

func columnList(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}

	return out
}
