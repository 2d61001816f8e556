// Package idempotencyrepo manages repository layer of idempotency records.
package idempotencyrepo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/go-petr/pay-gateway/internal/domain"
	"github.com/go-petr/pay-gateway/pkg/dbpkg"
	"github.com/go-petr/pay-gateway/pkg/errorspkg"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// RepoPGS facilitates idempotency record repository layer logic.
type RepoPGS struct {
	db dbpkg.SQLInterface
}

// NewRepoPGS returns idempotency RepoPGS.
func NewRepoPGS(db dbpkg.SQLInterface) *RepoPGS {
	return &RepoPGS{
		db: db,
	}
}

// Insert claims the key for the given transaction. Exactly one concurrent
// caller succeeds; the rest receive domain.ErrKeyAlreadyClaimed.
func (r *RepoPGS) Insert(ctx context.Context, key, transactionID string) (domain.IdempotencyRecord, error) {
	l := zerolog.Ctx(ctx)

	var rec domain.IdempotencyRecord

	query, args, err := dbpkg.Builder.
		Insert("idempotency_records").
		Columns("key", "transaction_id").
		Values(key, transactionID).
		Suffix("RETURNING key, transaction_id, created_at").
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return rec, errorspkg.ErrInternal
	}

	err = r.db.QueryRowContext(ctx, query, args...).Scan(&rec.Key, &rec.TransactionID, &rec.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return rec, domain.ErrKeyAlreadyClaimed
		}

		l.Error().Err(err).Send()

		return rec, errorspkg.ErrInternal
	}

	return rec, nil
}

// Get returns the record for the key, including the cached outcome once the
// first submission has completed.
func (r *RepoPGS) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	l := zerolog.Ctx(ctx)

	var rec domain.IdempotencyRecord

	query, args, err := dbpkg.Builder.
		Select("key", "transaction_id", "result", "created_at").
		From("idempotency_records").
		Where("key = ?", key).
		ToSql()
	if err != nil {
		l.Error().Err(err).Send()
		return rec, errorspkg.ErrInternal
	}

	var result sql.NullString

	err = r.db.QueryRowContext(ctx, query, args...).Scan(&rec.Key, &rec.TransactionID, &result, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return rec, domain.ErrRecordNotFound
		}

		l.Error().Err(err).Send()

		return rec, errorspkg.ErrInternal
	}

	if result.Valid {
		var outcome domain.PaymentOutcome
		if err := json.Unmarshal([]byte(result.String), &outcome); err != nil {
			l.Error().Err(err).Send()
			return rec, errorspkg.ErrInternal
		}

		rec.Outcome = &outcome
	}

	return rec, nil
}

// SaveOutcome records the terminal outcome for the key. A recorded outcome is
// immutable; attempting to overwrite one returns domain.ErrOutcomeAlreadyRecorded.
func (r *RepoPGS) SaveOutcome(ctx context.Context, key string, outcome domain.PaymentOutcome) error {
	l := zerolog.Ctx(ctx)

	payload, err := json.Marshal(outcome)
	if err != nil {
		l.Error().Err(err).Send()
		return errorspkg.ErrInternal
	}

	query, args, err := dbpkg.Builder.
		Update("idempotency_records").
		Set("result", payload).
		Where("key = ?", key).
		Where("result IS NULL").
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
		if _, getErr := r.Get(ctx, key); getErr != nil {
			return getErr
		}

		return domain.ErrOutcomeAlreadyRecorded
	}

	return nil
}
