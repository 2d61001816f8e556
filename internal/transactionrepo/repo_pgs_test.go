package transactionrepo

import (
	"context"
	"database/sql"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/go-petr/pay-gateway/internal/domain"
	"github.com/go-petr/pay-gateway/pkg/configpkg"
	"github.com/go-petr/pay-gateway/pkg/randompkg"
)

var testRepo *RepoPGS

func TestMain(m *testing.M) {
	config, err := configpkg.Load("../../configs")
	if err != nil {
		log.Fatal("cannot load config:", err)
	}

	testDB, err := sql.Open(config.DBDriver, config.DBSource)
	if err != nil {
		log.Fatal("cannot connect to db:", err)
	}

	testRepo = NewRepoPGS(testDB)

	os.Exit(m.Run())
}

func createRandomTransaction(t *testing.T, kind domain.Kind) domain.Transaction {
	arg := domain.CreateTransactionParams{
		ID:             uuid.NewString(),
		IdempotencyKey: randompkg.IdempotencyKey(),
		Kind:           kind,
	}

	transaction, err := testRepo.Create(context.Background(), arg)
	require.NoError(t, err)
	require.NotEmpty(t, transaction)

	require.Equal(t, arg.ID, transaction.ID)
	require.Equal(t, arg.IdempotencyKey, transaction.IdempotencyKey)
	require.Equal(t, arg.Kind, transaction.Kind)
	require.Equal(t, domain.StatusPending, transaction.Status)
	require.NotZero(t, transaction.CreatedAt)
	require.NotZero(t, transaction.UpdatedAt)

	return transaction
}

func TestCreate(t *testing.T) {
	createRandomTransaction(t, domain.KindTransfer)
	createRandomTransaction(t, domain.KindTopUp)
	createRandomTransaction(t, domain.KindWithdrawal)
}

func TestGet(t *testing.T) {
	testTransaction := createRandomTransaction(t, domain.KindTransfer)

	transaction2, err := testRepo.Get(context.Background(), testTransaction.ID)
	require.NoError(t, err)
	require.NotEmpty(t, transaction2)

	require.Equal(t, testTransaction.ID, transaction2.ID)
	require.Equal(t, testTransaction.IdempotencyKey, transaction2.IdempotencyKey)
	require.Equal(t, testTransaction.Kind, transaction2.Kind)
	require.Equal(t, testTransaction.Status, transaction2.Status)
	require.WithinDuration(t, testTransaction.CreatedAt, transaction2.CreatedAt, time.Second)
}

func TestGetNotFound(t *testing.T) {
	transaction, err := testRepo.Get(context.Background(), uuid.NewString())
	require.EqualError(t, err, domain.ErrTransactionNotFound.Error())
	require.Empty(t, transaction)
}

func TestSetStatus(t *testing.T) {
	testTransaction := createRandomTransaction(t, domain.KindTransfer)

	reserved, err := testRepo.SetStatus(context.Background(), testTransaction.ID, domain.StatusReserved)
	require.NoError(t, err)
	require.Equal(t, domain.StatusReserved, reserved.Status)
	require.False(t, reserved.UpdatedAt.Before(testTransaction.UpdatedAt))

	committed, err := testRepo.SetStatus(context.Background(), testTransaction.ID, domain.StatusCommitted)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCommitted, committed.Status)
}

func TestSetStatusTerminal(t *testing.T) {
	testCases := []struct {
		name     string
		terminal domain.Status
	}{
		{name: "Committed", terminal: domain.StatusCommitted},
		{name: "RolledBack", terminal: domain.StatusRolledBack},
		{name: "Failed", terminal: domain.StatusFailed},
	}

	for i := range testCases {
		tc := testCases[i]

		t.Run(tc.name, func(t *testing.T) {
			testTransaction := createRandomTransaction(t, domain.KindTransfer)

			_, err := testRepo.SetStatus(context.Background(), testTransaction.ID, tc.terminal)
			require.NoError(t, err)

			transaction, err := testRepo.SetStatus(context.Background(), testTransaction.ID, domain.StatusReserved)
			require.EqualError(t, err, domain.ErrTerminalStatus.Error())
			require.Empty(t, transaction)

			unchanged, err := testRepo.Get(context.Background(), testTransaction.ID)
			require.NoError(t, err)
			require.Equal(t, tc.terminal, unchanged.Status)
		})
	}
}

func TestSetStatusNotFound(t *testing.T) {
	transaction, err := testRepo.SetStatus(context.Background(), uuid.NewString(), domain.StatusReserved)
	require.EqualError(t, err, domain.ErrTransactionNotFound.Error())
	require.Empty(t, transaction)
}
