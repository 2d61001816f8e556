package gatewayservice

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/go-petr/pay-gateway/internal/domain"
	"github.com/go-petr/pay-gateway/pkg/currencypkg"
	"github.com/go-petr/pay-gateway/pkg/errorspkg"
	"github.com/go-petr/pay-gateway/pkg/randompkg"
)

const testTopic = "payments.transactions"

func TestSubmit(t *testing.T) {
	username := randompkg.Owner()

	fromAccount := domain.Account{
		ID:       1,
		Owner:    username,
		Kind:     domain.AccountKindUser,
		Balance:  100_000,
		Currency: currencypkg.USD,
	}
	toAccount := domain.Account{
		ID:       2,
		Owner:    randompkg.Owner(),
		Kind:     domain.AccountKindUser,
		Balance:  50_000,
		Currency: currencypkg.USD,
	}

	idempotencyKey := randompkg.IdempotencyKey()

	const amount = int64(10_000)

	transferArg := domain.CreatePaymentParams{
		Kind:          domain.KindTransfer,
		FromAccountID: fromAccount.ID,
		ToAccountID:   toAccount.ID,
		Amount:        amount,
	}

	committedResult := func(transactionID string) domain.PaymentResult {
		debited := fromAccount
		debited.Balance -= amount

		credited := toAccount
		credited.Balance += amount

		return domain.PaymentResult{
			Transaction: domain.Transaction{
				ID:             transactionID,
				IdempotencyKey: idempotencyKey,
				Kind:           domain.KindTransfer,
				Status:         domain.StatusCommitted,
				UpdatedAt:      time.Now().Truncate(time.Second).UTC(),
			},
			Postings: []domain.Posting{{
				TransactionID: transactionID,
				FromAccountID: fromAccount.ID,
				ToAccountID:   toAccount.ID,
				Amount:        amount,
			}},
			FromAccount: debited,
			ToAccount:   credited,
		}
	}

	type mocks struct {
		accounts  *MockAccountService
		registry  *MockRegistry
		executor  *MockExecutor
		publisher *MockPublisher
	}

	testCases := []struct {
		name           string
		idempotencyKey string
		arg            domain.CreatePaymentParams
		buildStubs     func(m mocks)
		checkResponse  func(res domain.PaymentResult, err error)
	}{
		{
			name:           "Missing idempotency key",
			idempotencyKey: "",
			arg:            transferArg,
			buildStubs: func(m mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), gomock.Any()).Times(0)
				m.registry.EXPECT().Claim(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.Empty(t, res)
				require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
			},
		},
		{
			name:           "Non-positive amount rejected before claim",
			idempotencyKey: idempotencyKey,
			arg: domain.CreatePaymentParams{
				Kind:          domain.KindTransfer,
				FromAccountID: fromAccount.ID,
				ToAccountID:   toAccount.ID,
				Amount:        0,
			},
			buildStubs: func(m mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), gomock.Any()).Times(0)
				m.registry.EXPECT().Claim(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.Empty(t, res)
				require.ErrorIs(t, err, domain.ErrInvalidAmount)
			},
		},
		{
			name:           "Same account rejected before claim",
			idempotencyKey: idempotencyKey,
			arg: domain.CreatePaymentParams{
				Kind:          domain.KindTransfer,
				FromAccountID: fromAccount.ID,
				ToAccountID:   fromAccount.ID,
				Amount:        amount,
			},
			buildStubs: func(m mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), gomock.Any()).Times(0)
				m.registry.EXPECT().Claim(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.Empty(t, res)
				require.ErrorIs(t, err, domain.ErrSameAccount)
			},
		},
		{
			name:           "Invalid owner",
			idempotencyKey: idempotencyKey,
			arg:            transferArg,
			buildStubs: func(m mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), gomock.Eq(fromAccount.ID)).
					Times(1).
					Return(toAccount, nil)
				m.registry.EXPECT().Claim(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.Empty(t, res)
				require.ErrorIs(t, err, domain.ErrInvalidOwner)
			},
		},
		{
			name:           "Top-up checks destination account owner",
			idempotencyKey: idempotencyKey,
			arg: domain.CreatePaymentParams{
				Kind:        domain.KindTopUp,
				ToAccountID: toAccount.ID,
				Amount:      amount,
			},
			buildStubs: func(m mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), gomock.Eq(toAccount.ID)).
					Times(1).
					Return(toAccount, nil)
				m.registry.EXPECT().Claim(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.Empty(t, res)
				require.ErrorIs(t, err, domain.ErrInvalidOwner)
			},
		},
		{
			name:           "Account not found",
			idempotencyKey: idempotencyKey,
			arg:            transferArg,
			buildStubs: func(m mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), gomock.Eq(fromAccount.ID)).
					Times(1).
					Return(domain.Account{}, domain.ErrAccountNotFound)
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.Empty(t, res)
				require.ErrorIs(t, err, domain.ErrAccountNotFound)
			},
		},
		{
			name:           "Claim error",
			idempotencyKey: idempotencyKey,
			arg:            transferArg,
			buildStubs: func(m mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), gomock.Eq(fromAccount.ID)).
					Times(1).
					Return(fromAccount, nil)
				m.registry.EXPECT().Claim(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
					Times(1).
					Return(domain.ClaimResult{}, domain.ErrClaimTimeout)
				m.executor.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.Empty(t, res)
				require.ErrorIs(t, err, domain.ErrClaimTimeout)
			},
		},
		{
			name:           "Replays cached committed outcome",
			idempotencyKey: idempotencyKey,
			arg:            transferArg,
			buildStubs: func(m mocks) {
				cached := committedResult(uuid.NewString())

				m.accounts.EXPECT().Get(gomock.Any(), gomock.Eq(fromAccount.ID)).
					Times(1).
					Return(fromAccount, nil)
				m.registry.EXPECT().Claim(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
					Times(1).
					Return(domain.ClaimResult{
						Outcome: &domain.PaymentOutcome{
							TransactionID: cached.Transaction.ID,
							Status:        domain.StatusCommitted,
							Result:        &cached,
						},
					}, nil)
				m.executor.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
				m.registry.EXPECT().SaveOutcome(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
				m.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.NoError(t, err)
				require.Equal(t, domain.StatusCommitted, res.Transaction.Status)
				require.Equal(t, fromAccount.Balance-amount, res.FromAccount.Balance)
			},
		},
		{
			name:           "Replays cached business rejection",
			idempotencyKey: idempotencyKey,
			arg:            transferArg,
			buildStubs: func(m mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), gomock.Eq(fromAccount.ID)).
					Times(1).
					Return(fromAccount, nil)
				m.registry.EXPECT().Claim(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
					Times(1).
					Return(domain.ClaimResult{
						Outcome: &domain.PaymentOutcome{
							TransactionID: uuid.NewString(),
							Status:        domain.StatusRolledBack,
							ErrorKind:     domain.ErrorKind(domain.ErrInsufficientBalance),
						},
					}, nil)
				m.executor.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
				m.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.ErrorIs(t, err, domain.ErrInsufficientBalance)
				require.Equal(t, domain.StatusRolledBack, res.Transaction.Status)
			},
		},
		{
			name:           "Replays cached validation rejection",
			idempotencyKey: idempotencyKey,
			arg:            transferArg,
			buildStubs: func(m mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), gomock.Eq(fromAccount.ID)).
					Times(1).
					Return(fromAccount, nil)
				m.registry.EXPECT().Claim(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
					Times(1).
					Return(domain.ClaimResult{
						Outcome: &domain.PaymentOutcome{
							TransactionID: uuid.NewString(),
							Status:        domain.StatusFailed,
							ErrorKind:     domain.ErrorKind(domain.ErrSameAccount),
						},
					}, nil)
				m.executor.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
				m.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.ErrorIs(t, err, domain.ErrSameAccount)
				require.Equal(t, domain.StatusFailed, res.Transaction.Status)
			},
		},
		{
			name:           "Fresh claim executes and publishes",
			idempotencyKey: idempotencyKey,
			arg:            transferArg,
			buildStubs: func(m mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), gomock.Eq(fromAccount.ID)).
					Times(1).
					Return(fromAccount, nil)
				m.registry.EXPECT().Claim(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
					Times(1).
					Return(domain.ClaimResult{Fresh: true}, nil)
				m.executor.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Eq(idempotencyKey), gomock.Eq(transferArg)).
					Times(1).
					DoAndReturn(func(_ context.Context, transactionID, _ string, _ domain.CreatePaymentParams) (domain.PaymentResult, error) {
						return committedResult(transactionID), nil
					})
				m.registry.EXPECT().SaveOutcome(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
					Times(1).
					DoAndReturn(func(_ context.Context, _ string, outcome domain.PaymentOutcome) error {
						require.Equal(t, domain.StatusCommitted, outcome.Status)
						require.Empty(t, outcome.ErrorKind)
						require.NotNil(t, outcome.Result)
						return nil
					})
				m.publisher.EXPECT().Publish(gomock.Eq(testTopic), gomock.Any()).
					Times(1).
					DoAndReturn(func(_ string, event any) error {
						committed, ok := event.(TransactionCommitted)
						require.True(t, ok)
						require.Equal(t, amount, committed.Amount)
						require.Equal(t, currencypkg.FormatMinorUnits(amount), committed.AmountDecimal)
						require.Equal(t, currencypkg.USD, committed.Currency)
						require.Equal(t, fromAccount.ID, committed.FromAccountID)
						require.Equal(t, toAccount.ID, committed.ToAccountID)
						return nil
					})
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.NoError(t, err)
				require.Equal(t, domain.StatusCommitted, res.Transaction.Status)
			},
		},
		{
			name:           "Rejected execution caches outcome without publishing",
			idempotencyKey: idempotencyKey,
			arg:            transferArg,
			buildStubs: func(m mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), gomock.Eq(fromAccount.ID)).
					Times(1).
					Return(fromAccount, nil)
				m.registry.EXPECT().Claim(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
					Times(1).
					Return(domain.ClaimResult{Fresh: true}, nil)
				m.executor.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Eq(idempotencyKey), gomock.Eq(transferArg)).
					Times(1).
					Return(domain.PaymentResult{
						Transaction: domain.Transaction{Status: domain.StatusRolledBack},
					}, domain.ErrInsufficientBalance)
				m.registry.EXPECT().SaveOutcome(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
					Times(1).
					DoAndReturn(func(_ context.Context, _ string, outcome domain.PaymentOutcome) error {
						require.Equal(t, domain.StatusRolledBack, outcome.Status)
						require.Equal(t, domain.ErrorKind(domain.ErrInsufficientBalance), outcome.ErrorKind)
						require.Nil(t, outcome.Result)
						return nil
					})
				m.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.ErrorIs(t, err, domain.ErrInsufficientBalance)
			},
		},
		{
			name:           "Publish failure does not fail the payment",
			idempotencyKey: idempotencyKey,
			arg:            transferArg,
			buildStubs: func(m mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), gomock.Eq(fromAccount.ID)).
					Times(1).
					Return(fromAccount, nil)
				m.registry.EXPECT().Claim(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
					Times(1).
					Return(domain.ClaimResult{Fresh: true}, nil)
				m.executor.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Eq(idempotencyKey), gomock.Eq(transferArg)).
					Times(1).
					DoAndReturn(func(_ context.Context, transactionID, _ string, _ domain.CreatePaymentParams) (domain.PaymentResult, error) {
						return committedResult(transactionID), nil
					})
				m.registry.EXPECT().SaveOutcome(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
					Times(1).
					Return(nil)
				m.publisher.EXPECT().Publish(gomock.Eq(testTopic), gomock.Any()).
					Times(1).
					Return(errorspkg.ErrInternal)
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.NoError(t, err)
				require.Equal(t, domain.StatusCommitted, res.Transaction.Status)
			},
		},
		{
			name:           "Outcome cache failure does not fail the payment",
			idempotencyKey: idempotencyKey,
			arg:            transferArg,
			buildStubs: func(m mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), gomock.Eq(fromAccount.ID)).
					Times(1).
					Return(fromAccount, nil)
				m.registry.EXPECT().Claim(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
					Times(1).
					Return(domain.ClaimResult{Fresh: true}, nil)
				m.executor.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Eq(idempotencyKey), gomock.Eq(transferArg)).
					Times(1).
					DoAndReturn(func(_ context.Context, transactionID, _ string, _ domain.CreatePaymentParams) (domain.PaymentResult, error) {
						return committedResult(transactionID), nil
					})
				m.registry.EXPECT().SaveOutcome(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
					Times(1).
					Return(errorspkg.ErrInternal)
				m.publisher.EXPECT().Publish(gomock.Eq(testTopic), gomock.Any()).
					Times(1).
					Return(nil)
			},
			checkResponse: func(res domain.PaymentResult, err error) {
				require.NoError(t, err)
			},
		},
	}

	for i := range testCases {
		tc := testCases[i]

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			m := mocks{
				accounts:  NewMockAccountService(ctrl),
				registry:  NewMockRegistry(ctrl),
				executor:  NewMockExecutor(ctrl),
				publisher: NewMockPublisher(ctrl),
			}

			service := New(m.accounts, m.registry, m.executor, m.publisher, testTopic)

			tc.buildStubs(m)

			tc.checkResponse(service.Submit(
				context.Background(),
				username,
				tc.idempotencyKey,
				tc.arg))
		})
	}
}

func TestSubmitWithoutPublisher(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	accounts := NewMockAccountService(ctrl)
	registry := NewMockRegistry(ctrl)
	executor := NewMockExecutor(ctrl)

	username := randompkg.Owner()
	idempotencyKey := randompkg.IdempotencyKey()

	arg := domain.CreatePaymentParams{
		Kind:          domain.KindTransfer,
		FromAccountID: 1,
		ToAccountID:   2,
		Amount:        100,
	}

	accounts.EXPECT().Get(gomock.Any(), gomock.Eq(arg.FromAccountID)).
		Times(1).
		Return(domain.Account{ID: arg.FromAccountID, Owner: username}, nil)
	registry.EXPECT().Claim(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
		Times(1).
		Return(domain.ClaimResult{Fresh: true}, nil)
	executor.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Eq(idempotencyKey), gomock.Eq(arg)).
		Times(1).
		Return(domain.PaymentResult{
			Transaction: domain.Transaction{Status: domain.StatusCommitted},
		}, nil)
	registry.EXPECT().SaveOutcome(gomock.Any(), gomock.Eq(idempotencyKey), gomock.Any()).
		Times(1).
		Return(nil)

	service := New(accounts, registry, executor, nil, testTopic)

	res, err := service.Submit(context.Background(), username, idempotencyKey, arg)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCommitted, res.Transaction.Status)
}
