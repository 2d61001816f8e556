// Package paymentdelivery manages delivery layer of payments.
package paymentdelivery

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/go-petr/pay-gateway/internal/domain"
	"github.com/go-petr/pay-gateway/internal/middleware"
	"github.com/go-petr/pay-gateway/pkg/currencypkg"
	"github.com/go-petr/pay-gateway/pkg/errorspkg"
	"github.com/go-petr/pay-gateway/pkg/tokenpkg"
	"github.com/go-petr/pay-gateway/pkg/web"
)

// IdempotencyKeyHeader carries the client-supplied idempotency key.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// Gateway provides the façade interface needed by the payment delivery layer.
//
//go:generate mockgen -source http.go -destination http_mock.go -package paymentdelivery
type Gateway interface {
	Submit(ctx context.Context, username, idempotencyKey string, arg domain.CreatePaymentParams) (domain.PaymentResult, error)
}

// Transactions provides transaction lookups needed by the payment delivery layer.
type Transactions interface {
	Get(ctx context.Context, id string) (domain.Transaction, error)
}

// Postings provides posting lookups needed by the payment delivery layer.
type Postings interface {
	ListByTransaction(ctx context.Context, transactionID string) ([]domain.Posting, error)
}

// Handler facilitates payment delivery layer logic.
type Handler struct {
	gateway      Gateway
	transactions Transactions
	postings     Postings
}

// NewHandler returns payment handler.
func NewHandler(gw Gateway, tr Transactions, ps Postings) *Handler {
	return &Handler{
		gateway:      gw,
		transactions: tr,
		postings:     ps,
	}
}

type data struct {
	Payment domain.PaymentResult `json:"payment"`
}

type response struct {
	Data data `json:"data,omitempty"`
}

type transferRequest struct {
	FromAccountID int64  `json:"from_account_id" binding:"required,min=1"`
	ToAccountID   int64  `json:"to_account_id" binding:"required,min=1"`
	Amount        int64  `json:"amount" binding:"omitempty,gt=0"`
	AmountDecimal string `json:"amount_decimal" binding:"omitempty"`
}

// CreateTransfer handles http request to move money between two accounts.
func (h *Handler) CreateTransfer(gctx *gin.Context) {
	var req transferRequest
	if !bind(gctx, &req) {
		return
	}

	amount, ok := resolveAmount(gctx, req.Amount, req.AmountDecimal)
	if !ok {
		return
	}

	arg := domain.CreatePaymentParams{
		Kind:          domain.KindTransfer,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        amount,
	}

	h.submit(gctx, arg)
}

type topUpRequest struct {
	AccountID     int64  `json:"account_id" binding:"required,min=1"`
	Amount        int64  `json:"amount" binding:"omitempty,gt=0"`
	AmountDecimal string `json:"amount_decimal" binding:"omitempty"`
}

// CreateTopUp handles http request to add funds to an account from the
// gateway treasury.
func (h *Handler) CreateTopUp(gctx *gin.Context) {
	var req topUpRequest
	if !bind(gctx, &req) {
		return
	}

	amount, ok := resolveAmount(gctx, req.Amount, req.AmountDecimal)
	if !ok {
		return
	}

	arg := domain.CreatePaymentParams{
		Kind:        domain.KindTopUp,
		ToAccountID: req.AccountID,
		Amount:      amount,
	}

	h.submit(gctx, arg)
}

type withdrawalRequest struct {
	AccountID     int64  `json:"account_id" binding:"required,min=1"`
	Amount        int64  `json:"amount" binding:"omitempty,gt=0"`
	AmountDecimal string `json:"amount_decimal" binding:"omitempty"`
}

// CreateWithdrawal handles http request to move funds out of an account to
// the gateway treasury.
func (h *Handler) CreateWithdrawal(gctx *gin.Context) {
	var req withdrawalRequest
	if !bind(gctx, &req) {
		return
	}

	amount, ok := resolveAmount(gctx, req.Amount, req.AmountDecimal)
	if !ok {
		return
	}

	arg := domain.CreatePaymentParams{
		Kind:          domain.KindWithdrawal,
		FromAccountID: req.AccountID,
		Amount:        amount,
	}

	h.submit(gctx, arg)
}

// resolveAmount returns the requested amount in minor currency units.
// Clients send either "amount" in minor units or "amount_decimal" in major
// units ("12.34"), but not both.
func resolveAmount(gctx *gin.Context, minor int64, major string) (int64, bool) {
	var errMsg string

	switch {
	case minor == 0 && major == "":
		errMsg = "Amount is required"
	case minor != 0 && major != "":
		errMsg = "Amount and AmountDecimal are mutually exclusive"
	case major != "":
		parsed, ok := currencypkg.ParseMajorUnits(major)
		if ok && parsed > 0 {
			return parsed, true
		}

		errMsg = "AmountDecimal is invalid"
	default:
		return minor, true
	}

	l := zerolog.Ctx(gctx.Request.Context())
	l.Info().Msg(errMsg)
	gctx.JSON(http.StatusBadRequest, web.Response{Error: errMsg})

	return 0, false
}

func (h *Handler) submit(gctx *gin.Context, arg domain.CreatePaymentParams) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	authPayload := gctx.MustGet(middleware.AuthPayloadKey).(*tokenpkg.Payload)
	idempotencyKey := gctx.GetHeader(IdempotencyKeyHeader)

	result, err := h.gateway.Submit(ctx, authPayload.Username, idempotencyKey, arg)
	if err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(statusFromError(err), web.Error(presentable(err)))

		return
	}

	gctx.JSON(http.StatusOK, response{Data: data{result}})
}

type getTransactionRequest struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type transactionData struct {
	Transaction domain.Transaction `json:"transaction"`
	Postings    []domain.Posting   `json:"postings"`
}

type transactionResponse struct {
	Data transactionData `json:"data,omitempty"`
}

// GetTransaction handles http request to fetch a transaction with its postings.
func (h *Handler) GetTransaction(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var req getTransactionRequest
	if err := gctx.ShouldBindUri(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(err))

		return
	}

	txn, err := h.transactions.Get(ctx, req.ID)
	if err != nil {
		if err == domain.ErrTransactionNotFound {
			gctx.JSON(http.StatusNotFound, web.Error(err))
			return
		}

		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))

		return
	}

	postings, err := h.postings.ListByTransaction(ctx, txn.ID)
	if err != nil {
		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))

		return
	}

	res := transactionResponse{
		Data: transactionData{Transaction: txn, Postings: postings},
	}

	gctx.JSON(http.StatusOK, res)
}

func bind(gctx *gin.Context, req any) bool {
	if err := gctx.ShouldBindJSON(req); err != nil {
		l := zerolog.Ctx(gctx.Request.Context())
		l.Info().Err(err).Send()

		var (
			ve     validator.ValidationErrors
			errMsg string
		)

		if errors.As(err, &ve) {
			field := ve[0]
			errMsg = field.Field() + web.GetErrorMsg(field)
		} else {
			errMsg = err.Error()
		}

		gctx.JSON(http.StatusBadRequest, web.Response{Error: errMsg})

		return false
	}

	return true
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidOwner):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrTreasuryNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrClaimTimeout),
		errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrIdempotencyKeyRequired),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrUnknownKind):
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

// presentable hides internals behind a generic error for 5xx responses.
func presentable(err error) error {
	if statusFromError(err) == http.StatusInternalServerError {
		return errorspkg.ErrInternal
	}

	return err
}
