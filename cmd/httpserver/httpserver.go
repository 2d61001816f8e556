// Package httpserver manages server creation and api routing.
package httpserver

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/go-petr/pay-gateway/internal/accountdelivery"
	"github.com/go-petr/pay-gateway/internal/accountrepo"
	"github.com/go-petr/pay-gateway/internal/accountservice"
	"github.com/go-petr/pay-gateway/internal/eventpublisher"
	"github.com/go-petr/pay-gateway/internal/gatewayservice"
	"github.com/go-petr/pay-gateway/internal/idempotencyrepo"
	"github.com/go-petr/pay-gateway/internal/idempotencyservice"
	"github.com/go-petr/pay-gateway/internal/ledgerrepo"
	"github.com/go-petr/pay-gateway/internal/middleware"
	"github.com/go-petr/pay-gateway/internal/paymentdelivery"
	"github.com/go-petr/pay-gateway/internal/paymentservice"
	"github.com/go-petr/pay-gateway/internal/postingrepo"
	"github.com/go-petr/pay-gateway/internal/transactionrepo"
	"github.com/go-petr/pay-gateway/internal/userdelivery"
	"github.com/go-petr/pay-gateway/internal/userrepo"
	"github.com/go-petr/pay-gateway/internal/userservice"
	"github.com/go-petr/pay-gateway/pkg/configpkg"
	"github.com/go-petr/pay-gateway/pkg/tokenpkg"
)

// Server holds db connection, handlers router and configuration.
type Server struct {
	DB     *sql.DB
	Engine *gin.Engine
	Config configpkg.Config
}

// ServeHTTP implements the http.Handler interface for the Server type.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Engine.ServeHTTP(w, r)
}

// New creates Server type with instantiated domains and routes.
func New(conn *sql.DB, logger zerolog.Logger, config configpkg.Config) (*Server, error) {
	userRepo := userrepo.NewRepoPGS(conn)
	accountRepo := accountrepo.NewRepoPGS(conn)
	postingRepo := postingrepo.NewRepoPGS(conn)
	transactionRepo := transactionrepo.NewRepoPGS(conn)
	ledgerRepo := ledgerrepo.NewRepoPGS(conn)
	idempotencyRepo := idempotencyrepo.NewRepoPGS(conn)

	tokenMaker, err := tokenpkg.NewJWTMaker(config.TokenSymmetricKey)
	if err != nil {
		return nil, errors.New("cannot create token maker")
	}

	userService := userservice.New(userRepo)
	accountService := accountservice.New(accountRepo)
	idempotencyService := idempotencyservice.New(idempotencyRepo, config.ClaimPollAttempts, config.ClaimPollInterval)
	paymentService := paymentservice.New(ledgerRepo, transactionRepo, config.CommitRetryAttempts, config.CommitRetryBackoff)

	var publisher gatewayservice.Publisher
	if len(config.KafkaBrokers) > 0 {
		publisher = eventpublisher.NewKafkaPublisher(config.KafkaBrokers, config.KafkaTopic)
	}

	gatewayService := gatewayservice.New(accountService, idempotencyService, paymentService, publisher, config.KafkaTopic)

	userHandler := userdelivery.NewHandler(userService, tokenMaker, config.AccessTokenDuration)
	accountHandler := accountdelivery.NewHandler(accountService, postingRepo)
	paymentHandler := paymentdelivery.NewHandler(gatewayService, transactionRepo, postingRepo)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.RequestLogger(logger))
	engine.Use(gin.Recovery())

	engine.POST("/users", userHandler.Create)
	engine.POST("/users/login", userHandler.Login)

	authRoutes := engine.Group("/").Use(middleware.AuthMiddleware(tokenMaker))

	authRoutes.POST("/accounts", accountHandler.Create)
	authRoutes.GET("/accounts/:id", accountHandler.Get)
	authRoutes.GET("/accounts", accountHandler.List)
	authRoutes.GET("/accounts/:id/postings", accountHandler.ListPostings)

	authRoutes.POST("/transfers", paymentHandler.CreateTransfer)
	authRoutes.POST("/topups", paymentHandler.CreateTopUp)
	authRoutes.POST("/withdrawals", paymentHandler.CreateWithdrawal)
	authRoutes.GET("/transactions/:id", paymentHandler.GetTransaction)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("currency", accountdelivery.ValidCurrency)
		if err != nil {
			return nil, errors.New("cannot register currency validator")
		}
	}

	server := &Server{
		DB:     conn,
		Engine: engine,
		Config: config,
	}

	return server, nil
}
