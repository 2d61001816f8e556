// Package integrationtest provides db and seeding helpers used in integration tests.
package integrationtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/go-petr/pay-gateway/cmd/httpserver"
	"github.com/go-petr/pay-gateway/internal/accountrepo"
	"github.com/go-petr/pay-gateway/internal/domain"
	"github.com/go-petr/pay-gateway/internal/middleware"
	"github.com/go-petr/pay-gateway/internal/userrepo"
	"github.com/go-petr/pay-gateway/pkg/configpkg"
	"github.com/go-petr/pay-gateway/pkg/dbpkg"
	"github.com/go-petr/pay-gateway/pkg/passpkg"
	"github.com/go-petr/pay-gateway/pkg/randompkg"
)

// SetupServer returns a test server that cleans up the database after each
// integration test.
func SetupServer(t *testing.T) *httpserver.Server {
	config, err := configpkg.Load("../../configs")
	if err != nil {
		t.Fatalf(`configpkg.Load("../../configs") returned error: %v`, err)
	}

	// Kafka is not part of integration test runs.
	config.KafkaBrokers = nil

	zerolog.SetGlobalLevel(zerolog.FatalLevel)

	logger := middleware.GetLogger(config)

	db := SetupDB(t, config.DBDriver, config.DBSource)

	gin.SetMode(gin.ReleaseMode)

	server, err := httpserver.New(db, logger, config)
	if err != nil {
		t.Fatalf(`httpserver.New(db, logger, config) returned error: %v`, err)
	}

	return server
}

// Flush truncates all db tables without dropping them and restores the seed
// rows the schema ships with (the gateway user and its treasury accounts).
func Flush(t *testing.T, db *sql.DB) {
	t.Helper()

	var tables string

	const query = `
	SELECT string_agg(table_name, ', ')
	FROM information_schema.tables
	WHERE table_schema='public';`

	row := db.QueryRow(query)

	err := row.Scan(&tables)
	if err != nil {
		t.Fatalf("db cleanup failed. err: %v", err)
	}

	if _, err := db.Exec(`TRUNCATE TABLE ` + tables + " CASCADE"); err != nil {
		t.Fatalf("db cleanup failed. err: %v", err)
	}

	const reseed = `
	INSERT INTO users (username, hashed_password, full_name, email)
	VALUES ('gateway', '-', 'Payment Gateway', 'gateway@internal');

	INSERT INTO accounts (owner, kind, currency)
	VALUES
		('gateway', 'treasury', 'USD'),
		('gateway', 'treasury', 'EUR'),
		('gateway', 'treasury', 'RMB');`

	if _, err := db.Exec(reseed); err != nil {
		t.Fatalf("db reseed failed. err: %v", err)
	}
}

// SetupDB sets up connection with database for testing and then cleans it.
func SetupDB(t *testing.T, driver, source string) *sql.DB {
	t.Helper()

	db, err := dbpkg.Setup(driver, source)
	if err != nil {
		t.Fatalf("db initialization failed. err: %v", err)
	}

	t.Cleanup(func() {
		Flush(t, db)

		if err := db.Close(); err != nil {
			t.Fatalf("db cleanup failed. err: %v", err)
		}
	})

	return db
}

// SeedUser inserts a random user directly into the database.
func SeedUser(t *testing.T, db *sql.DB) domain.User {
	t.Helper()

	hashedPassword, err := passpkg.Hash(randompkg.String(10))
	if err != nil {
		t.Fatalf("passpkg.Hash() returned error: %v", err)
	}

	user, err := userrepo.NewRepoPGS(db).Create(context.Background(), domain.CreateUserParams{
		Username:       randompkg.Owner(),
		HashedPassword: hashedPassword,
		FullName:       randompkg.Owner(),
		Email:          randompkg.Email(),
	})
	if err != nil {
		t.Fatalf("seeding user returned error: %v", err)
	}

	return user
}

// SeedAccount inserts an account with the given balance directly into the
// database.
func SeedAccount(t *testing.T, db *sql.DB, owner string, balance int64, currency string) domain.Account {
	t.Helper()

	account, err := accountrepo.NewRepoPGS(db).Create(context.Background(), owner, balance, currency)
	if err != nil {
		t.Fatalf("seeding account returned error: %v", err)
	}

	return account
}
