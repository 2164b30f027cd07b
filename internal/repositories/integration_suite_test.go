//go:build integration

package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RepositorySuite runs repository tests against a disposable Postgres with
// the embedded migrations applied
type RepositorySuite struct {
	suite.Suite
	container *postgres.PostgresContainer
	db        *database.DB
	ctx       context.Context
}

func (s *RepositorySuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := postgres.RunContainer(s.ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("loginguard"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err, "failed to start postgres container")
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.Require().NoError(database.Migrate(s.ctx, connStr, "up"))

	pool, err := pgxpool.New(s.ctx, connStr)
	s.Require().NoError(err)
	s.Require().NoError(pool.Ping(s.ctx))
	s.db = database.New(pool, nil)
}

func (s *RepositorySuite) TearDownSuite() {
	if s.db != nil {
		s.db.Pool.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *RepositorySuite) SetupTest() {
	tables := []string{
		"mfa_challenges",
		"mfa_totp_secrets",
		"user_login_preferences",
		"trusted_devices",
		"failure_counters",
		"login_attempts",
		"users",
	}
	for _, table := range tables {
		_, err := s.db.Pool.Exec(s.ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		s.Require().NoError(err, "failed to truncate %s", table)
	}
}

// seedUser inserts a verified user and returns it
func (s *RepositorySuite) seedUser(email string) *models.User {
	verified := time.Now()
	user, err := NewUserRepository(s.db).Create(s.ctx, &models.User{
		Email:           email,
		Name:            "Test User",
		PasswordHash:    "$2a$10$abcdefghijklmnopqrstuu",
		EmailVerifiedAt: &verified,
	})
	s.Require().NoError(err)
	return user
}

// now returns the current time at Postgres timestamp precision
func dbNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
