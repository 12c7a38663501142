package http

import (
	"context"
	"time"

	"github.com/ecolens-api/internal/domain"
	jwtinfra "github.com/ecolens-api/internal/infrastructure/jwt"
	"github.com/ecolens-api/internal/infrastructure/logging"
	"github.com/ecolens-api/internal/infrastructure/metrics"
	"github.com/ecolens-api/internal/transport/http/handler"
	appmiddleware "github.com/ecolens-api/internal/transport/http/middleware"
)

// UserRepository is the minimal interface the router requires from a user store.
// Both the DynamoDB and the in-memory backend satisfy it.
type UserRepository interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateWithOTP(ctx context.Context, u *domain.User, c *domain.OneTimeCode) error
	DeleteRegistration(ctx context.Context, u *domain.User) error
	MarkVerified(ctx context.Context, userID string, at time.Time) error
	AppendToken(ctx context.Context, userID string, t domain.IssuedToken) error
}

// OTPRepository is the minimal interface the router requires from a one-time-code store.
type OTPRepository interface {
	Upsert(ctx context.Context, c *domain.OneTimeCode) error
	Get(ctx context.Context, userID string, purpose domain.OTPPurpose) (*domain.OneTimeCode, error)
	IncrementAttempts(ctx context.Context, userID string, purpose domain.OTPPurpose) error
	Consume(ctx context.Context, userID string, purpose domain.OTPPurpose, codeHash string) error
	Delete(ctx context.Context, userID string, purpose domain.OTPPurpose) error
	DeleteAll(ctx context.Context, userID string) error
}

// OTPMailer delivers verification codes.
type OTPMailer interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
}

// Classifier labels an image data URL.
type Classifier interface {
	Predict(ctx context.Context, dataURL string) ([]domain.Prediction, error)
}

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	UserRepo     UserRepository
	OTPRepo      OTPRepository
	Mailer       OTPMailer
	JWTProvider  *jwtinfra.Provider
	Classifier   Classifier
	Limiter      appmiddleware.Limiter
	Metrics      *metrics.Metrics
	Logger       *logging.Service
	HealthChecks map[string]handler.Check
	// BcryptCost defaults to bcrypt.DefaultCost; tests lower it.
	BcryptCost int
	Now        func() time.Time
}
