package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/ecolens-api/internal/domain"
	"github.com/ecolens-api/internal/infrastructure/logging"
	pkgtoken "github.com/ecolens-api/internal/pkg/token"
	"go.uber.org/zap"
)

// Outcome is the result of checking a candidate code.
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeNoOTP           Outcome = "no_otp"
	OutcomeExpired         Outcome = "expired"
	OutcomeTooManyAttempts Outcome = "too_many_attempts"
	OutcomeInvalid         Outcome = "invalid"
)

// Config controls code shape and lifetime.
type Config struct {
	Length      int
	TTL         time.Duration
	MaxAttempts int
	// Now defaults to time.Now.
	Now func() time.Time
}

// store persists one-time codes keyed by (user, purpose).
// Get returns domain.ErrNotFound when no record exists.
// Consume deletes the record only while its hash still equals codeHash and
// returns domain.ErrNotFound otherwise.
type store interface {
	Upsert(ctx context.Context, c *domain.OneTimeCode) error
	Get(ctx context.Context, userID string, purpose domain.OTPPurpose) (*domain.OneTimeCode, error)
	IncrementAttempts(ctx context.Context, userID string, purpose domain.OTPPurpose) error
	Consume(ctx context.Context, userID string, purpose domain.OTPPurpose, codeHash string) error
	Delete(ctx context.Context, userID string, purpose domain.OTPPurpose) error
	DeleteAll(ctx context.Context, userID string) error
}

type outcomeMetrics interface {
	OTPOutcome(outcome string)
}

type ServiceDeps struct {
	Store   store
	Config  Config
	Logger  *logging.Service
	Metrics outcomeMetrics
}

type Service interface {
	// Issue builds a fresh record without persisting it.
	Issue(userID string, purpose domain.OTPPurpose) (string, *domain.OneTimeCode, error)
	CreateForUser(ctx context.Context, userID string, purpose domain.OTPPurpose) (string, error)
	VerifyForUser(ctx context.Context, userID string, purpose domain.OTPPurpose, candidate string) (Outcome, error)
	// ClearForUser deletes the given purposes, or every record of the user when none are given.
	ClearForUser(ctx context.Context, userID string, purposes ...domain.OTPPurpose) error
	Pending(ctx context.Context, userID string, purpose domain.OTPPurpose) (bool, error)
	Length() int
	TTL() time.Duration
}

type service struct {
	store   store
	cfg     Config
	logger  *logging.Service
	metrics outcomeMetrics
}

func NewService(deps ServiceDeps) Service {
	cfg := deps.Config
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	var m outcomeMetrics = nopMetrics{}
	if deps.Metrics != nil {
		m = deps.Metrics
	}
	return &service{
		store:   deps.Store,
		cfg:     cfg,
		logger:  deps.Logger.Named("otp"),
		metrics: m,
	}
}

func (s *service) Length() int        { return s.cfg.Length }
func (s *service) TTL() time.Duration { return s.cfg.TTL }

func (s *service) Issue(userID string, purpose domain.OTPPurpose) (string, *domain.OneTimeCode, error) {
	if !purpose.Valid() {
		return "", nil, fmt.Errorf("unknown otp purpose %q: %w", purpose, domain.ErrBadRequest)
	}
	code, err := pkgtoken.GenerateOTP(s.cfg.Length)
	if err != nil {
		return "", nil, err
	}
	now := s.cfg.Now().UTC()
	return code, &domain.OneTimeCode{
		UserID:    userID,
		Purpose:   purpose,
		CodeHash:  pkgtoken.HashOTP(code),
		ExpiresAt: now.Add(s.cfg.TTL).Unix(),
		Attempts:  0,
		CreatedAt: now,
	}, nil
}

func (s *service) CreateForUser(ctx context.Context, userID string, purpose domain.OTPPurpose) (string, error) {
	code, rec, err := s.Issue(userID, purpose)
	if err != nil {
		return "", err
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	s.logger.Debug("otp issued", zap.String("user_id", userID), zap.String("purpose", string(purpose)))
	return code, nil
}

func (s *service) VerifyForUser(ctx context.Context, userID string, purpose domain.OTPPurpose, candidate string) (Outcome, error) {
	outcome, err := s.verify(ctx, userID, purpose, candidate)
	if err == nil {
		s.metrics.OTPOutcome(string(outcome))
	}
	return outcome, err
}

func (s *service) verify(ctx context.Context, userID string, purpose domain.OTPPurpose, candidate string) (Outcome, error) {
	rec, err := s.store.Get(ctx, userID, purpose)
	if errors.Is(err, domain.ErrNotFound) {
		return OutcomeNoOTP, nil
	}
	if err != nil {
		return "", fmt.Errorf("load otp: %w", err)
	}

	if rec.Expired(s.cfg.Now()) {
		s.deleteQuietly(ctx, userID, purpose)
		return OutcomeExpired, nil
	}
	if rec.Attempts >= s.cfg.MaxAttempts {
		s.deleteQuietly(ctx, userID, purpose)
		return OutcomeTooManyAttempts, nil
	}

	candidateHash := pkgtoken.HashOTP(candidate)
	if subtle.ConstantTimeCompare([]byte(candidateHash), []byte(rec.CodeHash)) != 1 {
		if err := s.store.IncrementAttempts(ctx, userID, purpose); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("record failed attempt: %w", err)
		}
		return OutcomeInvalid, nil
	}

	// Only the caller whose conditional delete lands gets ok; a concurrent
	// verifier that raced on the same code sees the record gone.
	if err := s.store.Consume(ctx, userID, purpose, rec.CodeHash); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return OutcomeNoOTP, nil
		}
		return "", fmt.Errorf("consume otp: %w", err)
	}
	return OutcomeOK, nil
}

func (s *service) ClearForUser(ctx context.Context, userID string, purposes ...domain.OTPPurpose) error {
	if len(purposes) == 0 {
		return s.store.DeleteAll(ctx, userID)
	}
	for _, p := range purposes {
		if err := s.store.Delete(ctx, userID, p); err != nil {
			return fmt.Errorf("delete %s otp: %w", p, err)
		}
	}
	return nil
}

func (s *service) Pending(ctx context.Context, userID string, purpose domain.OTPPurpose) (bool, error) {
	rec, err := s.store.Get(ctx, userID, purpose)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load otp: %w", err)
	}
	if rec.Expired(s.cfg.Now()) {
		s.deleteQuietly(ctx, userID, purpose)
		return false, nil
	}
	return true, nil
}

func (s *service) deleteQuietly(ctx context.Context, userID string, purpose domain.OTPPurpose) {
	if err := s.store.Delete(ctx, userID, purpose); err != nil {
		s.logger.Warn("failed to delete otp record",
			zap.String("user_id", userID),
			zap.String("purpose", string(purpose)),
			zap.Error(err))
	}
}

type nopMetrics struct{}

func (nopMetrics) OTPOutcome(string) {}
