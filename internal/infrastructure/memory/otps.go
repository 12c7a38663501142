package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/ecolens-api/internal/domain"
	"github.com/ecolens-api/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// OTPRepo keeps one-time codes in memory keyed by (user_id, purpose).
type OTPRepo struct {
	db *DB
}

func NewOTPRepo(db *DB) *OTPRepo {
	return &OTPRepo{db: db}
}

func (r *OTPRepo) Upsert(_ context.Context, c *domain.OneTimeCode) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.otps[otpKey{c.UserID, c.Purpose}] = *c
	return nil
}

func (r *OTPRepo) Get(_ context.Context, userID string, purpose domain.OTPPurpose) (*domain.OneTimeCode, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.otps[otpKey{userID, purpose}]
	if !ok {
		return nil, fmt.Errorf("otp not found: %w", domain.ErrNotFound)
	}
	return &c, nil
}

func (r *OTPRepo) IncrementAttempts(_ context.Context, userID string, purpose domain.OTPPurpose) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k := otpKey{userID, purpose}
	c, ok := r.db.otps[k]
	if !ok {
		return fmt.Errorf("otp not found: %w", domain.ErrNotFound)
	}
	c.Attempts++
	r.db.otps[k] = c
	return nil
}

func (r *OTPRepo) Consume(_ context.Context, userID string, purpose domain.OTPPurpose, codeHash string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k := otpKey{userID, purpose}
	c, ok := r.db.otps[k]
	if !ok || c.CodeHash != codeHash {
		return fmt.Errorf("otp already consumed: %w", domain.ErrNotFound)
	}
	delete(r.db.otps, k)
	return nil
}

func (r *OTPRepo) Delete(_ context.Context, userID string, purpose domain.OTPPurpose) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.otps, otpKey{userID, purpose})
	return nil
}

func (r *OTPRepo) DeleteAll(_ context.Context, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for k := range r.db.otps {
		if k.userID == userID {
			delete(r.db.otps, k)
		}
	}
	return nil
}

// Sweep drops every code that has expired at now and reports how many were removed.
func (r *OTPRepo) Sweep(now time.Time) int {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for k, c := range r.db.otps {
		if c.Expired(now) {
			delete(r.db.otps, k)
			n++
		}
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done. It stands in for
// the DynamoDB TTL sweep when running without DynamoDB.
func (r *OTPRepo) RunSweeper(ctx context.Context, interval time.Duration, logger *logging.Service) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				logger.Debug("swept expired otps", zap.Int("count", n))
			}
		}
	}
}
