package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/ecolens-api/internal/domain"
)

// UserRepo keeps users and their email claims in memory.
type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Get(_ context.Context, userID string) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[userID]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	return cloneUser(u), nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	userID, ok := r.db.emails[email]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	u, ok := r.db.users[userID]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	return cloneUser(u), nil
}

// CreateWithOTP claims the email, stores the user and replaces the user's
// code for c.Purpose in one step.
func (r *UserRepo) CreateWithOTP(_ context.Context, u *domain.User, c *domain.OneTimeCode) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, taken := r.db.emails[u.Email]; taken {
		return fmt.Errorf("email already registered: %w", domain.ErrConflict)
	}
	r.db.emails[u.Email] = u.UserID
	r.db.users[u.UserID] = *cloneUser(*u)
	if c != nil {
		r.db.otps[otpKey{c.UserID, c.Purpose}] = *c
	}
	return nil
}

// DeleteRegistration removes the user and releases the email claim.
func (r *UserRepo) DeleteRegistration(_ context.Context, u *domain.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.users, u.UserID)
	if r.db.emails[u.Email] == u.UserID {
		delete(r.db.emails, u.Email)
	}
	return nil
}

func (r *UserRepo) MarkVerified(_ context.Context, userID string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	u.IsVerified = true
	u.VerifiedAt = &at
	u.UpdatedAt = at
	r.db.users[userID] = u
	return nil
}

func (r *UserRepo) AppendToken(_ context.Context, userID string, t domain.IssuedToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	u.Tokens = append(append([]domain.IssuedToken(nil), u.Tokens...), t)
	r.db.users[userID] = u
	return nil
}

func cloneUser(u domain.User) *domain.User {
	u.Tokens = append([]domain.IssuedToken(nil), u.Tokens...)
	if u.VerifiedAt != nil {
		at := *u.VerifiedAt
		u.VerifiedAt = &at
	}
	return &u
}
