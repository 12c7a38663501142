package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ecolens-api/internal/application/otp"
	"github.com/ecolens-api/internal/domain"
	jwtinfra "github.com/ecolens-api/internal/infrastructure/jwt"
	"github.com/ecolens-api/internal/infrastructure/logging"
	"github.com/ecolens-api/internal/pkg/id"
	"github.com/ecolens-api/internal/pkg/validate"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// LoginStatus tells the caller which branch of the login flow was taken.
type LoginStatus string

const (
	LoginOK                  LoginStatus = "ok"
	LoginPendingVerification LoginStatus = "pending_verification"
	LoginOTPSent             LoginStatus = "otp_sent"
)

// ErrInvalidCredentials is the single response for unknown email and wrong password.
var ErrInvalidCredentials = domain.NewReasonError(domain.ErrUnauthorized, "invalid_credentials", "Invalid email or password")

type RegisterResult struct {
	UserID            string
	Email             string
	VerificationToken string
}

type LoginResult struct {
	Status            LoginStatus
	UserID            string
	AccessToken       string
	RefreshToken      string
	VerificationToken string
}

// VerifyInput identifies the user by VerificationToken when present, else by Email.
type VerifyInput struct {
	OTP               string
	Email             *string
	VerificationToken string
}

type VerifyResult struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
}

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateWithOTP(ctx context.Context, u *domain.User, c *domain.OneTimeCode) error
	DeleteRegistration(ctx context.Context, u *domain.User) error
	MarkVerified(ctx context.Context, userID string, at time.Time) error
	AppendToken(ctx context.Context, userID string, t domain.IssuedToken) error
}

type otpMailer interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
}

type tokenIssuer interface {
	SignAccess(userID string) (string, error)
	SignRefresh(userID string) (string, error)
	SignVerification(userID, email string) (string, error)
	VerifyVerification(token string) *jwtinfra.Claims
}

type authMetrics interface {
	AuthEvent(event, result string)
}

type ServiceDeps struct {
	Users   userStore
	OTP     otp.Service
	Mailer  otpMailer
	Tokens  tokenIssuer
	Logger  *logging.Service
	Metrics authMetrics
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
}

type Service interface {
	Register(ctx context.Context, req domain.RegisterRequest) (*RegisterResult, error)
	Login(ctx context.Context, req domain.LoginRequest) (*LoginResult, error)
	Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error)
}

type service struct {
	users   userStore
	otp     otp.Service
	mailer  otpMailer
	tokens  tokenIssuer
	logger  *logging.Service
	metrics authMetrics
	cost    int
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewService(deps ServiceDeps) Service {
	cost := deps.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	var m authMetrics = nopMetrics{}
	if deps.Metrics != nil {
		m = deps.Metrics
	}
	return &service{
		users:   deps.Users,
		otp:     deps.OTP,
		mailer:  deps.Mailer,
		tokens:  deps.Tokens,
		logger:  deps.Logger.Named("auth"),
		metrics: m,
		cost:    cost,
		now:     now,
	}
}

func (s *service) Register(ctx context.Context, req domain.RegisterRequest) (*RegisterResult, error) {
	req.Email = domain.NormalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		s.metrics.AuthEvent("register", "invalid")
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, fmt.Errorf("password must be at most 72 bytes: %w", domain.ErrBadRequest)
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	code, rec, err := s.otp.Issue(u.UserID, domain.PurposeEmailVerification)
	if err != nil {
		return nil, err
	}

	if err := s.users.CreateWithOTP(ctx, u, rec); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.metrics.AuthEvent("register", "conflict")
			return nil, domain.NewReasonError(err, "", "User with this email already exists")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.mailer.SendOTP(ctx, u.Email, code, s.otp.TTL()); err != nil {
		s.logger.Error("verification email failed, removing registration",
			zap.String("user_id", u.UserID), zap.Error(err))
		s.compensateRegistration(u)
		s.metrics.AuthEvent("register", "mail_failed")
		return nil, domain.NewReasonError(
			fmt.Errorf("send verification email: %v: %w", err, domain.ErrUpstream),
			"", "Failed to send verification email")
	}

	token, err := s.tokens.SignVerification(u.UserID, u.Email)
	if err != nil {
		return nil, err
	}
	s.metrics.AuthEvent("register", "ok")
	s.logger.Info("user registered", zap.String("user_id", u.UserID))
	return &RegisterResult{UserID: u.UserID, Email: u.Email, VerificationToken: token}, nil
}

// compensateRegistration undoes a committed registration whose code never
// reached the user. It is best effort: failures are logged, not returned.
func (s *service) compensateRegistration(u *domain.User) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.otp.ClearForUser(ctx, u.UserID); err != nil {
		s.logger.Warn("compensation: delete otps failed", zap.String("user_id", u.UserID), zap.Error(err))
	}
	if err := s.users.DeleteRegistration(ctx, u); err != nil {
		s.logger.Warn("compensation: delete user failed", zap.String("user_id", u.UserID), zap.Error(err))
	}
}

func (s *service) Login(ctx context.Context, req domain.LoginRequest) (*LoginResult, error) {
	email := domain.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		s.metrics.AuthEvent("login", "invalid")
		return nil, ErrInvalidCredentials
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		// Spend the same bcrypt work as a real comparison.
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(req.Password))
		s.metrics.AuthEvent("login", "invalid")
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		s.metrics.AuthEvent("login", "invalid")
		return nil, ErrInvalidCredentials
	}

	if !u.IsVerified {
		return s.loginUnverified(ctx, u)
	}

	access, err := s.tokens.SignAccess(u.UserID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.SignRefresh(u.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.users.AppendToken(ctx, u.UserID, domain.IssuedToken{Token: access, CreatedAt: s.now().UTC()}); err != nil {
		return nil, fmt.Errorf("record issued token: %w", err)
	}
	s.metrics.AuthEvent("login", "ok")
	return &LoginResult{Status: LoginOK, UserID: u.UserID, AccessToken: access, RefreshToken: refresh}, nil
}

func (s *service) loginUnverified(ctx context.Context, u *domain.User) (*LoginResult, error) {
	pending, err := s.otp.Pending(ctx, u.UserID, domain.PurposeEmailVerification)
	if err != nil {
		return nil, err
	}
	if pending {
		s.metrics.AuthEvent("login", "pending")
		return &LoginResult{Status: LoginPendingVerification, UserID: u.UserID}, nil
	}

	code, err := s.otp.CreateForUser(ctx, u.UserID, domain.PurposeEmailVerification)
	if err != nil {
		return nil, err
	}
	if err := s.mailer.SendOTP(ctx, u.Email, code, s.otp.TTL()); err != nil {
		s.logger.Error("login verification email failed", zap.String("user_id", u.UserID), zap.Error(err))
		if cerr := s.otp.ClearForUser(context.WithoutCancel(ctx), u.UserID, domain.PurposeEmailVerification); cerr != nil {
			s.logger.Warn("delete unsent otp failed", zap.String("user_id", u.UserID), zap.Error(cerr))
		}
		s.metrics.AuthEvent("login", "otp_failed")
		return nil, domain.NewReasonError(
			fmt.Errorf("send verification email: %v: %w", err, domain.ErrUpstream),
			"otp_failed", "Failed to send verification email")
	}

	token, err := s.tokens.SignVerification(u.UserID, u.Email)
	if err != nil {
		return nil, err
	}
	s.metrics.AuthEvent("login", "otp_sent")
	return &LoginResult{Status: LoginOTPSent, UserID: u.UserID, VerificationToken: token}, nil
}

func (s *service) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	code := strings.TrimSpace(in.OTP)
	if !validate.OTP(code, s.otp.Length()) {
		return nil, domain.NewReasonError(domain.ErrBadRequest, "invalid_otp_format",
			fmt.Sprintf("OTP is required and must be a %d-digit string", s.otp.Length()))
	}

	u, err := s.resolveUser(ctx, in)
	if err != nil {
		return nil, err
	}

	outcome, err := s.otp.VerifyForUser(ctx, u.UserID, domain.PurposeEmailVerification, code)
	if err != nil {
		return nil, err
	}
	s.metrics.AuthEvent("verify", string(outcome))
	if outcome != otp.OutcomeOK {
		return nil, outcomeError(outcome)
	}

	if !u.IsVerified {
		at := s.now().UTC()
		if err := s.users.MarkVerified(ctx, u.UserID, at); err != nil {
			return nil, fmt.Errorf("mark verified: %w", err)
		}
		u.IsVerified = true
		u.VerifiedAt = &at
	}
	if err := s.otp.ClearForUser(ctx, u.UserID, domain.PurposeEmailVerification); err != nil {
		s.logger.Warn("clear otps after verify failed", zap.String("user_id", u.UserID), zap.Error(err))
	}

	access, err := s.tokens.SignAccess(u.UserID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.SignRefresh(u.UserID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user verified", zap.String("user_id", u.UserID))
	return &VerifyResult{User: u, AccessToken: access, RefreshToken: refresh}, nil
}

func (s *service) resolveUser(ctx context.Context, in VerifyInput) (*domain.User, error) {
	var (
		u   *domain.User
		err error
	)
	switch {
	case in.VerificationToken != "":
		claims := s.tokens.VerifyVerification(in.VerificationToken)
		if claims == nil {
			return nil, domain.NewReasonError(domain.ErrUnauthorized, "invalid_verification_token", "Invalid verification token")
		}
		u, err = s.users.Get(ctx, claims.UserID)
	case in.Email != nil && strings.TrimSpace(*in.Email) != "":
		u, err = s.users.GetByEmail(ctx, domain.NormalizeEmail(*in.Email))
	default:
		return nil, domain.NewReasonError(domain.ErrBadRequest, "missing_identifier", "No verification token or email provided")
	}
	if errors.Is(err, domain.ErrNotFound) {
		// Same answer as a user without a code, so the endpoint cannot probe for accounts.
		return nil, outcomeError(otp.OutcomeNoOTP)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func outcomeError(o otp.Outcome) error {
	switch o {
	case otp.OutcomeExpired:
		return domain.NewReasonError(domain.ErrGone, string(o), "OTP expired")
	case otp.OutcomeInvalid:
		return domain.NewReasonError(domain.ErrUnauthorized, string(o), "Incorrect OTP")
	case otp.OutcomeTooManyAttempts:
		return domain.NewReasonError(domain.ErrTooManyRequests, string(o), "Too many attempts. A new OTP is required.")
	default:
		return domain.NewReasonError(domain.ErrBadRequest, string(otp.OutcomeNoOTP), "No OTP issued for this user")
	}
}

func (s *service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("ecolens-placeholder"), s.cost)
	})
	return s.dummyHash
}

type nopMetrics struct{}

func (nopMetrics) AuthEvent(string, string) {}
