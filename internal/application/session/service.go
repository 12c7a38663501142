package session

import (
	"context"

	"github.com/ecolens-api/internal/domain"
	jwtinfra "github.com/ecolens-api/internal/infrastructure/jwt"
	"github.com/ecolens-api/internal/infrastructure/logging"
	"go.uber.org/zap"
)

type tokenRotator interface {
	VerifyAccess(token string) *jwtinfra.Claims
	Rotate(refreshToken string) (*jwtinfra.Rotation, error)
}

type refreshMetrics interface {
	AuthEvent(event, result string)
}

type ServiceDeps struct {
	Tokens  tokenRotator
	Logger  *logging.Service
	Metrics refreshMetrics
}

type Service interface {
	// WhoAmI resolves the caller from its cookies. It tries the access token,
	// then a single rotation of the refresh token. It returns nil when neither works.
	WhoAmI(ctx context.Context, accessToken, refreshToken string) *domain.Session
	// Refresh rotates refreshToken into a fresh pair.
	Refresh(ctx context.Context, refreshToken string) (*domain.Session, error)
}

type service struct {
	tokens  tokenRotator
	logger  *logging.Service
	metrics refreshMetrics
}

func NewService(deps ServiceDeps) Service {
	var m refreshMetrics = nopMetrics{}
	if deps.Metrics != nil {
		m = deps.Metrics
	}
	return &service{tokens: deps.Tokens, logger: deps.Logger.Named("session"), metrics: m}
}

func (s *service) WhoAmI(ctx context.Context, accessToken, refreshToken string) *domain.Session {
	if accessToken != "" {
		if c := s.tokens.VerifyAccess(accessToken); c != nil {
			return &domain.Session{UserID: c.UserID}
		}
	}
	if refreshToken == "" {
		return nil
	}
	sess, err := s.Refresh(ctx, refreshToken)
	if err != nil {
		return nil
	}
	return sess
}

func (s *service) Refresh(_ context.Context, refreshToken string) (*domain.Session, error) {
	rot, err := s.tokens.Rotate(refreshToken)
	if err != nil {
		s.metrics.AuthEvent("refresh", "invalid")
		s.logger.Debug("refresh rejected", zap.Error(err))
		return nil, err
	}
	s.metrics.AuthEvent("refresh", "ok")
	return &domain.Session{
		UserID:       rot.UserID,
		Rotated:      true,
		AccessToken:  rot.AccessToken,
		RefreshToken: rot.RefreshToken,
	}, nil
}

type nopMetrics struct{}

func (nopMetrics) AuthEvent(string, string) {}
