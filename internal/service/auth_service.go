package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tallerflow/ticket-service/internal/auth"
	"github.com/tallerflow/ticket-service/internal/config"
	apperrors "github.com/tallerflow/ticket-service/pkg/util/errorutil"
)

// LoginResult is returned to an operator after a successful login.
type LoginResult struct {
	OperatorID string    `json:"operator"`
	Role       auth.Role `json:"role"`
	Token      string    `json:"access_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AuthService coordinates operator login.
type AuthService struct {
	operators *auth.Operators
	logger    *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, logger *zap.Logger) *AuthService {
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	return &AuthService{
		operators: auth.NewOperators(cfg.Auth.Operators, cfg.Auth.Supervisors, tokens),
		logger:    logger,
	}
}

// Login authenticates an operator.
func (s *AuthService) Login(_ context.Context, operatorID, password string) (*LoginResult, error) {
	operatorID = strings.TrimSpace(operatorID)
	token, exp, role, err := s.operators.Login(operatorID, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Info("operator login rejected", zap.String("operator", operatorID))
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, err
	}
	s.logger.Info("operator logged in", zap.String("operator", operatorID), zap.String("role", string(role)))
	return &LoginResult{OperatorID: operatorID, Role: role, Token: token, ExpiresAt: exp}, nil
}
