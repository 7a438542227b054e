// Package auth exchanges a payment network access token for a local
// JWT. The network is the identity provider: whoever its /me endpoint
// vouches for owns the account carrying that external id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
	"github.com/missionhub/backend/internal/services/gateway"
)

type AccountStore interface {
	FindOrCreateByExternalID(ctx context.Context, externalID, pseudo string) (pgrepo.AccountRecord, error)
}

type NetworkVerifier interface {
	Me(ctx context.Context, accessToken string) (gateway.UserInfo, error)
}

type Dependencies struct {
	Accounts  AccountStore
	Verifier  NetworkVerifier
	JWT       *JWTManager
	Logger    *zap.Logger
	Operators []int64
}

type Service struct {
	accounts  AccountStore
	verifier  NetworkVerifier
	jwt       *JWTManager
	log       *zap.Logger
	operators map[int64]struct{}
}

func NewService(deps Dependencies) (*Service, error) {
	if deps.Accounts == nil {
		return nil, fmt.Errorf("auth: account store is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("auth: network verifier is required")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("auth: jwt manager is required")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	operators := make(map[int64]struct{}, len(deps.Operators))
	for _, id := range deps.Operators {
		operators[id] = struct{}{}
	}

	return &Service{
		accounts:  deps.Accounts,
		verifier:  deps.Verifier,
		jwt:       deps.JWT,
		log:       log,
		operators: operators,
	}, nil
}

// Authenticate verifies the network token, finds or provisions the
// matching account, and issues an access token for it.
func (s *Service) Authenticate(ctx context.Context, networkToken string) (AuthResult, error) {
	if strings.TrimSpace(networkToken) == "" {
		return AuthResult{}, ErrInvalidInput
	}

	info, err := s.verifier.Me(ctx, networkToken)
	if err != nil {
		if errors.Is(err, gateway.ErrValidation) {
			return AuthResult{}, ErrInvalidInput
		}
		s.log.Warn("network token verification failed", zap.Error(err))
		return AuthResult{}, ErrUnauthorized
	}

	pseudo := info.Username
	if pseudo == "" {
		pseudo = info.UID
	}

	account, err := s.accounts.FindOrCreateByExternalID(ctx, info.UID, pseudo)
	if err != nil {
		return AuthResult{}, err
	}

	role := RoleUser
	if _, ok := s.operators[account.UserID]; ok {
		role = RoleOperator
	}

	token, expiresAt, err := s.jwt.GenerateAccessToken(account.UserID, role)
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		AccessToken:   token,
		AccessExpires: expiresAt,
		UserID:        account.UserID,
		Pseudo:        account.Pseudo,
		Role:          role,
	}, nil
}

// VerifyAccess turns a bearer token into the identity middleware puts
// on the request context.
func (s *Service) VerifyAccess(raw string) (Identity, error) {
	claims, err := s.jwt.ParseAccessToken(raw)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: claims.UserID, Role: claims.Role}, nil
}
