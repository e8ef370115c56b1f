// Package services contains server-side business logic. UserService handles
// registration, login and issuing/refreshing JWTs plus server-stored refresh
// tokens. The other services own records, unlock credentials and devices.
package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/dbx"
	"github.com/dmitrijs2005/chatvault/internal/server/auth"
	"github.com/dmitrijs2005/chatvault/internal/server/config"
	"github.com/dmitrijs2005/chatvault/internal/server/models"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// UserService provides authentication-related operations:
// - Register: create users
// - Login: verify credentials, record the device and mint tokens
// - RefreshToken: rotate refresh tokens and mint new access tokens
type UserService struct {
	repomanager                  repomanager.RepositoryManager
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	now                          func() time.Time
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		repomanager:                  m,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		now:                          time.Now,
	}
}

// RefreshToken validates a refresh token, rotates it transactionally, and
// returns a fresh TokenPair bound to the same device. Expired tokens yield
// ErrRefreshTokenExpired; tokens of a revoked device yield ErrDeviceRevoked.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var tokenPair *TokenPair

	err := s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.RefreshTokens(tx)

		token, err := repo.Find(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrorUnauthorized
			}
			return fmt.Errorf("error searching refresh token: %w", err)
		}

		if token.Expires.Before(s.now()) {
			return common.ErrRefreshTokenExpired
		}

		device, err := s.repomanager.Devices(tx).Get(ctx, token.UserID, token.DeviceID)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("error loading device: %w", err)
		}
		if device != nil && device.Revoked {
			return common.ErrDeviceRevoked
		}

		if err := repo.Delete(ctx, refreshToken); err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}

		tokenPair, err = s.generateTokenPair(ctx, tx, token.UserID, token.DeviceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return tokenPair, nil
}

// Register creates an account. The salt and verifier are computed by the
// client; the server never sees the password.
func (s *UserService) Register(ctx context.Context, username string, salt, verifier []byte) (*models.User, error) {
	if username == "" || len(salt) == 0 || len(verifier) == 0 {
		return nil, fmt.Errorf("%w: username, salt and verifier are required", common.ErrorValidation)
	}

	user := &models.User{
		UserName: username,
		Salt:     salt,
		Verifier: verifier,
	}

	user, err := s.repomanager.Users(s.repomanager.Conn()).Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	return user, nil
}

func (s *UserService) getRandomSalt() ([]byte, error) {
	return cryptox.RandomBytes(cryptox.SaltSize)
}

// GetSalt returns the login salt of userName. Unknown users get a random
// salt so the endpoint does not reveal which accounts exist.
func (s *UserService) GetSalt(ctx context.Context, userName string) ([]byte, error) {
	user, err := s.repomanager.Users(s.repomanager.Conn()).GetUserByLogin(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return s.getRandomSalt()
		}
		return nil, common.ErrorInternal
	}

	return user.Salt, nil
}

func (s *UserService) checkVerifier(verifier []byte, verifierCandidate []byte) bool {
	return subtle.ConstantTimeCompare(verifier, verifierCandidate) == 1
}

// Login checks the verifier and signs deviceID in. The device is recorded on
// first sight; a revoked device cannot sign in again.
func (s *UserService) Login(ctx context.Context, userName string, verifierCandidate []byte, deviceID string) (*TokenPair, error) {
	if _, err := uuid.Parse(deviceID); err != nil {
		return nil, fmt.Errorf("%w: device id must be a uuid", common.ErrorValidation)
	}

	user, err := s.repomanager.Users(s.repomanager.Conn()).GetUserByLogin(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	if !s.checkVerifier(user.Verifier, verifierCandidate) {
		return nil, common.ErrorUnauthorized
	}

	var tokenPair *TokenPair
	err = s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		device, err := s.repomanager.Devices(tx).Touch(ctx, user.ID, deviceID, s.now())
		if err != nil {
			return fmt.Errorf("error recording device: %w", err)
		}
		if device.Revoked {
			return common.ErrDeviceRevoked
		}
		tokenPair, err = s.generateTokenPair(ctx, tx, user.ID, deviceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tokenPair, nil
}

func (s *UserService) generateTokenPair(ctx context.Context, db dbx.DBTX, userID, deviceID string) (*TokenPair, error) {
	accessToken, err := auth.GenerateToken(userID, deviceID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	refreshToken, err := common.NewOpaqueToken(common.RefreshTokenBytes)
	if err != nil {
		return nil, common.ErrorInternal
	}

	err = s.repomanager.RefreshTokens(db).Create(ctx, userID, deviceID, refreshToken, s.refreshTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}
