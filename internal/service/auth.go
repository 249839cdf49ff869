// CREDENTIAL STORE
//
// AuthService owns everything about an account: signup, password login,
// token issue and rotation, profile edits and account withdrawal.
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt)
//
// TWO TOKENS:
// Login hands out a short-lived access token (sent on every request) and a
// long-lived refresh token (sent only to /token/refresh). The refresh token
// is also stored on the user row. Refreshing swaps it for a new one with a
// compare-and-swap, so a stolen token that has already been used is dead.

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/sakif/study-hub/internal/apperror"
	"github.com/sakif/study-hub/internal/auth"
	"github.com/sakif/study-hub/internal/model"
	"github.com/sakif/study-hub/internal/repository"
)

const (
	MinPasswordLength = 8
	MaxUsernameLength = 50
	MaxNicknameLength = 30
	MaxEmailLength    = 254
)

// invalidCredentials is the one message for every failed login, so a caller
// cannot tell an unknown email from a wrong password.
const invalidCredentials = "invalid email or password"

// AuthService handles the authentication business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository  → read/write user records
//   - tokens     *auth.TokenService         → issue/validate JWTs
//   - passwords  *auth.PasswordService      → bcrypt hashing
//   - accounts   AccountCloser              → account deletion (GroupService)
//   - logger     *slog.Logger               → structured logging
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	accounts  AccountCloser
	logger    *slog.Logger
}

// AccountCloser deletes a user account. GroupService implements it so the
// groups a user administers are settled in the same transaction.
type AccountCloser interface {
	CloseAccount(ctx context.Context, userID int64) error
}

// compile-time check: the auth middleware resolves bearer tokens through us.
var _ auth.TokenResolver = (*AuthService)(nil)

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	accounts AccountCloser,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		accounts:  accounts,
		logger:    logger,
	}
}

// RegisterInput is the signup form.
type RegisterInput struct {
	Username     string `json:"username"`
	Nickname     string `json:"nickname"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	OccupationID int64  `json:"occupationId"`
}

// ProfileUpdate is the editable part of a profile. The occupation is chosen
// by name, the way the signup form lists it.
type ProfileUpdate struct {
	Username       string `json:"username"`
	Nickname       string `json:"nickname"`
	OccupationName string `json:"occupationName"`
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"` // access token lifetime in seconds
	Username     string `json:"username"`
}

// =========================================================================
// VALIDATION
// =========================================================================

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}
	if len(email) > MaxEmailLength {
		return apperror.ValidationFailed("email", "email is too long")
	}
	// mail.ParseAddress also accepts "Name <a@b>"; we only want the bare form.
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperror.ValidationFailed("email", "email is not a valid address")
	}
	return nil
}

// validatePassword counts bytes for the upper bound: bcrypt only ever sees
// the first 72 bytes of its input.
func validatePassword(field, password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("password must be at most %d bytes", auth.MaxPasswordBytes))
	}
	return nil
}

func validateNames(username, nickname string) error {
	if username == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d characters or less", MaxUsernameLength))
	}
	if nickname == "" {
		return apperror.ValidationFailed("nickname", "nickname is required")
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameLength {
		return apperror.ValidationFailed("nickname",
			fmt.Sprintf("nickname must be %d characters or less", MaxNicknameLength))
	}
	return nil
}

// =========================================================================
// SIGNUP AND LOGIN
// =========================================================================

// Register creates an account with a bcrypt-hashed password.
// A taken email is a Conflict; an unknown occupation is NotFound.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	username := strings.TrimSpace(in.Username)
	nickname := strings.TrimSpace(in.Nickname)
	email := normalizeEmail(in.Email)

	if err := validateNames(username, nickname); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword("password", in.Password); err != nil {
		return nil, err
	}
	if in.OccupationID <= 0 {
		return nil, apperror.ValidationFailed("occupationId", "occupation is required")
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Username:     username,
		Nickname:     nickname,
		Email:        email,
		PasswordHash: hash,
		OccupationID: in.OccupationID,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: registering user: %w", err)
	}

	s.logger.Info("user registered", slog.Int64("userID", user.ID))
	return user, nil
}

// Authenticate checks an email/password pair and returns the user.
// Both failure modes produce the same Unauthorized error.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, apperror.Unauthorized(invalidCredentials)
	}
	return user, nil
}

// Login authenticates and issues a fresh token pair. The refresh token
// replaces whatever was stored before, ending any older refresh session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		s.logger.Warn("login failed", slog.String("error", err.Error()))
		return nil, err
	}

	pair, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return nil, fmt.Errorf("service/auth: storing refresh token: %w", err)
	}

	s.logger.Info("user logged in", slog.Int64("userID", user.ID))
	return pair, nil
}

// Refresh trades a valid refresh token for a new pair.
//
// ROTATION:
// The presented token must still be the one stored on the user row. The
// swap is a single conditional UPDATE, so when two requests present the
// same token only one wins; the loser (or a replay of an old token) gets
// Unauthorized.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, err := s.tokens.Validate(refreshToken, auth.RefreshToken)
	if err != nil {
		return nil, apperror.Unauthorized("invalid or expired refresh token")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid or expired refresh token")
		}
		return nil, fmt.Errorf("service/auth: loading user %d: %w", userID, err)
	}

	pair, err := s.issue(user)
	if err != nil {
		return nil, err
	}

	swapped, err := s.users.SwapRefreshToken(ctx, userID, refreshToken, pair.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("service/auth: rotating refresh token: %w", err)
	}
	if !swapped {
		s.logger.Warn("refresh token reuse rejected", slog.Int64("userID", userID))
		return nil, apperror.Unauthorized("refresh token has already been used")
	}
	return pair, nil
}

// Logout clears the stored refresh token. Access tokens already issued stay
// valid until they expire.
func (s *AuthService) Logout(ctx context.Context, userID int64) error {
	if err := s.users.SetRefreshToken(ctx, userID, ""); err != nil {
		return fmt.Errorf("service/auth: clearing refresh token: %w", err)
	}
	s.logger.Info("user logged out", slog.Int64("userID", userID))
	return nil
}

// ResolveToken validates an access token and confirms its user still
// exists. It implements auth.TokenResolver for the HTTP middleware.
func (s *AuthService) ResolveToken(ctx context.Context, token string) (int64, error) {
	userID, err := s.tokens.Validate(token, auth.AccessToken)
	if err != nil {
		return 0, apperror.Unauthorized("invalid or expired access token")
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return 0, apperror.Unauthorized("account no longer exists")
		}
		return 0, fmt.Errorf("service/auth: loading user %d: %w", userID, err)
	}
	return userID, nil
}

func (s *AuthService) issue(user *model.User) (*TokenPair, error) {
	access, err := s.tokens.GenerateAccess(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating access token: %w", err)
	}
	refresh, err := s.tokens.GenerateRefresh(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		Username:     user.Username,
	}, nil
}

// =========================================================================
// PROFILE
// =========================================================================

// Profile returns the user's own record, occupation name included.
func (s *AuthService) Profile(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading profile: %w", err)
	}
	return user, nil
}

// UpdateProfile replaces username, nickname and occupation.
func (s *AuthService) UpdateProfile(ctx context.Context, userID int64, in ProfileUpdate) (*model.User, error) {
	username := strings.TrimSpace(in.Username)
	nickname := strings.TrimSpace(in.Nickname)
	if err := validateNames(username, nickname); err != nil {
		return nil, err
	}
	occupationName := strings.TrimSpace(in.OccupationName)
	if occupationName == "" {
		return nil, apperror.ValidationFailed("occupationName", "occupation is required")
	}

	occ, err := s.users.GetOccupationByName(ctx, occupationName)
	if err != nil {
		return nil, fmt.Errorf("service/auth: resolving occupation: %w", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading profile: %w", err)
	}
	user.Username = username
	user.Nickname = nickname
	user.OccupationID = occ.ID
	user.OccupationName = occ.Name

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: updating profile: %w", err)
	}

	s.logger.Info("profile updated", slog.Int64("userID", userID))
	return user, nil
}

// ChangePassword re-checks the current password before storing the new one.
// It also clears the refresh token, so other sessions must log in again.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	user, err := s.reauthenticate(ctx, userID, current)
	if err != nil {
		return err
	}
	if err := validatePassword("newPassword", next); err != nil {
		return err
	}

	hash, err := s.passwords.Hash(next)
	if err != nil {
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("service/auth: updating password: %w", err)
	}
	if err := s.users.SetRefreshToken(ctx, user.ID, ""); err != nil {
		return fmt.Errorf("service/auth: clearing refresh token: %w", err)
	}

	s.logger.Info("password changed", slog.Int64("userID", userID))
	return nil
}

// Withdraw deletes the account after re-checking the password. The
// user's memberships, boards and comments go with it. The only ADMIN of a
// group that still has other members gets a Conflict and keeps the account.
func (s *AuthService) Withdraw(ctx context.Context, userID int64, password string) error {
	user, err := s.reauthenticate(ctx, userID, password)
	if err != nil {
		return err
	}
	if err := s.accounts.CloseAccount(ctx, user.ID); err != nil {
		return fmt.Errorf("service/auth: deleting user: %w", err)
	}

	s.logger.Info("user withdrew", slog.Int64("userID", userID))
	return nil
}

func (s *AuthService) reauthenticate(ctx context.Context, userID int64, password string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("account no longer exists")
		}
		return nil, fmt.Errorf("service/auth: loading user %d: %w", userID, err)
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, apperror.Unauthorized("password is incorrect")
	}
	return user, nil
}

// ListOccupations returns the occupation lookup table for the signup form.
func (s *AuthService) ListOccupations(ctx context.Context) ([]model.Occupation, error) {
	occupations, err := s.users.ListOccupations(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/auth: listing occupations: %w", err)
	}
	return occupations, nil
}
