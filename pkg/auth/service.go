package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/platinummonkey/roomdesk/pkg/apierr"
	"github.com/platinummonkey/roomdesk/pkg/observability"
)

const (
	MinUsernameLength = 6
	MaxUsernameLength = 20
	MinPasswordLength = 6

	// DefaultTokenTTL is how long a login token lives when not configured
	DefaultTokenTTL = 5 * time.Minute

	// LoginTokenName names tokens minted by Login
	LoginTokenName = "auth_token"

	msgLoginFailed     = "Login info is wrong!"
	msgUnauthenticated = "Unauthenticated."
)

// Config controls token lifetime and hashing cost
type Config struct {
	// TokenTTL of zero issues tokens that never expire
	TokenTTL   time.Duration
	BcryptCost int
}

// Service implements register, login, logout and token authentication
type Service struct {
	users   *UserStore
	tokens  TokenStore
	cfg     Config
	metrics *observability.Metrics
	now     func() time.Time

	// dummyHash keeps the unknown-user path as slow as a wrong password
	dummyHash string
}

// NewService creates the identity service
func NewService(users *UserStore, tokens TokenStore, cfg Config, metrics *observability.Metrics) (*Service, error) {
	dummy, err := HashPassword("roomdesk-dummy-password", cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	return &Service{
		users:     users,
		tokens:    tokens,
		cfg:       cfg,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
		dummyHash: dummy,
	}, nil
}

// RegisterRequest is the register payload
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate checks field rules and collects every failure
func (r RegisterRequest) Validate() error {
	verr := apierr.Validation("The given data was invalid.")

	username := strings.TrimSpace(r.Username)
	switch n := utf8.RuneCountInString(username); {
	case n == 0:
		verr.WithField("username", "The username field is required.")
	case n < MinUsernameLength:
		verr.WithField("username", fmt.Sprintf("The username must be at least %d characters.", MinUsernameLength))
	case n > MaxUsernameLength:
		verr.WithField("username", fmt.Sprintf("The username may not be greater than %d characters.", MaxUsernameLength))
	}

	switch n := utf8.RuneCountInString(r.Password); {
	case n == 0:
		verr.WithField("password", "The password field is required.")
	case n < MinPasswordLength:
		verr.WithField("password", fmt.Sprintf("The password must be at least %d characters.", MinPasswordLength))
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Register creates a user with a hashed password
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	username := strings.TrimSpace(req.Username)

	exists, err := s.users.UsernameExists(ctx, username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, usernameTaken()
	}

	hash, err := HashPassword(req.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	return s.users.Create(ctx, username, hash)
}

// LoginResult carries the plaintext token, returned exactly once
type LoginResult struct {
	User       *User
	Token      *AccessToken
	PlainToken string
}

// Login verifies credentials and issues a token with every ability.
// Unknown users and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash := s.dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	ok, err := CheckPassword(hash, password)
	if err != nil {
		return nil, err
	}
	if user == nil || !ok {
		s.metrics.ObserveLogin(false)
		return nil, apierr.Unauthenticated(msgLoginFailed)
	}

	minted, err := MintToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	token := &AccessToken{
		UserID:      user.ID,
		Name:        LoginTokenName,
		TokenHash:   minted.Hash,
		TokenPrefix: minted.Display,
		Abilities:   []Ability{AbilityAll},
		CreatedAt:   now,
	}
	if s.cfg.TokenTTL > 0 {
		expires := now.Add(s.cfg.TokenTTL)
		token.ExpiresAt = &expires
	}

	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, err
	}

	s.metrics.ObserveLogin(true)
	return &LoginResult{User: user, Token: token, PlainToken: minted.Plain}, nil
}

// Authenticate resolves a bearer token to its user. Every failure is the same
// unauthenticated error.
func (s *Service) Authenticate(ctx context.Context, plain string) (*AuthContext, error) {
	if err := CheckTokenFormat(plain); err != nil {
		return nil, apierr.Unauthenticated(msgUnauthenticated)
	}

	tokenHash := HashToken(plain)
	token, err := s.tokens.FindByHash(ctx, tokenHash)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, apierr.Unauthenticated(msgUnauthenticated)
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if token.Expired(now) {
		return nil, apierr.Unauthenticated(msgUnauthenticated)
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, apierr.Unauthenticated(msgUnauthenticated)
	}
	if err != nil {
		return nil, err
	}

	err = s.tokens.Touch(ctx, tokenHash, now)
	if errors.Is(err, ErrTokenNotFound) {
		// revoked between the lookup and the touch
		return nil, apierr.Unauthenticated(msgUnauthenticated)
	}
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to record token use")
	}

	return &AuthContext{User: user, Token: token}, nil
}

// Logout revokes only the token used for the current request
func (s *Service) Logout(ctx context.Context, authCtx *AuthContext) error {
	if authCtx == nil || authCtx.Token == nil {
		return apierr.Unauthenticated(msgUnauthenticated)
	}

	err := s.tokens.Delete(ctx, authCtx.Token.TokenHash)
	if err != nil && !errors.Is(err, ErrTokenNotFound) {
		return err
	}

	s.metrics.ObserveLogout()
	return nil
}

// SweepExpired deletes expired tokens from the token store
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.ObserveSweep(n)
	return n, nil
}
