// Package auth registers users, checks passwords and turns bearer tokens
// into authenticated users.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/ent0n29/taskhub/internal/apperr"
	"github.com/ent0n29/taskhub/internal/observability"
	"github.com/ent0n29/taskhub/internal/policy"
	"github.com/ent0n29/taskhub/internal/users"
)

const (
	minPasswordLen = 6

	// attempts at a suffixed username when the one derived from the email is taken
	derivedUsernameAttempts = 5
)

// Grant is what a successful register/login/refresh hands back.
type Grant struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      users.User `json:"user"`
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type ProfileInput struct {
	Name     *string `json:"name"`
	Username *string `json:"username"`
	Avatar   *string `json:"avatar"`
}

type Service struct {
	users  users.Store
	tokens *Tokens
	cost   int
	logger log.FieldLogger

	// compared against when the login identifier is unknown so both paths
	// spend the same bcrypt time
	decoyHash []byte
}

func NewService(store users.Store, tokens *Tokens, cost int, logger log.FieldLogger) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = observability.Discard()
	}
	decoy, _ := bcrypt.GenerateFromPassword([]byte("decoy-password"), cost)
	return &Service{
		users:     store,
		tokens:    tokens,
		cost:      cost,
		logger:    logger.WithField("component", "auth"),
		decoyHash: decoy,
	}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (Grant, error) {
	name := strings.TrimSpace(in.Name)
	email := users.NormalizeEmail(in.Email)
	username := users.NormalizeUsername(in.Username)
	derived := username == ""
	if derived {
		username = users.UsernameFromEmail(email)
	}
	if err := users.ValidateName(name); err != nil {
		return Grant{}, err
	}
	if err := users.ValidateEmail(email); err != nil {
		return Grant{}, err
	}
	if err := users.ValidateUsername(username); err != nil {
		return Grant{}, err
	}
	if len(in.Password) < minPasswordLen {
		return Grant{}, apperr.Validation("password must be at least %d characters", minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return Grant{}, apperr.Wrap(apperr.KindValidation, err, "password cannot be hashed")
	}
	now := time.Now().UTC()
	candidate := users.User{
		Username:     username,
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		IsActive:     true,
		LastLogin:    now,
	}
	user, err := s.users.Create(ctx, candidate)
	// A username the caller never chose must not fail registration.
	for attempt := 0; derived && errors.Is(err, users.ErrUsernameTaken) && attempt < derivedUsernameAttempts; attempt++ {
		candidate.Username = users.UsernameWithSuffix(username)
		user, err = s.users.Create(ctx, candidate)
	}
	if err != nil {
		return Grant{}, classifyStoreError(err)
	}
	s.logger.WithField("user_id", user.ID).Info("user registered")
	return s.grant(user)
}

// Login accepts an email address or a username as identifier.
func (s *Service) Login(ctx context.Context, identifier, password string) (Grant, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return Grant{}, apperr.Validation("identifier and password are required")
	}

	var (
		user users.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.users.FindByEmail(ctx, identifier)
	} else {
		user, err = s.users.FindByUsername(ctx, identifier)
	}
	if err != nil && !errors.Is(err, users.ErrStoreNotFound) {
		return Grant{}, apperr.Storage(err)
	}
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(s.decoyHash, []byte(password))
		s.logger.WithField("identifier", policy.RedactEmail(identifier)).Info("login rejected: unknown identifier")
		return Grant{}, apperr.Unauthenticated("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.logger.WithField("user_id", user.ID).Info("login rejected: wrong password")
		return Grant{}, apperr.Unauthenticated("invalid credentials")
	}
	if !user.IsActive {
		return Grant{}, apperr.Unauthenticated("account is deactivated")
	}

	user, err = s.users.Update(ctx, user.ID, func(u *users.User) error {
		u.LastLogin = time.Now().UTC()
		return nil
	})
	if err != nil {
		return Grant{}, classifyStoreError(err)
	}
	return s.grant(user)
}

// Authenticate verifies a bearer token and loads its active user.
func (s *Service) Authenticate(ctx context.Context, token string) (users.User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return users.User{}, err
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, users.ErrStoreNotFound) {
			return users.User{}, apperr.Unauthenticated("token user no longer exists")
		}
		return users.User{}, apperr.Storage(err)
	}
	if !user.IsActive {
		return users.User{}, apperr.Unauthenticated("account is deactivated")
	}
	return user, nil
}

func (s *Service) Refresh(ctx context.Context, userID string) (Grant, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return Grant{}, err
	}
	return s.grant(user)
}

func (s *Service) Profile(ctx context.Context, userID string) (users.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return users.User{}, classifyStoreError(err)
	}
	return user, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (users.User, error) {
	if in.Name == nil && in.Username == nil && in.Avatar == nil {
		return users.User{}, apperr.Validation("no profile fields to update")
	}
	user, err := s.users.Update(ctx, userID, func(u *users.User) error {
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if err := users.ValidateName(name); err != nil {
				return err
			}
			u.Name = name
		}
		if in.Username != nil {
			username := users.NormalizeUsername(*in.Username)
			if err := users.ValidateUsername(username); err != nil {
				return err
			}
			u.Username = username
		}
		if in.Avatar != nil {
			u.Avatar = strings.TrimSpace(*in.Avatar)
		}
		return nil
	})
	if err != nil {
		return users.User{}, classifyStoreError(err)
	}
	return user, nil
}

func (s *Service) ListActive(ctx context.Context) ([]users.Summary, error) {
	list, err := s.users.ListActive(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	out := make([]users.Summary, 0, len(list))
	for _, u := range list {
		out = append(out, u.Summary())
	}
	return out, nil
}

// DeleteUser removes the user record only; callers clean up owned data first.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	deleted, err := s.users.Delete(ctx, userID)
	if err != nil {
		return apperr.Storage(err)
	}
	if !deleted {
		return apperr.NotFound("user not found")
	}
	s.logger.WithField("user_id", userID).Info("user deleted")
	return nil
}

func (s *Service) grant(user users.User) (Grant, error) {
	token, expires, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return Grant{}, apperr.Wrap(apperr.KindInternal, err, "token issue failed")
	}
	return Grant{Token: token, ExpiresAt: expires, User: user}, nil
}

func classifyStoreError(err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, users.ErrStoreNotFound):
		return apperr.NotFound("user not found")
	case errors.Is(err, users.ErrEmailTaken):
		return apperr.Conflict("email is already registered")
	case errors.Is(err, users.ErrUsernameTaken):
		return apperr.Conflict("username is already taken")
	default:
		return apperr.Storage(err)
	}
}
