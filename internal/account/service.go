package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/apperr"
	"github.com/kiranshivaraju/linesense/internal/auth"
	"github.com/kiranshivaraju/linesense/internal/store"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

const minPasswordLength = 6

// DeleteConfirmation must be sent verbatim to delete an account.
const DeleteConfirmation = "DELETE"

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// TokenRevoker blacklists token ids until they expire.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Options configures account policy.
type Options struct {
	BcryptCost int
	// AllowEmailReuse permits registering an email still held by a soft-deleted account.
	AllowEmailReuse bool
}

// Service implements registration, login and profile management.
type Service struct {
	store   store.Store
	tokens  *auth.TokenManager
	revoker TokenRevoker
	opts    Options
}

func NewService(s store.Store, tokens *auth.TokenManager, revoker TokenRevoker, opts Options) *Service {
	return &Service{store: s, tokens: tokens, revoker: revoker, opts: opts}
}

// Session is a freshly issued token and the user it belongs to.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *models.User
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) issue(u *models.User) (*Session, error) {
	token, exp, err := s.tokens.Issue(u.ID, u.Email)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, User: u}, nil
}

// Register creates an active account and signs the user in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return nil, apperr.Invalid("Name, email, and password are required")
	}

	var details []string
	if !emailPattern.MatchString(email) {
		details = append(details, "Please enter a valid email")
	}
	if len(in.Password) < minPasswordLength {
		details = append(details, "Password must be at least 6 characters")
	}
	if len(details) > 0 {
		return nil, apperr.Invalid("Validation failed", details...)
	}

	if _, err := s.store.GetActiveUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	if !s.opts.AllowEmailReuse {
		if _, err := s.store.GetDeletedUserByEmail(ctx, email); err == nil {
			return nil, ErrEmailHeldByDeleted
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("check deleted email: %w", err)
		}
	}

	hash, err := auth.HashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	slog.Info("user registered", "user_id", u.ID)
	return s.issue(u)
}

// Login verifies credentials of an active account.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Invalid("Email and password are required")
	}

	u, err := s.store.GetActiveUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	ok, err := auth.CheckPassword(u.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Warn("login failed", "user_id", u.ID)
		return nil, ErrInvalidCredentials
	}
	return s.issue(u)
}

// Authenticate resolves a bearer token to a live user. It distinguishes expired
// tokens, malformed tokens, revoked tokens and deleted accounts.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, *auth.Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, nil, err
	}

	if s.revoker != nil {
		revoked, err := s.revoker.IsTokenRevoked(ctx, claims.TokenID())
		if err != nil {
			// fail open
			slog.Warn("token revocation check failed", "error", err)
		} else if revoked {
			return nil, nil, ErrTokenRevoked
		}
	}

	u, err := s.store.GetUser(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrUserNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if u.IsDeleted {
		return nil, nil, ErrAccountDeleted
	}
	return u, claims, nil
}

// Logout revokes the presented token for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context, claims *auth.Claims) error {
	if s.revoker == nil || claims == nil {
		return nil
	}
	if err := s.revoker.RevokeToken(ctx, claims.TokenID(), claims.RemainingTTL(time.Now())); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Me returns the active user with the given id.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u.IsDeleted {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// ProfileUpdate carries optional replacements; nil fields keep their value.
type ProfileUpdate struct {
	Name  *string
	Email *string
}

func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileUpdate) (*models.User, error) {
	var name, email string
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		email = normalizeEmail(*in.Email)
	}
	if name == "" && email == "" {
		return nil, apperr.Invalid("At least one field (name or email) is required for update")
	}
	if email != "" && !emailPattern.MatchString(email) {
		return nil, apperr.Invalid("Validation failed", "Please enter a valid email")
	}

	current, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = current.Name
	}
	if email == "" {
		email = current.Email
	}

	u, err := s.store.UpdateUserProfile(ctx, userID, name, email)
	switch {
	case errors.Is(err, store.ErrDuplicateKey):
		return nil, ErrEmailInUse
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	if current == "" || next == "" {
		return apperr.Invalid("Current password and new password are required")
	}
	if len(next) < minPasswordLength {
		return apperr.Invalid("New password must be at least 6 characters")
	}

	u, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := auth.CheckPassword(u.PasswordHash, current)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongPassword
	}

	hash, err := auth.HashPassword(next, s.opts.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}
	slog.Info("password changed", "user_id", userID)
	return nil
}

// DeleteAccount soft-deletes the user. Jobs are kept so a reactivated account
// finds its history intact.
func (s *Service) DeleteAccount(ctx context.Context, userID uuid.UUID, confirmation string) error {
	if confirmation != DeleteConfirmation {
		return apperr.Invalid(`Confirmation required. Send { "confirmation": "DELETE" } to delete account.`)
	}
	if err := s.store.SoftDeleteUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("delete account: %w", err)
	}
	slog.Info("account soft deleted", "user_id", userID)
	return nil
}

// Reactivate restores a soft-deleted account given its original credentials.
func (s *Service) Reactivate(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Invalid("Email and password are required")
	}

	u, err := s.store.GetDeletedUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoDeletedAccount
	}
	if err != nil {
		return nil, fmt.Errorf("find deleted user: %w", err)
	}

	ok, err := auth.CheckPassword(u.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	u, err = s.store.ReactivateUser(ctx, u.ID)
	switch {
	case errors.Is(err, store.ErrDuplicateKey):
		return nil, ErrEmailTaken
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNoDeletedAccount
	case err != nil:
		return nil, fmt.Errorf("reactivate: %w", err)
	}

	slog.Info("account reactivated", "user_id", u.ID)
	return s.issue(u)
}
