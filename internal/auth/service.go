package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/keystone/internal/models"
	"gorm.io/gorm"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password should be at least 6 characters")
	ErrRevoked            = errors.New("token revoked")
)

const minPasswordLen = 6

type Service struct {
	db      *gorm.DB
	tokens  *Tokens
	revoker Revoker
}

func NewService(db *gorm.DB, tokens *Tokens, revoker Revoker) *Service {
	if revoker == nil {
		revoker = NewMemoryRevoker()
	}
	return &Service{db: db, tokens: tokens, revoker: revoker}
}

// Session is what sign-up and sign-in hand back to the caller.
type Session struct {
	User  *models.User
	Token string
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func (s *Service) SignUp(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLen {
		return nil, ErrWeakPassword
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrEmailTaken
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		// lost a race on the unique email index
		if s.emailExists(ctx, email) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return s.issue(u)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var u models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := CheckPassword(u.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return s.issue(&u)
}

// SignOut revokes the token behind claims for the rest of its lifetime.
func (s *Service) SignOut(ctx context.Context, claims *Claims) error {
	until := time.Now().Add(time.Minute)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	return s.revoker.Revoke(ctx, claims.ID, until)
}

// Authenticate verifies a bearer token and checks it has not been revoked.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}
	return claims, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser changes email and/or password. Empty values are left alone.
func (s *Service) UpdateUser(ctx context.Context, userID, email, password string) (*models.User, error) {
	updates := map[string]any{}
	if strings.TrimSpace(email) != "" {
		e, err := normalizeEmail(email)
		if err != nil {
			return nil, err
		}
		var n int64
		if err := s.db.WithContext(ctx).Model(&models.User{}).
			Where("email = ? AND id <> ?", e, userID).Count(&n).Error; err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, ErrEmailTaken
		}
		updates["email"] = e
	}
	if password != "" {
		if len(password) < minPasswordLen {
			return nil, ErrWeakPassword
		}
		hash, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		updates["password_hash"] = hash
	}

	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return u, nil
	}
	if err := s.db.WithContext(ctx).Model(u).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

func (s *Service) emailExists(ctx context.Context, email string) bool {
	var n int64
	_ = s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&n).Error
	return n > 0
}

func (s *Service) issue(u *models.User) (*Session, error) {
	tok, _, err := s.tokens.Issue(u.ID, u.Email)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: tok}, nil
}
