package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"
)

type AuthService struct {
	db     Store
	tokens *TokenIssuer
	cost   int
	now    func() time.Time
}

func NewAuthService(db Store, tokens *TokenIssuer, bcryptCost int) *AuthService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}

	return &AuthService{
		db:     db,
		tokens: tokens,
		cost:   bcryptCost,
		now:    time.Now,
	}
}

func (a *AuthService) TokenTTL() time.Duration {
	return a.tokens.TTL()
}

// Register creates a user unless the username or email is already in use.
func (a *AuthService) Register(ctx context.Context, req SignupRequest) (User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	existing, err := a.db.FindUserConflict(ctx, username, email)
	switch {
	case err == nil:
		if existing.Email == email {
			return User{}, ErrEmailTaken
		}
		return User{}, ErrUsernameTaken
	case !errors.Is(err, ErrNotFound):
		return User{}, err
	}

	hash, err := hashPassword(req.Password, a.cost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		ProfilePic:   DefaultProfilePic,
		CreatedAt:    a.now().UTC(),
	}

	if err := a.db.CreateUser(ctx, user); err != nil {
		return User{}, err
	}

	slog.Info("Registered a user", "user_id", user.ID, "username", user.Username)

	return user, nil
}

// Authenticate looks the identifier up as username or email and issues an
// access token when the password matches.
func (a *AuthService) Authenticate(ctx context.Context, req LoginRequest) (User, string, error) {
	identifier := strings.TrimSpace(req.Identifier)

	user, err := a.db.GetUserByIdentifier(ctx, identifier)
	if errors.Is(err, ErrNotFound) && strings.Contains(identifier, "@") {
		user, err = a.db.GetUserByIdentifier(ctx, strings.ToLower(identifier))
	}
	if err != nil {
		return User{}, "", err
	}

	if !verifyPassword(req.Password, user.PasswordHash) {
		return User{}, "", ErrBadCredentials
	}

	token, err := a.tokens.NewAccessToken(user)
	if err != nil {
		return User{}, "", err
	}

	return user, token, nil
}

// VerifyToken resolves a token to the current user record.
func (a *AuthService) VerifyToken(ctx context.Context, token string) (User, error) {
	userID, err := a.tokens.VerifyAccessToken(token)
	if err != nil {
		return User{}, err
	}

	return a.db.GetUserByID(ctx, userID)
}

func hashPassword(pwd string, cost int) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(pwd), cost)
}

func verifyPassword(pwd, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pwd))
	return err == nil
}
