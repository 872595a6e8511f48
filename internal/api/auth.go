package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"

	"github.com/chatwire/chatwire/internal/store"
	"github.com/chatwire/chatwire/internal/types"
)

var (
	defaultJwtExpiration = time.Hour * 24
	tokenCookieKey       = "token"
)

const (
	userIdClaim = "user-id"
	expClaim    = "exp"
)

type contextKey string

const userIdKey contextKey = "user-id"

func WithUserId(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (int, bool) {
	userId, ok := ctx.Value(userIdKey).(int)

	return userId, ok
}

func (s *App) extractUserIdFromToken(tokenString string) (int, error) {
	token, err := verifyToken(tokenString, s.signingKey)
	if err != nil {
		return 0, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid user id claim")
	}

	return int(userId), nil
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

func (s *App) createJwtForSession(user types.User, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: user.Id,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func verifyToken(tokenString string, signingKey []byte) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return token, nil
}

// TokenValidator is the credential-validation collaborator handed to the
// chat server: a session token in, the authenticated identity out.
type TokenValidator struct {
	signingKey []byte
	db         store.Repository
}

func NewTokenValidator(signingKey []byte, db store.Repository) *TokenValidator {
	return &TokenValidator{signingKey: signingKey, db: db}
}

func (tv *TokenValidator) Validate(tokenString string) (types.User, error) {
	token, err := verifyToken(tokenString, tv.signingKey)
	if err != nil {
		return types.User{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.User{}, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return types.User{}, fmt.Errorf("invalid user id claim")
	}

	user, err := tv.db.GetAccountById(int(userId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, fmt.Errorf("unknown account %d", int(userId))
		}
		return types.User{}, fmt.Errorf("fetch account: %w", err)
	}

	return types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
	}, nil
}
