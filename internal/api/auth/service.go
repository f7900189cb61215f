// Package auth validates bearer JWTs and exposes the caller identity to
// handlers.
package auth

import (
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/spinescan/spinescan/internal/conf"
	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/logger"
)

// GetLogger returns the auth package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("auth")
}

// Sentinel errors for authentication failures.
var (
	ErrMissingToken  = errors.NewStd("missing bearer token")
	ErrInvalidToken  = errors.NewStd("invalid or expired token")
	ErrMissingSub    = errors.NewStd("token has no subject")
	ErrNotConfigured = errors.NewStd("no jwt secret or jwks url configured")
)

const (
	jwksRefreshInterval  = time.Hour
	jwksRefreshTimeout   = 10 * time.Second
	jwksRefreshRateLimit = 5 * time.Minute
	clockLeeway          = 30 * time.Second
)

// Service resolves a bearer token to the caller's user id.
type Service interface {
	// Authenticate validates token and returns its subject.
	Authenticate(token string) (string, error)
}

// JWTService validates HS256 tokens against a shared secret, or asymmetric
// tokens against keys fetched from a JWKS endpoint.
type JWTService struct {
	keyFunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
	parser  *jwt.Parser
}

// NewJWTService builds a Service from settings. A JWKS URL takes precedence
// over the shared secret.
func NewJWTService(settings *conf.AuthSettings) (*JWTService, error) {
	opts := []jwt.ParserOption{jwt.WithLeeway(clockLeeway), jwt.WithExpirationRequired()}
	if settings.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(settings.Issuer))
	}
	if settings.Audience != "" {
		opts = append(opts, jwt.WithAudience(settings.Audience))
	}

	s := &JWTService{}
	switch {
	case settings.JWKSURL != "":
		log := GetLogger()
		jwks, err := keyfunc.Get(settings.JWKSURL, keyfunc.Options{
			RefreshInterval:  jwksRefreshInterval,
			RefreshTimeout:   jwksRefreshTimeout,
			RefreshRateLimit: jwksRefreshRateLimit,
			RefreshErrorHandler: func(err error) {
				log.Warn("failed to refresh jwks", logger.Error(err))
			},
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, errors.New(err).
				Component("auth").
				Category(errors.CategoryConfiguration).
				Context("jwks_url", settings.JWKSURL).
				Build()
		}
		s.jwks = jwks
		s.keyFunc = jwks.Keyfunc
		opts = append(opts, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "PS256"}))
	case settings.JWTSecret != "":
		secret := []byte(settings.JWTSecret)
		s.keyFunc = func(*jwt.Token) (any, error) { return secret, nil }
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	default:
		return nil, errors.New(ErrNotConfigured).
			Component("auth").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s.parser = jwt.NewParser(opts...)
	return s, nil
}

// Authenticate implements Service.
func (s *JWTService) Authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := s.parser.ParseWithClaims(token, claims, s.keyFunc)
	if err != nil || !parsed.Valid {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrMissingSub
	}
	return claims.Subject, nil
}

// Close stops the background JWKS refresh, if any.
func (s *JWTService) Close() {
	if s.jwks != nil {
		s.jwks.EndBackground()
	}
}
