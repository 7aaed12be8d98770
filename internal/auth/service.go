package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"ureka/internal/config"
	"ureka/internal/session"
)

var ErrInvalidToken = errors.New("invalid token")

// Service issues, validates, and revokes local session tokens. The token is
// the session id; the session itself lives in the session manager.
type Service struct {
	sessions       *session.Manager
	google         *oauth2.Config
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
}

func NewService(sessions *session.Manager, google config.GoogleConfig) *Service {
	svc := &Service{
		sessions:       sessions,
		cookieName:     "auth_token",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
	if google.ClientID != "" {
		svc.google = &oauth2.Config{
			ClientID:     google.ClientID,
			ClientSecret: google.ClientSecret,
			RedirectURL:  google.RedirectURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "email", "profile"},
		}
	}
	return svc
}

// IssueToken stores the session under a fresh id and returns that id.
func (s *Service) IssueToken(ctx context.Context, sess *session.Session) (string, error) {
	if sess == nil || sess.User == nil || sess.User.ID == "" {
		return "", errors.New("invalid user")
	}
	if sess.ID == "" {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		sess.ID = token
	}
	sess.IsAuthenticated = true
	if err := s.sessions.Save(ctx, sess); err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return sess.ID, nil
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// ValidateToken returns the live session behind the token.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (*session.Session, error) {
	if authToken == "" {
		return nil, errors.New("token required")
	}
	sess, err := s.sessions.Load(ctx, authToken)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	if !sess.IsAuthenticated || sess.User == nil {
		return nil, ErrInvalidToken
	}
	return sess, nil
}

// RevokeToken clears the session.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	if err := s.sessions.Clear(ctx, authToken); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// GoogleAuthURL returns the consent URL for the Google sign-in redirect flow.
func (s *Service) GoogleAuthURL(state string) (string, error) {
	if s.google == nil {
		return "", errors.New("google sign-in is not configured")
	}
	return s.google.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing auth tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.sessions.TTL()
}
