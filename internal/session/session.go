// Package session obtains short-lived session tokens from the scheduling
// service. Tokens are handed to the caller and never cached here.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/example/ccw-watcher/internal/internaltypes"
)

type Credentials struct {
	OrderNumber string
	Email       string
	Password    string
}

func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.OrderNumber) == "" {
		missing = append(missing, "order number")
	}
	if strings.TrimSpace(c.Email) == "" {
		missing = append(missing, "email")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", internaltypes.ErrConfigInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// Token is the opaque session cookie value.
type Token string

// Redacted keeps enough of the token to correlate log lines.
func (t Token) Redacted() string {
	if len(t) <= 6 {
		return "***"
	}
	return string(t[:6]) + "***"
}

// Authenticator performs the login request and returns the raw Set-Cookie
// header of the response ("" when the response carried none).
type Authenticator interface {
	Login(ctx context.Context, orderNumber, email, passwordDigest string) (string, error)
}

type Manager struct {
	Auth  Authenticator
	Creds Credentials
}

func NewManager(auth Authenticator, creds Credentials) *Manager {
	return &Manager{Auth: auth, Creds: creds}
}

// Authenticate issues exactly one login request. Retrying is up to the caller.
func (m *Manager) Authenticate(ctx context.Context) (Token, error) {
	if m.Auth == nil {
		return "", errors.New("session: authenticator is nil")
	}
	if err := m.Creds.Validate(); err != nil {
		return "", err
	}
	header, err := m.Auth.Login(ctx, m.Creds.OrderNumber, m.Creds.Email, PasswordDigest(m.Creds.Password))
	if err != nil {
		return "", err
	}
	return ParseSetCookie(header)
}

// PasswordDigest is the lowercase hex SHA-256 of the password the login
// form expects in place of the plaintext.
func PasswordDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// ParseSetCookie extracts the value of the first cookie in a Set-Cookie
// header: the first ';' segment, everything after its first '='.
func ParseSetCookie(header string) (Token, error) {
	if strings.TrimSpace(header) == "" {
		return "", fmt.Errorf("%w: response has no Set-Cookie header", internaltypes.ErrAuthentication)
	}
	first, _, _ := strings.Cut(header, ";")
	name, value, ok := strings.Cut(first, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: malformed Set-Cookie header", internaltypes.ErrAuthentication)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: empty session cookie", internaltypes.ErrAuthentication)
	}
	return Token(value), nil
}
