// Package auth issues and verifies the signed cookie that identifies the
// operator of the web console by their sender address.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

const (
	cookieName = "envios_session"
)

var (
	ErrMissingToken = errors.New("missing session token")
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpired      = errors.New("session expired")
)

type Manager struct {
	secret []byte
	maxAge time.Duration
}

// New signs tokens with secret. An empty secret gets a random one, so
// sessions do not survive a restart.
func New(secret string, maxAge time.Duration) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		generated := make([]byte, 32)
		if _, err := rand.Read(generated); err != nil {
			return nil, fmt.Errorf("generate auth secret: %w", err)
		}
		secret = base64.RawURLEncoding.EncodeToString(generated)
	}
	return &Manager{secret: []byte(secret), maxAge: maxAge}, nil
}

func (m *Manager) CookieName() string {
	return cookieName
}

func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

// Issue returns a token naming operator, an email address.
func (m *Manager) Issue(operator string, now time.Time) (string, error) {
	email, err := NormalizeEmail(operator)
	if err != nil {
		return "", err
	}
	payload := email + "|" + strconv.FormatInt(now.Unix(), 10)
	token := payload + "|" + m.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

// Parse verifies token and returns the operator it names.
func (m *Manager) Parse(token string, now time.Time) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return "", ErrInvalidToken
	}
	payload := parts[0] + "|" + parts[1]
	if !m.verify(payload, parts[2]) {
		return "", ErrInvalidToken
	}
	issued, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	if now.Sub(time.Unix(issued, 0)) > m.maxAge {
		return "", ErrExpired
	}
	return NormalizeEmail(parts[0])
}

func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	if trimmed == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", errors.New("email must be valid")
	}
	return strings.ToLower(addr.Address), nil
}

func (m *Manager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *Manager) verify(payload, signature string) bool {
	return hmac.Equal([]byte(m.sign(payload)), []byte(signature))
}
