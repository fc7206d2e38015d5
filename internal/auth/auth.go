// Package auth implements console authentication: a single operator
// password stored as a bcrypt hash under the data directory, exchanged
// for HS256 JWTs. Tokens are opaque to the rest of the system.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// tokenLifetime is how long an issued token stays valid.
const tokenLifetime = 24 * time.Hour

// ErrBadPassword is returned by Verify on a wrong password.
var ErrBadPassword = errors.New("auth: invalid password")

// ErrNotConfigured is returned before the first password is set.
var ErrNotConfigured = errors.New("auth: no password configured")

// credentials is the persisted document.
type credentials struct {
	PasswordHash string `json:"password_hash"`
	Secret       string `json:"secret"` // JWT signing secret, hex
}

// Manager stores the operator credential and signs tokens.
type Manager struct {
	path string

	mu    sync.Mutex
	creds *credentials // nil until configured
}

// NewManager loads (or prepares to create) data/auth.json.
func NewManager(dataDir string) (*Manager, error) {
	m := &Manager{path: filepath.Join(dataDir, "auth.json")}

	data, err := os.ReadFile(m.path)
	switch {
	case err == nil:
		var c credentials
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("auth: parse %s: %w", m.path, err)
		}
		m.creds = &c
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("auth: read %s: %w", m.path, err)
	}
	return m, nil
}

// IsConfigured reports whether a password has been set.
func (m *Manager) IsConfigured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds != nil
}

// Setup sets the first password. Fails when already configured.
func (m *Manager) Setup(password string) error {
	if len(password) < 8 {
		return errors.New("auth: password must be at least 8 characters")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds != nil {
		return errors.New("auth: already configured")
	}
	return m.store(password)
}

// ChangePassword replaces the password after verifying the old one.
// All previously issued tokens are invalidated by rotating the secret.
func (m *Manager) ChangePassword(oldPassword, newPassword string) error {
	if len(newPassword) < 8 {
		return errors.New("auth: password must be at least 8 characters")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return ErrNotConfigured
	}
	if bcrypt.CompareHashAndPassword([]byte(m.creds.PasswordHash), []byte(oldPassword)) != nil {
		return ErrBadPassword
	}
	return m.store(newPassword)
}

// Verify checks the password and returns a fresh token.
func (m *Manager) Verify(password string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return "", ErrNotConfigured
	}
	if bcrypt.CompareHashAndPassword([]byte(m.creds.PasswordHash), []byte(password)) != nil {
		return "", ErrBadPassword
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	})
	return token.SignedString(m.secret())
}

// VerifyToken reports whether the token is valid and unexpired.
func (m *Manager) VerifyToken(tokenString string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return false
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return m.secret(), nil
	})
	return err == nil && token.Valid
}

// store writes a new hash and a fresh signing secret. Callers hold mu.
func (m *Manager) store(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("auth: generate secret: %w", err)
	}
	creds := &credentials{
		PasswordHash: string(hash),
		Secret:       hex.EncodeToString(secret),
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("auth: write %s: %w", m.path, err)
	}
	m.creds = creds
	return nil
}

func (m *Manager) secret() []byte {
	b, _ := hex.DecodeString(m.creds.Secret)
	return b
}
