package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// RandomString generates a random string of n characters
func RandomString(n int) string {
	bytes := make([]byte, n/2+1)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:n]
}

// CommandFile renders a markdown command with frontmatter.
func CommandFile(description, body string) string {
	return fmt.Sprintf("---\ndescription: %s\n---\n%s\n", description, body)
}

// SessionManager deletes the HTTP sessions a test creates.
type SessionManager struct {
	client   *TestClient
	sessions []string
}

// NewSessionManager creates a session manager
func NewSessionManager(client *TestClient) *SessionManager {
	return &SessionManager{client: client}
}

// Create opens a session and tracks it for cleanup.
func (m *SessionManager) Create(ctx context.Context) (string, error) {
	info, err := m.client.CreateSession(ctx)
	if err != nil {
		return "", err
	}
	m.sessions = append(m.sessions, info.ID)
	return info.ID, nil
}

// Cleanup deletes every tracked session. Sessions already gone are ignored.
func (m *SessionManager) Cleanup(ctx context.Context) {
	for _, id := range m.sessions {
		_ = m.client.DeleteSession(ctx, id)
	}
	m.sessions = m.sessions[:0]
}

// RequireEnv checks if required environment variables are set
func RequireEnv(vars ...string) error {
	for _, v := range vars {
		if os.Getenv(v) == "" {
			return fmt.Errorf("required environment variable %s is not set", v)
		}
	}
	return nil
}
