// Package state persists devscope session state between runs: the last
// selected repository, the last generated insights and, as a stopgap until
// a keyring-backed CredentialStore exists, provider tokens.
//
// Session values are not synchronized. Callers guard concurrent access.
package state

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StateVersion is the current on-disk format. Increment only for breaking
// structural changes.
const StateVersion = 1

// DefaultProfile names the session written when no profile is given.
const DefaultProfile = "default"

// Session is the persisted session state (YAML).
type Session struct {
	StateVersion         int                 `yaml:"stateVersion"`
	SavedAt              time.Time           `yaml:"savedAt"`
	Profile              string              `yaml:"profile"`
	Provider             string              `yaml:"provider,omitempty"`
	SelectedRepositoryID string              `yaml:"selectedRepositoryId,omitempty"`
	LastInsights         *InsightsRecord     `yaml:"lastInsights,omitempty"`
	Credentials          *CredentialSnapshot `yaml:"credentials,omitempty"`
}

// InsightsRecord keeps the raw text of the most recent insights so they can
// be shown again without regenerating them.
type InsightsRecord struct {
	RepositoryID string    `yaml:"repositoryId"`
	GeneratedAt  time.Time `yaml:"generatedAt"`
	Text         string    `yaml:"text"`
}

// CredentialSnapshot is plain-text token storage. Prefer the environment
// or a CredentialStore.
type CredentialSnapshot struct {
	DevScopeToken string `yaml:"devscopeToken,omitempty"`
	GitHubToken   string `yaml:"githubToken,omitempty"`
	GitLabToken   string `yaml:"gitlabToken,omitempty"`
}

// token returns the snapshot token for provider.
func (c *CredentialSnapshot) token(provider string) string {
	if c == nil {
		return ""
	}
	switch provider {
	case "devscope":
		return c.DevScopeToken
	case "github":
		return c.GitHubToken
	case "gitlab":
		return c.GitLabToken
	}
	return ""
}

// NewSession creates a session with defaults.
func NewSession() *Session {
	return &Session{
		StateVersion: StateVersion,
		SavedAt:      time.Now().UTC(),
		Profile:      DefaultProfile,
	}
}

// Load reads a session from path, returning defaults if the file is missing.
func Load(path string) (*Session, error) {
	if path == "" {
		return nil, errors.New("state: empty path")
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewSession(), nil
		}
		return nil, fmt.Errorf("state: read failed: %w", err)
	}
	var st Session
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("state: parse failed: %w", err)
	}
	if st.StateVersion > StateVersion {
		return nil, fmt.Errorf("state: unsupported version %d (max %d)", st.StateVersion, StateVersion)
	}
	normalize(&st)
	return &st, nil
}

// Save persists the session atomically with owner-only permissions.
func Save(st *Session, path string) error {
	if st == nil {
		return errors.New("state: nil Session")
	}
	if path == "" {
		return errors.New("state: empty path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("state: mkdir failed: %w", err)
	}
	st.SavedAt = time.Now().UTC()

	out, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("state: marshal failed: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".devscope_state.tmp-*")
	if err != nil {
		return fmt.Errorf("state: temp create failed: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(out); err != nil {
		return fmt.Errorf("state: temp write failed: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("state: chmod failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("state: sync failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close failed: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("state: atomic rename failed: %w", err)
	}
	return nil
}

func normalize(st *Session) {
	if st.StateVersion <= 0 {
		st.StateVersion = StateVersion
	}
	if st.Profile == "" {
		st.Profile = DefaultProfile
	}
}

// RememberSelection records the selected repository for provider. A
// provider change drops insights that belonged to the old source.
func (s *Session) RememberSelection(provider, repoID string) {
	if s.Provider != provider {
		s.LastInsights = nil
	}
	s.Provider = provider
	s.SelectedRepositoryID = repoID
}

// PreferredRepository returns the remembered selection if it was made
// against provider.
func (s *Session) PreferredRepository(provider string) string {
	if s == nil || s.Provider != provider {
		return ""
	}
	return s.SelectedRepositoryID
}

// RememberInsights keeps the most recent insights text.
func (s *Session) RememberInsights(repoID, text string, generatedAt time.Time) {
	s.LastInsights = &InsightsRecord{RepositoryID: repoID, GeneratedAt: generatedAt.UTC(), Text: text}
}

// RedactedCopy returns a copy with tokens anonymized, safe for logging.
func (s *Session) RedactedCopy() *Session {
	cp := *s
	if cp.Credentials != nil {
		cp.Credentials = &CredentialSnapshot{
			DevScopeToken: RedactToken(cp.Credentials.DevScopeToken),
			GitHubToken:   RedactToken(cp.Credentials.GitHubToken),
			GitLabToken:   RedactToken(cp.Credentials.GitLabToken),
		}
	}
	if cp.LastInsights != nil {
		li := *cp.LastInsights
		cp.LastInsights = &li
	}
	return &cp
}

// WriteTo writes the full YAML representation to an arbitrary writer.
func (s *Session) WriteTo(w io.Writer) (int64, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(out)
	return int64(n), err
}
