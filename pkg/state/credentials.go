package state

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// CredentialStore holds provider tokens keyed by provider ID ("devscope",
// "github", "gitlab").
type CredentialStore interface {
	// SetToken stores or replaces the token for provider.
	SetToken(provider string, token string) error
	// GetToken returns ErrCredentialNotFound if provider has no token.
	GetToken(provider string) (string, error)
}

// ErrCredentialNotFound is returned when a token for a provider does not exist.
var ErrCredentialNotFound = errors.New("credential not found")

// InMemoryCredentialStore keeps tokens for the lifetime of the process.
type InMemoryCredentialStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewInMemoryCredentialStore creates an empty store.
func NewInMemoryCredentialStore() *InMemoryCredentialStore {
	return &InMemoryCredentialStore{tokens: make(map[string]string)}
}

// NewSessionCredentialStore returns a store holding the non-empty tokens of
// the session's credential snapshot. A nil session yields an empty store.
func NewSessionCredentialStore(st *Session) *InMemoryCredentialStore {
	s := NewInMemoryCredentialStore()
	if st == nil || st.Credentials == nil {
		return s
	}
	for _, p := range []string{"devscope", "github", "gitlab"} {
		if tok := strings.TrimSpace(st.Credentials.token(p)); tok != "" {
			s.tokens[p] = tok
		}
	}
	return s
}

// SetToken stores or replaces the token for provider.
func (s *InMemoryCredentialStore) SetToken(provider string, token string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return errors.New("provider cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[provider] = token
	return nil
}

// GetToken returns the token for provider or ErrCredentialNotFound.
func (s *InMemoryCredentialStore) GetToken(provider string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tokens[provider]
	if !ok {
		return "", ErrCredentialNotFound
	}
	return v, nil
}

// TokenEnvName returns the environment variable holding provider's token.
func TokenEnvName(provider string) string {
	return fmt.Sprintf("DEVSCOPE_%s_TOKEN", strings.ToUpper(provider))
}

// ResolveProviderToken returns the credential for the given provider.
// Lookup order:
//  1. Environment variable DEVSCOPE_<PROVIDER>_TOKEN
//  2. configToken (config file, DEVSCOPE_TOKEN or the provider section)
//  3. CredentialStore (if provided), usually seeded from the session file
//
// It returns an empty string if none is found. Always redact tokens before logging.
func ResolveProviderToken(provider, configToken string, cs CredentialStore) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", errors.New("provider cannot be empty")
	}

	if v := strings.TrimSpace(os.Getenv(TokenEnvName(provider))); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(configToken); v != "" {
		return v, nil
	}
	if cs != nil {
		tok, err := cs.GetToken(provider)
		if err != nil && !errors.Is(err, ErrCredentialNotFound) {
			return "", fmt.Errorf("credential store failure: %w", err)
		}
		return strings.TrimSpace(tok), nil
	}
	return "", nil
}

// TokenSource resolves a provider credential on every call and satisfies
// oauth2.TokenSource. Wrap it in oauth2.ReuseTokenSource to resolve once.
type TokenSource struct {
	Provider    string
	ConfigToken string
	Store       CredentialStore
}

// Token implements oauth2.TokenSource. It fails with ErrCredentialNotFound
// when no credential is configured.
func (s TokenSource) Token() (*oauth2.Token, error) {
	tok, err := ResolveProviderToken(s.Provider, s.ConfigToken, s.Store)
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, fmt.Errorf("%w for provider %s (set %s)", ErrCredentialNotFound, s.Provider, TokenEnvName(s.Provider))
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

// RedactToken safely redacts a token for logging purposes.
func RedactToken(tok string) string {
	if tok == "" {
		return ""
	}
	if len(tok) <= 4 {
		return "***"
	}
	return tok[:4] + "***"
}
