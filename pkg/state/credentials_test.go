package state

import (
	"errors"
	"strings"
	"testing"
)

func TestInMemoryCredentialStore(t *testing.T) {
	store := NewInMemoryCredentialStore()

	t.Run("get non-existent token", func(t *testing.T) {
		_, err := store.GetToken("github")
		if !errors.Is(err, ErrCredentialNotFound) {
			t.Errorf("expected ErrCredentialNotFound, got %v", err)
		}
	})

	t.Run("set empty provider", func(t *testing.T) {
		if err := store.SetToken("", "token"); err == nil {
			t.Fatal("expected error for empty provider")
		}
	})

	t.Run("update existing token", func(t *testing.T) {
		if err := store.SetToken("github", "ghp_old"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.SetToken("github", "ghp_new"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		token, err := store.GetToken("github")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token != "ghp_new" {
			t.Errorf("expected ghp_new, got %s", token)
		}
	})

	t.Run("provider is normalized", func(t *testing.T) {
		if err := store.SetToken(" GitLab ", "glpat"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok, err := store.GetToken("gitlab"); err != nil || tok != "glpat" {
			t.Errorf("GetToken(gitlab) = %q, %v", tok, err)
		}
	})
}

func TestNewSessionCredentialStore(t *testing.T) {
	session := NewSession()
	session.Credentials = &CredentialSnapshot{DevScopeToken: " dsk_abc ", GitHubToken: ""}

	store := NewSessionCredentialStore(session)
	if tok, err := store.GetToken("devscope"); err != nil || tok != "dsk_abc" {
		t.Errorf("GetToken(devscope) = %q, %v", tok, err)
	}
	if _, err := store.GetToken("github"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("empty snapshot token should not be stored, got %v", err)
	}

	if _, err := NewSessionCredentialStore(nil).GetToken("devscope"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("nil session should give an empty store, got %v", err)
	}
}

type failingStore struct{}

func (failingStore) SetToken(string, string) error { return nil }
func (failingStore) GetToken(string) (string, error) { return "", errors.New("keyring locked") }

func TestResolveProviderToken(t *testing.T) {
	session := NewSession()
	session.Credentials = &CredentialSnapshot{GitHubToken: "from-session"}
	store := NewSessionCredentialStore(session)
	_ = store.SetToken("gitlab", "gl-from-store")

	tests := []struct {
		name        string
		provider    string
		env         string
		configToken string
		store       CredentialStore
		want        string
		wantErr     bool
	}{
		{name: "env wins", provider: "github", env: "from-env", configToken: "from-config", store: store, want: "from-env"},
		{name: "config next", provider: "github", configToken: " from-config ", store: store, want: "from-config"},
		{name: "session token from store", provider: "GitHub", store: store, want: "from-session"},
		{name: "token set on store", provider: "gitlab", store: store, want: "gl-from-store"},
		{name: "nothing configured", provider: "devscope", store: store, want: ""},
		{name: "nil store", provider: "devscope", want: ""},
		{name: "store failure", provider: "devscope", store: failingStore{}, wantErr: true},
		{name: "empty provider", provider: " ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, p := range []string{"devscope", "github", "gitlab"} {
				t.Setenv(TokenEnvName(p), "")
			}
			if tt.env != "" {
				t.Setenv(TokenEnvName(tt.provider), tt.env)
			}

			got, err := ResolveProviderToken(tt.provider, tt.configToken, tt.store)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveProviderToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolveProviderToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTokenSource(t *testing.T) {
	t.Setenv("DEVSCOPE_DEVSCOPE_TOKEN", "")

	src := TokenSource{Provider: "devscope", ConfigToken: "dsk_token"}
	tok, err := src.Token()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.AccessToken != "dsk_token" || tok.Type() != "Bearer" {
		t.Errorf("unexpected token: %+v", tok)
	}

	store := NewInMemoryCredentialStore()
	_ = store.SetToken("devscope", "dsk_stored")
	tok, err = TokenSource{Provider: "devscope", Store: store}.Token()
	if err != nil || tok.AccessToken != "dsk_stored" {
		t.Fatalf("expected stored token, got %+v, %v", tok, err)
	}

	_, err = TokenSource{Provider: "devscope"}.Token()
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "DEVSCOPE_DEVSCOPE_TOKEN") {
		t.Errorf("error should name the env variable: %v", err)
	}
}

func TestRedactToken(t *testing.T) {
	cases := map[string]string{"": "", "abc": "***", "abcd": "***", "abcdef": "abcd***"}
	for in, want := range cases {
		if got := RedactToken(in); got != want {
			t.Errorf("RedactToken(%q) = %q, want %q", in, got, want)
		}
	}
}
