package analytics

import (
	"fmt"
	"strings"
)

// ProviderType names a data source.
type ProviderType string

const (
	// ProviderDevScope is the DevScope REST API (default).
	ProviderDevScope ProviderType = "devscope"
	// ProviderGitHub reads directly from GitHub.
	ProviderGitHub ProviderType = "github"
	// ProviderGitLab reads directly from GitLab.
	ProviderGitLab ProviderType = "gitlab"
)

// Factory creates clients based on the provider type.
type Factory struct {
	config Config
}

// NewFactory creates a factory applying config to every client it creates.
func NewFactory(config Config) *Factory {
	return &Factory{config: config}
}

// CreateClient creates a client for provider (case-insensitive). An empty
// provider selects the DevScope API.
func (f *Factory) CreateClient(provider string) (Client, error) {
	normalized := strings.ToLower(strings.TrimSpace(provider))
	if normalized == "" {
		normalized = string(ProviderDevScope)
	}

	switch ProviderType(normalized) {
	case ProviderDevScope:
		return NewAPIClient(f.config)
	case ProviderGitHub:
		return NewGitHubSource(f.config)
	case ProviderGitLab:
		return NewGitLabSource(f.config)
	default:
		return nil, fmt.Errorf("unsupported provider: %s (supported: %s)", provider, strings.Join(SupportedProviders(), ", "))
	}
}

// NewClient creates a client without instantiating a Factory first.
func NewClient(provider string, config Config) (Client, error) {
	return NewFactory(config).CreateClient(provider)
}

// SupportedProviders lists every provider CreateClient accepts.
func SupportedProviders() []string {
	return []string{
		string(ProviderDevScope),
		string(ProviderGitHub),
		string(ProviderGitLab),
	}
}

// IsSupportedProvider reports whether provider is accepted by CreateClient.
func IsSupportedProvider(provider string) bool {
	normalized := strings.ToLower(strings.TrimSpace(provider))
	for _, p := range SupportedProviders() {
		if p == normalized {
			return true
		}
	}
	return false
}
