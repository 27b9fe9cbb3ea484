package llmclient

import (
	"fmt"
	"strings"
)

// ProviderConfig is the immutable per-request provider selection.
type ProviderConfig struct {
	Provider   Provider
	Model      string
	Credential string
}

// Validate checks the config before any network call is made. A missing
// credential yields *AuthError.
func (c ProviderConfig) Validate() error {
	if !c.Provider.Valid() {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if strings.TrimSpace(c.Credential) == "" {
		return &AuthError{Provider: c.Provider}
	}
	return nil
}

// ModelOrDefault returns the configured model or the provider default.
func (c ProviderConfig) ModelOrDefault() string {
	if m := strings.TrimSpace(c.Model); m != "" {
		return m
	}
	return c.Provider.DefaultModel()
}

// Settings is what a chat session stores: the selected provider and model
// plus one credential per provider.
type Settings struct {
	Provider Provider            `json:"provider"`
	Model    string              `json:"model"`
	Keys     map[Provider]string `json:"keys,omitempty"`
}

// Clone returns a deep copy of s.
func (s Settings) Clone() Settings {
	out := s
	out.Keys = make(map[Provider]string, len(s.Keys))
	for k, v := range s.Keys {
		out.Keys[k] = v
	}
	return out
}

// ProviderConfig resolves the credential for the selected provider. The
// result is a value; later edits to s never reach it.
func (s Settings) ProviderConfig() ProviderConfig {
	cfg := ProviderConfig{
		Provider:   s.Provider,
		Model:      strings.TrimSpace(s.Model),
		Credential: strings.TrimSpace(s.Keys[s.Provider]),
	}
	if cfg.Model == "" && cfg.Provider.Valid() {
		cfg.Model = cfg.Provider.DefaultModel()
	}
	return cfg
}

// Masked returns a copy with every credential replaced by a short hint.
func (s Settings) Masked() Settings {
	out := s.Clone()
	for k, v := range out.Keys {
		out.Keys[k] = MaskKey(v)
	}
	return out
}

// MaskKey keeps the last four characters of a credential.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
