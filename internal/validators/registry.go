package validators

import (
	"net/url"
	"strings"
	"sync"
)

// Registry manages URL validators. Validators are tried in registration
// order; a URL no validator claims falls through to the generic check.
type Registry struct {
	mu         sync.RWMutex
	validators []Validator
}

// NewRegistry creates a new validator registry
func NewRegistry() *Registry {
	return &Registry{
		validators: make([]Validator, 0),
	}
}

// Register adds a validator to the registry
func (r *Registry) Register(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators = append(r.validators, v)
}

// Validate finds the appropriate validator and validates the URL
func (r *Registry) Validate(rawURL string) ValidationResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.validators {
		if v.CanHandle(rawURL) {
			return v.Validate(rawURL)
		}
	}

	return validateGeneric(rawURL)
}

// GetSupportedSources returns all source types registered in the registry
func (r *Registry) GetSupportedSources() []SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]SourceType, 0, len(r.validators)+1)
	for _, v := range r.validators {
		sources = append(sources, v.SourceType())
	}
	return append(sources, SourceGeneric)
}

// DefaultRegistry creates a registry with all built-in validators
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewYouTubeValidator())
	r.Register(NewSoundCloudValidator())
	r.Register(NewDirectValidator())
	return r
}

// IsValidURL reports whether s is an absolute http(s) URL with a host.
func IsValidURL(s string) bool {
	_, ok := parseHTTP(s)
	return ok
}

// validateGeneric accepts any http(s) page; the yt-dlp engine supports
// far more sites than there are dedicated validators.
func validateGeneric(rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	if _, ok := parseHTTP(rawURL); !ok {
		return ValidationResult{
			Valid:      false,
			SourceType: SourceUnknown,
			URL:        rawURL,
			Error:      "unsupported URL format",
		}
	}
	return ValidationResult{
		Valid:      true,
		SourceType: SourceGeneric,
		MediaType:  MediaPage,
		URL:        rawURL,
	}
}

func parseHTTP(s string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, u.Host != ""
}

// normalizedHost lowercases the host and strips www. and m. prefixes.
func normalizedHost(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	return strings.TrimPrefix(host, "m.")
}

func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
