// Package relay loads and validates the static relay endpoint configuration.
package relay

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the relay config file
type Config struct {
	Relays []EndpointConfig `json:"relays"`
}

// EndpointConfig is the static configuration of one relay endpoint.
//
// Alias, if set, must be the URL of another configured endpoint sharing the same infrastructure.
type EndpointConfig struct {
	Name                string `json:"name,omitempty"`
	URL                 string `json:"url"`
	Alias               string `json:"alias,omitempty"`
	AuthorizationHeader string `json:"authorization_header,omitempty"`
	DisableGzip         bool   `json:"disable_gzip,omitempty"`
	BlacklistFile       string `json:"blacklist_file,omitempty"`

	// Blacklist is filled from BlacklistFile by Resolve
	Blacklist []common.Address `json:"-"`
}

// Group returns the URL this endpoint is accounted under
func (c EndpointConfig) Group() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.URL
}

// LoadConfigFile reads a relay config file
func LoadConfigFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, Error{Cause: fmt.Errorf("%w: %w", ErrReadConfigFile, err), Message: filePath}
	}

	cfg := new(Config)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, Error{Cause: fmt.Errorf("%w: %w", ErrParseConfigFile, err), Message: filePath}
	}
	return cfg, nil
}

// AddURL appends an endpoint given by URL or known relay name, with default settings
func (c *Config) AddURL(relayURL string) {
	c.Relays = append(c.Relays, EndpointConfig{URL: relayURL})
}

// Resolve normalizes every URL, checks duplicates and alias references, and loads blacklists.
// It returns a new list and leaves c untouched. Any returned error is an Error.
func (c *Config) Resolve() (List, error) {
	if len(c.Relays) == 0 {
		return nil, Error{Cause: ErrNoRelays, Message: "relay config"}
	}

	resolved := make(List, len(c.Relays))
	byURL := make(map[string]int, len(c.Relays))
	for i, endpoint := range c.Relays {
		normalized, err := NormalizeURL(endpoint.URL)
		if err != nil {
			return nil, Error{Cause: err, Message: fmt.Sprintf("relay #%d", i)}
		}
		if prev, ok := byURL[normalized]; ok {
			return nil, Error{Cause: ErrDuplicateRelay, Message: fmt.Sprintf("relay #%d and #%d: %s", prev, i, normalized)}
		}
		byURL[normalized] = i

		endpoint.URL = normalized
		endpoint.Blacklist = nil
		resolved[i] = endpoint
	}

	for i := range resolved {
		endpoint := &resolved[i]
		if endpoint.Alias != "" {
			alias, err := NormalizeURL(endpoint.Alias)
			if err != nil {
				return nil, Error{Cause: err, Message: "endpoint alias: " + endpoint.Alias}
			}
			if target, ok := byURL[alias]; !ok || target == i {
				return nil, Error{Cause: ErrAliasNotFound, Message: "endpoint alias: " + endpoint.Alias}
			}
			endpoint.Alias = alias
		}

		if endpoint.BlacklistFile != "" {
			blacklist, err := LoadBlacklist(endpoint.BlacklistFile)
			if err != nil {
				return nil, err
			}
			endpoint.Blacklist = blacklist
		}
	}
	return resolved, nil
}

// NormalizeURL resolves known relay names, adds the https scheme if missing and strips
// credentials and trailing slashes.
func NormalizeURL(raw string) (string, error) {
	relayURL := strings.TrimSpace(raw)
	if known, ok := KnownRelayURL(relayURL); ok {
		relayURL = known
	}
	if !strings.HasPrefix(relayURL, "http") {
		relayURL = "https://" + relayURL
	}

	parsedURL, err := url.ParseRequestURI(relayURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %s", ErrInvalidRelayURL, err, raw)
	}
	if parsedURL.Host == "" {
		return "", fmt.Errorf("%w: missing host: %s", ErrInvalidRelayURL, raw)
	}
	parsedURL.User = nil
	parsedURL.Path = strings.TrimSuffix(parsedURL.Path, "/")
	return parsedURL.String(), nil
}
