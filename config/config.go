package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// DefaultCheckout is the default local working-copy root used when the
// config file does not specify one.
const DefaultCheckout = "."

// DefaultTimeoutSeconds is the default RA session read timeout.
const DefaultTimeoutSeconds = 3600

// Auth holds static credentials for the RA session's AuthProvider. A real
// deployment may instead prompt interactively; config-file credentials
// are the non-interactive path used by cmd/svnupdate and cmd/svncommit.
type Auth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// AutoPropRule maps a compiled path pattern to a mime-type classification
// consulted by the commit driver before it falls back to content
// sniffing (see package commit).
type AutoPropRule struct {
	MimeType string         // empty for plain text
	Binary   bool           // true if this pattern denotes non-text content
	RePath   *regexp.Regexp // compiled from the corresponding AutoProps entry
}

// Config is the top-level session configuration for svncore.
type Config struct {
	RepositoryURL string   `yaml:"repository_url"`
	Checkout      string   `yaml:"checkout"`
	TimeoutSecs   int      `yaml:"timeout_seconds"`
	Auth          Auth     `yaml:"auth"`
	AutoProps     []string `yaml:"auto_props"` // "<mimetype|binary|text> <path-glob>" lines
	Rules         []AutoPropRule
}

// Unmarshal parses YAML bytes into a Config with defaults pre-filled,
// then validates it.
func Unmarshal(raw []byte) (*Config, error) {
	cfg := &Config{
		Checkout:    DefaultCheckout,
		TimeoutSecs: DefaultTimeoutSeconds,
		Rules:       make([]AutoPropRule, 0),
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters (like match patterns)", err.Error())
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile reads and parses a YAML config file from disk.
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString parses a YAML config document already in memory.
func LoadConfigString(content []byte) (*Config, error) {
	return Unmarshal(content)
}

func (c *Config) validate() error {
	if c.RepositoryURL == "" {
		return fmt.Errorf("repository_url must be set")
	}
	if c.TimeoutSecs <= 0 {
		c.TimeoutSecs = DefaultTimeoutSeconds
	}
	for _, m := range c.AutoProps {
		parts := strings.Fields(m)
		if len(parts) != 2 {
			return fmt.Errorf("failed to split '%s' on a space", m)
		}
		mimeOrClass := parts[0]
		globPattern := parts[1]
		reStr := strings.ReplaceAll(globPattern, "*", ".*")
		reStr += "$"
		rePath, err := regexp.Compile(reStr)
		if err != nil {
			return fmt.Errorf("failed to parse '%s' as a regex", reStr)
		}
		binary := strings.EqualFold(mimeOrClass, "binary")
		mime := mimeOrClass
		if binary || strings.EqualFold(mimeOrClass, "text") {
			mime = ""
		}
		c.Rules = append(c.Rules, AutoPropRule{MimeType: mime, Binary: binary, RePath: rePath})
	}
	return nil
}

// MimeTypeFor returns the configured mime type (and whether it denotes
// binary content) for path, checked against every AutoPropRule in order;
// found is false if no rule matches and the caller should fall back to
// content sniffing (see package commit).
func (c *Config) MimeTypeFor(path string) (mimeType string, binary bool, found bool) {
	for _, r := range c.Rules {
		if r.RePath.MatchString(path) {
			return r.MimeType, r.Binary, true
		}
	}
	return "", false, false
}
