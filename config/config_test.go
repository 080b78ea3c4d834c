package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const minimalConfig = `
repository_url: https://svn.example.com/repos/trunk
`

func loadOrFail(t *testing.T, cfgString string) *Config {
	cfg, err := Unmarshal([]byte(cfgString))
	if err != nil {
		t.Fatalf("Failed to read config: %v", err.Error())
	}
	return cfg
}

func ensureFail(t *testing.T, cfgString string, desc string) {
	_, err := Unmarshal([]byte(cfgString))
	if err == nil {
		t.Fatalf("Expected config err not found: %s", desc)
	}
	t.Logf("Config err: %v", err.Error())
}

func TestValidConfig(t *testing.T) {
	cfg := loadOrFail(t, minimalConfig)
	assert.Equal(t, "https://svn.example.com/repos/trunk", cfg.RepositoryURL)
	assert.Equal(t, DefaultCheckout, cfg.Checkout)
	assert.Equal(t, DefaultTimeoutSeconds, cfg.TimeoutSecs)
	assert.Empty(t, cfg.Rules)
}

func TestMissingRepositoryURL(t *testing.T) {
	ensureFail(t, "", "repository_url must be set")
}

func TestCustomCheckoutAndTimeout(t *testing.T) {
	const cfgString = minimalConfig + `
checkout: /home/user/wc
timeout_seconds: 60
auth:
  username: alice
  password: secret
`
	cfg := loadOrFail(t, cfgString)
	assert.Equal(t, "/home/user/wc", cfg.Checkout)
	assert.Equal(t, 60, cfg.TimeoutSecs)
	assert.Equal(t, "alice", cfg.Auth.Username)
	assert.Equal(t, "secret", cfg.Auth.Password)
}

func TestAutoPropsTypeMap(t *testing.T) {
	const cfgString = minimalConfig + `
auto_props:
- text  *.txt
- binary  *.bin
- image/png  *.png
`
	cfg := loadOrFail(t, cfgString)
	assert.Equal(t, 3, len(cfg.Rules))

	mime, binary, found := cfg.MimeTypeFor("readme.txt")
	assert.True(t, found)
	assert.False(t, binary)
	assert.Equal(t, "", mime)

	mime, binary, found = cfg.MimeTypeFor("archive.bin")
	assert.True(t, found)
	assert.True(t, binary)
	assert.Equal(t, "", mime)

	mime, binary, found = cfg.MimeTypeFor("logo.png")
	assert.True(t, found)
	assert.False(t, binary)
	assert.Equal(t, "image/png", mime)

	_, _, found = cfg.MimeTypeFor("noext")
	assert.False(t, found)
}

func TestAutoPropsMalformedEntry(t *testing.T) {
	const cfgString = minimalConfig + `
auto_props:
- justonefield
`
	ensureFail(t, cfgString, "failed to split on a space")
}
