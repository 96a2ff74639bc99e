// Package integration holds cross-package tests of the gateway. Tests that
// need live services are behind the integration build tag.
package integration

import (
	"context"
	"os"
	"testing"
	"time"
)

// Config holds live-service settings read from the environment.
type Config struct {
	OpenAIKey     string
	OpenAIBaseURL string
	Mem0URL       string
	Mem0APIKey    string
	TestTimeout   time.Duration
	SkipSlow      bool
}

// LoadConfig reads the live-service settings.
func LoadConfig() *Config {
	return &Config{
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		Mem0URL:       os.Getenv("MEM0_URL"),
		Mem0APIKey:    os.Getenv("MEM0_API_KEY"),
		TestTimeout:   60 * time.Second,
		SkipSlow:      os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
}

// SkipIfUnset skips the test when value is empty.
func SkipIfUnset(t *testing.T, value, envName string) {
	t.Helper()
	if value == "" {
		t.Skipf("Skipping integration test: %s not set", envName)
	}
}

// SkipIfShort skips integration tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
