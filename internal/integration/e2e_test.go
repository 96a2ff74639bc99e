//go:build integration

package integration

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botgate/internal/adapter/llm"
	"botgate/internal/adapter/memory"
	"botgate/internal/domain"
	"botgate/internal/infra/config"
	"botgate/internal/usecase/transfer"
)

func TestE2E_Mem0ImportAndSearch(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	SkipIfUnset(t, cfg.Mem0URL, "MEM0_URL")
	ctx := NewTestContext(t, cfg.TestTimeout)

	client := memory.NewMem0Client(config.Mem0Config{
		URL:     cfg.Mem0URL,
		APIKey:  cfg.Mem0APIKey,
		Timeout: 30 * time.Second,
		Enabled: true,
	}, slog.Default())
	require.True(t, client.Health(ctx), "mem0 not reachable at %s", cfg.Mem0URL)

	owner := "e2e-" + uuid.NewString()
	res := transfer.NewImporter(client, nil, slog.Default()).Import(ctx, []transfer.Record{
		{Content: "The user's favourite drink is green tea"},
		{Content: "The user lives in Hanoi"},
	}, transfer.Options{Owner: owner, Parallel: true})
	require.Zero(t, res.Failed, "import errors: %v", res.Errors)

	recs, err := client.Search(ctx, owner, "what does the user drink", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	for _, r := range recs {
		if r.ID != "" {
			_, err := client.Delete(ctx, r.ID)
			assert.NoError(t, err)
		}
	}
}

func TestE2E_OpenAIChat(t *testing.T) {
	SkipIfShort(t)
	if LoadConfig().SkipSlow {
		t.Skip("slow tests disabled")
	}
	cfg := LoadConfig()
	SkipIfUnset(t, cfg.OpenAIKey, "OPENAI_API_KEY")
	ctx := NewTestContext(t, cfg.TestTimeout)

	provider := llm.NewOpenAIProvider(config.LLMConfig{
		Name:        "openai",
		BaseURL:     cfg.OpenAIBaseURL,
		APIKey:      cfg.OpenAIKey,
		RespTimeout: cfg.TestTimeout,
	}, slog.Default())

	resp, err := provider.Chat(ctx, domain.ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "Reply with exactly one word."},
			{Role: domain.RoleUser, Content: "Say pong."},
		},
		MaxTokens: 10,
	})
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(resp.Message.Content), "pong")
}
