package integration

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botgate/internal/adapter/channel"
	"botgate/internal/domain"
	"botgate/internal/infra/config"
	"botgate/internal/usecase/agentloop"
	"botgate/internal/usecase/eventbus"
	"botgate/internal/usecase/multiagent"
)

// telegramStub is one fake bot connection.
type telegramStub struct {
	username string

	mu      sync.Mutex
	handler bot.HandlerFunc
	sent    []bot.SendMessageParams
}

func (s *telegramStub) Start(ctx context.Context) { <-ctx.Done() }

func (s *telegramStub) GetMe(context.Context) (*models.User, error) {
	return &models.User{ID: 1, IsBot: true, Username: s.username}, nil
}

func (s *telegramStub) DeleteWebhook(context.Context, *bot.DeleteWebhookParams) (bool, error) {
	return true, nil
}

func (s *telegramStub) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, *p)
	return &models.Message{ID: len(s.sent)}, nil
}

func (s *telegramStub) GetFile(_ context.Context, p *bot.GetFileParams) (*models.File, error) {
	return &models.File{FileID: p.FileID}, nil
}

func (s *telegramStub) FileDownloadLink(*models.File) string { return "" }

func (s *telegramStub) messages() []bot.SendMessageParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bot.SendMessageParams(nil), s.sent...)
}

func (s *telegramStub) receive(from, chat int64, text string) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h(context.Background(), nil, &models.Update{Message: &models.Message{
		ID:   int(time.Now().UnixNano() % 100000),
		Chat: models.Chat{ID: chat, Type: models.ChatTypePrivate},
		From: &models.User{ID: from, FirstName: "Alice", Username: "alice"},
		Text: text,
	}})
}

// echoProvider answers with the last user turn.
type echoProvider struct {
	mu   sync.Mutex
	reqs []domain.ChatRequest
}

func (p *echoProvider) Name() string { return "echo" }

func (p *echoProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	last := req.Messages[len(req.Messages)-1]
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: "echo: " + last.Content},
	}, nil
}

func (p *echoProvider) requests() []domain.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ChatRequest(nil), p.reqs...)
}

type gateway struct {
	bots     map[string]*telegramStub
	provider *echoProvider
	orch     *multiagent.Orchestrator
	router   *channel.TelegramRouter
}

func startGateway(t *testing.T) *gateway {
	t.Helper()
	logger := slog.Default()
	ctx := NewTestContext(t, 30*time.Second)

	g := &gateway{
		bots: map[string]*telegramStub{
			"111:sales":   {username: "sales_bot"},
			"222:support": {username: "support_bot"},
		},
		provider: &echoProvider{},
	}
	factory := func(token string, handler bot.HandlerFunc) (channel.BotAPI, error) {
		stub := g.bots[token]
		stub.mu.Lock()
		stub.handler = handler
		stub.mu.Unlock()
		return stub, nil
	}

	cfg := &config.MultiBotConfig{Bots: []config.InstanceConfig{
		{
			ID:        "sales",
			Name:      "Sales Bot",
			Workspace: t.TempDir(),
			Channels: config.ChannelConfig{
				TelegramEnabled: true,
				TelegramToken:   "111:sales",
			},
		},
		{
			ID:        "support",
			Name:      "Support Bot",
			Workspace: t.TempDir(),
			Channels: config.ChannelConfig{
				TelegramEnabled:   true,
				TelegramToken:     "222:support",
				TelegramAllowFrom: config.StringList{"42"},
			},
		},
	}}

	bus := eventbus.New(logger)
	g.orch = multiagent.NewOrchestrator(cfg, multiagent.Deps{
		Bus: bus,
		AgentFactory: agentloop.NewFactory(g.provider, agentloop.Options{
			HistoryLimit: 10,
			ReplyTimeout: 5 * time.Second,
		}, logger),
	}, logger)
	require.True(t, g.orch.StartAll(ctx).OK())

	g.router = channel.NewTelegramRouter(g.orch, bus, factory, channel.RouterOptions{
		MediaDir: t.TempDir(),
		SendRate: 1000,
	}, logger)
	require.NoError(t, g.router.Start(ctx))

	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, g.router.Stop(stopCtx))
		assert.True(t, g.orch.StopAll(stopCtx).OK())
		bus.Close()
	})
	return g
}

func TestGatewayRepliesThroughOwningBot(t *testing.T) {
	g := startGateway(t)
	sales, support := g.bots["111:sales"], g.bots["222:support"]

	assert.Equal(t, []string{"sales", "support"}, g.router.Connections())

	sales.receive(42, 1001, "hello")

	require.Eventually(t, func() bool { return len(sales.messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	got := sales.messages()[0]
	assert.Equal(t, int64(1001), got.ChatID)
	assert.Equal(t, "echo: hello", got.Text)
	assert.Equal(t, models.ParseModeHTML, got.ParseMode)
	assert.Empty(t, support.messages())

	conv, ok := g.router.Conversation("sales", "42|alice")
	require.True(t, ok)
	assert.Equal(t, "1001", conv)
}

func TestGatewayKeepsHistoryPerConversation(t *testing.T) {
	g := startGateway(t)
	sales := g.bots["111:sales"]

	sales.receive(42, 1001, "first")
	require.Eventually(t, func() bool { return len(sales.messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	sales.receive(42, 1001, "second")
	require.Eventually(t, func() bool { return len(sales.messages()) == 2 }, 5*time.Second, 10*time.Millisecond)
	sales.receive(7, 2002, "other chat")
	require.Eventually(t, func() bool { return len(sales.messages()) == 3 }, 5*time.Second, 10*time.Millisecond)

	reqs := g.provider.requests()
	require.Len(t, reqs, 3)

	// system, user, assistant, user
	second := reqs[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, domain.RoleSystem, second[0].Role)
	assert.Contains(t, second[0].Content, "Sales Bot")
	assert.Equal(t, "first", second[1].Content)
	assert.Equal(t, "echo: first", second[2].Content)
	assert.Equal(t, "second", second[3].Content)

	// A different chat starts without history.
	assert.Len(t, reqs[2].Messages, 2)
}

func TestGatewayEnforcesAllowList(t *testing.T) {
	g := startGateway(t)
	support := g.bots["222:support"]

	support.receive(99, 3003, "let me in")
	require.Eventually(t, func() bool { return len(support.messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, g.provider.requests())
	assert.NotEqual(t, "echo: let me in", support.messages()[0].Text)

	support.receive(42, 3003, "allowed")
	require.Eventually(t, func() bool { return len(support.messages()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "echo: allowed", support.messages()[1].Text)
}

func TestGatewayStartCommandGreetsWithoutAgent(t *testing.T) {
	g := startGateway(t)
	sales := g.bots["111:sales"]

	sales.receive(42, 1001, "/start")
	require.Eventually(t, func() bool { return len(sales.messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, strings.Contains(sales.messages()[0].Text, "Sales Bot"))
	assert.Empty(t, g.provider.requests())
}
