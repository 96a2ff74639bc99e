package channel

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// BotAPI is the part of the Telegram Bot API the router uses. *bot.Bot
// satisfies it.
type BotAPI interface {
	// Start long-polls for updates until ctx is cancelled.
	Start(ctx context.Context)
	GetMe(ctx context.Context) (*models.User, error)
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
}

// BotFactory creates one connection for token. Every update the connection
// receives is passed to handler.
type BotFactory func(token string, handler bot.HandlerFunc) (BotAPI, error)

// NewBotFactory returns a factory backed by go-telegram/bot. GetMe is left
// to the router so a bad token is reported per instance.
func NewBotFactory(opts ...bot.Option) BotFactory {
	return func(token string, handler bot.HandlerFunc) (BotAPI, error) {
		all := append([]bot.Option{
			bot.WithDefaultHandler(handler),
			bot.WithSkipGetMe(),
		}, opts...)
		b, err := bot.New(token, all...)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

var _ BotAPI = (*bot.Bot)(nil)
