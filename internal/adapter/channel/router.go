package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"botgate/internal/domain"
	"botgate/internal/infra/tracer"
)

const (
	rejectionNotice = "⚠️ You're not authorized to use this bot."
	emptyMessage    = "[empty message]"
	greetingFormat  = "👋 Hi %s! I'm %s.\n\nSend me a message and I'll respond!"

	defaultSendRate  = 25
	defaultSendBurst = 5
	getMeTimeout     = 15 * time.Second
)

// Inbound outcomes and outbound statuses reported to the Observer.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeCommand  = "command"
	OutcomeError    = "error"

	StatusOK       = "ok"
	StatusFallback = "fallback"
	StatusFailed   = "failed"
	StatusDropped  = "dropped"
)

// Observer is told about every inbound update and outbound delivery.
type Observer interface {
	Inbound(instance, outcome string)
	Outbound(instance, status string, elapsed time.Duration)
}

// RouterOptions tunes a TelegramRouter. Zero values get defaults.
type RouterOptions struct {
	MediaDir   string
	SendRate   float64 // messages per second per connection
	SendBurst  int
	HTTPClient *http.Client // media downloads
	Observer   Observer
}

// connection is one Telegram bot bound to one instance.
type connection struct {
	instanceID string
	api        BotAPI
	limiter    *rate.Limiter
	cancel     context.CancelFunc
	done       chan struct{}
	username   string
	state      atomic.Int32
}

func (c *connection) State() ConnState { return ConnState(c.state.Load()) }

func (c *connection) transition(to ConnState) error {
	for {
		from := c.State()
		if !CanTransition(from, to) {
			return fmt.Errorf("connection %s: illegal transition %s -> %s", c.instanceID, from, to)
		}
		if c.state.CompareAndSwap(int32(from), int32(to)) {
			return nil
		}
	}
}

// handlerRecord binds updates from one connection to one instance. The
// router only dispatches through records still present in its table.
type handlerRecord struct {
	instanceID string
	router     *TelegramRouter
}

func (h *handlerRecord) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	h.router.dispatch(ctx, h, update)
}

// TelegramRouter runs one Telegram connection per instance. Inbound updates
// go to the owning instance; outbound bus events are sent on the
// connection named by their routing key.
type TelegramRouter struct {
	registry domain.EndpointRegistry
	bus      domain.EventBus
	factory  BotFactory
	opts     RouterOptions
	logger   *slog.Logger

	mu            sync.RWMutex
	started       bool
	conns         map[string]*connection
	tokens        map[string]string
	handlers      map[string]*handlerRecord
	conversations map[string]map[string]string // instance -> sender -> chat id
	unsubscribe   func()
}

// NewTelegramRouter creates a router. registry is used for lookups only.
func NewTelegramRouter(registry domain.EndpointRegistry, bus domain.EventBus, factory BotFactory, opts RouterOptions, logger *slog.Logger) *TelegramRouter {
	if opts.SendRate <= 0 {
		opts.SendRate = defaultSendRate
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = defaultSendBurst
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	r := &TelegramRouter{
		registry: registry,
		bus:      bus,
		factory:  factory,
		opts:     opts,
		logger:   logger.With("component", "telegram_router"),
	}
	r.reset()
	return r
}

func (r *TelegramRouter) reset() {
	r.conns = make(map[string]*connection)
	r.tokens = make(map[string]string)
	r.handlers = make(map[string]*handlerRecord)
	r.conversations = make(map[string]map[string]string)
}

// Start subscribes to outbound events, then opens a connection for every
// instance that has a token. A failing instance is logged and skipped.
func (r *TelegramRouter) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		r.logger.Warn("router already started")
		return nil
	}
	r.started = true
	r.unsubscribe = r.bus.Subscribe(domain.EventMessageOutbound, "", r.onOutbound)
	r.mu.Unlock()

	for _, ep := range r.registry.Endpoints() {
		if ep.TelegramToken() == "" {
			r.logger.Warn("instance has no telegram token, skipping", "instance_id", ep.ID())
			continue
		}
		if err := r.connect(ctx, ep); err != nil {
			r.logger.Error("telegram connection failed", "instance_id", ep.ID(), "error", err)
		}
	}

	r.mu.Lock()
	n := len(r.conns)
	r.mu.Unlock()

	r.logger.Info("telegram router started", "connections", n)
	return nil
}

func (r *TelegramRouter) connect(ctx context.Context, ep domain.ChatEndpoint) error {
	id := ep.ID()
	conn := &connection{
		instanceID: id,
		limiter:    rate.NewLimiter(rate.Limit(r.opts.SendRate), r.opts.SendBurst),
		done:       make(chan struct{}),
	}
	if err := conn.transition(StateConnecting); err != nil {
		return err
	}

	rec := &handlerRecord{instanceID: id, router: r}
	api, err := r.factory(ep.TelegramToken(), rec.Handle)
	if err != nil {
		conn.transition(StateStopped)
		return fmt.Errorf("create bot: %w", err)
	}
	conn.api = api

	meCtx, cancel := context.WithTimeout(ctx, getMeTimeout)
	me, err := api.GetMe(meCtx)
	cancel()
	if err != nil {
		conn.transition(StateStopped)
		return fmt.Errorf("get me: %w", err)
	}
	conn.username = me.Username

	// Updates queued while the gateway was down are not answered.
	if _, err := api.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
		r.logger.Warn("drop pending updates failed", "instance_id", id, "error", err)
	}

	r.mu.Lock()
	if old, dup := r.tokens[ep.TelegramToken()]; dup {
		r.mu.Unlock()
		conn.transition(StateStopped)
		return fmt.Errorf("%w: token already bound to %s", domain.ErrDuplicate, old)
	}
	connCtx, connCancel := context.WithCancel(ctx)
	conn.cancel = connCancel
	r.conns[id] = conn
	r.tokens[ep.TelegramToken()] = id
	r.handlers[id] = rec
	r.conversations[id] = make(map[string]string)
	r.mu.Unlock()

	if err := conn.transition(StateRunning); err != nil {
		return err
	}
	go func() {
		defer close(conn.done)
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("telegram polling panicked", "instance_id", id, "panic", p)
			}
		}()
		api.Start(connCtx)
	}()

	r.logger.Info("telegram bot connected", "instance_id", id, "username", me.Username)
	return nil
}

// Stop cancels every connection and waits for polling to end or ctx to
// expire. All bookkeeping is cleared even when a connection fails to stop.
func (r *TelegramRouter) Stop(ctx context.Context) error {
	r.mu.Lock()
	conns := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	unsub := r.unsubscribe
	r.unsubscribe = nil
	r.started = false
	r.reset()
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	var errs []error
	for _, c := range conns {
		if err := c.transition(StateStopping); err != nil {
			errs = append(errs, err)
			continue
		}
		c.cancel()
	}
	for _, c := range conns {
		if c.State() != StateStopping {
			continue
		}
		select {
		case <-c.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("connection %s: %w", c.instanceID, ctx.Err()))
		}
		c.transition(StateStopped)
		r.logger.Info("telegram bot stopped", "instance_id", c.instanceID)
	}
	return errors.Join(errs...)
}

// State returns the state of an instance's connection.
func (r *TelegramRouter) State(instanceID string) (ConnState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[instanceID]
	if !ok {
		return StateUninitialized, false
	}
	return c.State(), true
}

// Connections returns the ids of instances with an open connection, sorted.
func (r *TelegramRouter) Connections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// InstanceForToken resolves a bot token to its instance.
func (r *TelegramRouter) InstanceForToken(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.tokens[token]
	return id, ok
}

// Conversation returns the last chat id seen from sender on an instance.
func (r *TelegramRouter) Conversation(instanceID, sender string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chat, ok := r.conversations[instanceID][sender]
	return chat, ok
}

func (r *TelegramRouter) dispatch(ctx context.Context, rec *handlerRecord, update *models.Update) {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return
	}
	r.mu.RLock()
	current := r.handlers[rec.instanceID]
	conn := r.conns[rec.instanceID]
	r.mu.RUnlock()
	if current != rec || conn == nil {
		r.logger.Debug("update for unregistered handler dropped", "instance_id", rec.instanceID)
		return
	}
	r.handleMessage(ctx, conn, update.Message)
}

func (r *TelegramRouter) handleMessage(ctx context.Context, conn *connection, msg *models.Message) {
	id := conn.instanceID
	ctx, span := tracer.StartSpan(ctx, "channel.inbound")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("instance.id", id),
		tracer.BoolAttr("message.has_media", hasMedia(msg)),
	)

	ep, ok := r.registry.Endpoint(id)
	if !ok {
		r.logger.Error("no instance for connection", "instance_id", id)
		r.observeInbound(id, OutcomeError)
		tracer.RecordError(span, domain.ErrUnknownInstance)
		return
	}

	if cmd, ok := commandOf(msg.Text); ok {
		if cmd == "start" {
			greeting := fmt.Sprintf(greetingFormat, msg.From.FirstName, ep.DisplayName())
			if err := r.send(ctx, conn, msg.Chat.ID, greeting, ""); err != nil {
				r.logger.Warn("greeting failed", "instance_id", id, "error", err)
			}
		}
		r.observeInbound(id, OutcomeCommand)
		return
	}

	sender := SenderID(msg.From.ID, msg.From.Username)
	if !Allowed(ep.AllowFrom(), msg.From.ID, msg.From.Username) {
		r.logger.Warn("sender not in allow list, ignoring", "instance_id", id, "sender_id", sender)
		if err := r.send(ctx, conn, msg.Chat.ID, rejectionNotice, ""); err != nil {
			r.logger.Warn("rejection notice failed", "instance_id", id, "error", err)
		}
		r.observeInbound(id, OutcomeRejected)
		tracer.RecordError(span, domain.ErrNotAuthorized)
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	r.mu.Lock()
	if convs, ok := r.conversations[id]; ok {
		convs[sender] = chatID
	}
	r.mu.Unlock()

	content, media := r.assemble(ctx, conn, msg)
	inbound := domain.InboundMessage{
		InstanceID:     id,
		Channel:        domain.ChannelTelegram,
		SenderID:       sender,
		ConversationID: chatID,
		RoutingKey:     domain.NewRoutingKey(domain.ChannelTelegram, id, chatID),
		Content:        content,
		Media:          media,
		Metadata: map[string]string{
			"message_id": strconv.Itoa(msg.ID),
			"user_id":    strconv.FormatInt(msg.From.ID, 10),
			"username":   msg.From.Username,
			"first_name": msg.From.FirstName,
			"bot_id":     id,
			"is_group":   strconv.FormatBool(msg.Chat.Type != models.ChatTypePrivate),
		},
	}
	if err := ep.ProcessMessage(ctx, inbound); err != nil {
		r.logger.Error("instance rejected message", "instance_id", id, "error", err)
		r.observeInbound(id, OutcomeError)
		tracer.RecordError(span, err)
		return
	}
	r.observeInbound(id, OutcomeAccepted)
	tracer.SetOK(span)
}

// assemble joins text, caption and the media marker. A failed download
// leaves a marker saying so.
func (r *TelegramRouter) assemble(ctx context.Context, conn *connection, msg *models.Message) (string, []string) {
	var parts, media []string
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	if msg.Caption != "" {
		parts = append(parts, msg.Caption)
	}
	if ref, ok := attachmentOf(msg); ok {
		path, err := download(ctx, conn.api, r.opts.HTTPClient, r.opts.MediaDir, ref)
		if err != nil {
			r.logger.Error("media download failed", "instance_id", conn.instanceID, "kind", ref.kind, "error", err)
			parts = append(parts, fmt.Sprintf("[%s: download failed]", ref.kind))
		} else {
			media = append(media, path)
			parts = append(parts, fmt.Sprintf("[%s: %s]", ref.kind, path))
		}
	}
	if len(parts) == 0 {
		return emptyMessage, media
	}
	return strings.Join(parts, "\n"), media
}

func (r *TelegramRouter) onOutbound(ctx context.Context, ev domain.Event) {
	if ev.Outbound == nil {
		return
	}
	// Deliver logs its own failures.
	_ = r.Deliver(ctx, *ev.Outbound)
}

// Deliver sends out on the connection named by its routing key. Content is
// sent as HTML first and retried once as plain text. Malformed keys,
// foreign transports and unknown instances are dropped.
func (r *TelegramRouter) Deliver(ctx context.Context, out domain.OutboundMessage) (err error) {
	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "channel.deliver")
	defer func() {
		if err != nil {
			tracer.RecordError(span, err)
		} else {
			tracer.SetOK(span)
		}
		span.End()
	}()
	span.SetAttributes(tracer.StringAttr("routing.key", out.RoutingKey.String()))

	route, err := out.RoutingKey.Parse()
	if err != nil {
		r.logger.Error("outbound dropped: bad routing key", "routing_key", out.RoutingKey, "error", err)
		r.observeOutbound(out.InstanceID, StatusDropped, start)
		return err
	}
	if route.Transport != domain.ChannelTelegram {
		r.logger.Error("outbound dropped: foreign transport", "routing_key", out.RoutingKey)
		r.observeOutbound(route.InstanceID, StatusDropped, start)
		return fmt.Errorf("%w: transport %q is not telegram", domain.ErrInvalidRoutingKey, route.Transport)
	}

	r.mu.RLock()
	conn := r.conns[route.InstanceID]
	r.mu.RUnlock()
	if conn == nil || conn.State() != StateRunning {
		r.logger.Error("outbound dropped: no connection for instance", "instance_id", route.InstanceID)
		r.observeOutbound(route.InstanceID, StatusDropped, start)
		return fmt.Errorf("%w: %s", domain.ErrUnknownInstance, route.InstanceID)
	}
	chatID, err := strconv.ParseInt(route.ConversationID, 10, 64)
	if err != nil {
		r.logger.Error("outbound dropped: invalid chat id", "routing_key", out.RoutingKey)
		r.observeOutbound(route.InstanceID, StatusDropped, start)
		return fmt.Errorf("%w: chat id %q", domain.ErrInvalidRoutingKey, route.ConversationID)
	}

	htmlErr := r.send(ctx, conn, chatID, MarkdownToTelegramHTML(out.Content), models.ParseModeHTML)
	if htmlErr == nil {
		r.observeOutbound(route.InstanceID, StatusOK, start)
		return nil
	}
	r.logger.Warn("html send failed, falling back to plain text", "instance_id", route.InstanceID, "error", htmlErr)

	if err := r.send(ctx, conn, chatID, out.Content, ""); err != nil {
		r.logger.Error("telegram send failed", "instance_id", route.InstanceID, "chat_id", chatID, "error", err)
		r.observeOutbound(route.InstanceID, StatusFailed, start)
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}
	r.observeOutbound(route.InstanceID, StatusFallback, start)
	return nil
}

func (r *TelegramRouter) send(ctx context.Context, conn *connection, chatID int64, text string, mode models.ParseMode) error {
	if err := conn.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	_, err := conn.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: mode,
	})
	return err
}

func (r *TelegramRouter) observeInbound(instance, outcome string) {
	if r.opts.Observer != nil {
		r.opts.Observer.Inbound(instance, outcome)
	}
}

func (r *TelegramRouter) observeOutbound(instance, status string, start time.Time) {
	if r.opts.Observer != nil {
		r.opts.Observer.Outbound(instance, status, time.Since(start))
	}
}

// commandOf returns the command name of "/name@bot args".
func commandOf(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), true
}

func hasMedia(msg *models.Message) bool {
	_, ok := attachmentOf(msg)
	return ok
}
