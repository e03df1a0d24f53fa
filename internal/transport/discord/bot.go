package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"quizzer/internal/app"
	"quizzer/internal/domain"
	"quizzer/internal/logger"
	"quizzer/internal/security"
)

const (
	defaultPrefix    = "!"
	outboxSize       = 256
	leaderboardLimit = 10
)

// Config configures the Discord transport.
type Config struct {
	Token  string
	Prefix string
	// Channels limits the bot to these channel IDs. Empty means every channel.
	Channels []string
	// Admins are user IDs or usernames allowed to stop a quiz.
	Admins        []string
	Category      string
	QuestionCount int
	TimeLimit     time.Duration
}

type sender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type outgoing struct {
	channel string
	text    string
}

// Bot drives quizzes from Discord text channels and renders engine events
// back into them. It only speaks in channels whose session it started.
type Bot struct {
	session *discordgo.Session
	send    sender
	engine  *app.Engine
	cfg     Config
	admins  map[string]bool
	allowed map[string]bool
	outbox  chan outgoing

	mu          sync.Mutex
	owned       map[string]bool
	current     map[string]int
	interrupted map[string]string
}

// New creates a gateway session. Call Run to connect.
func New(cfg Config, engine *app.Engine) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is empty")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuildMessages | discordgo.IntentMessageContent

	b := newBot(cfg, engine, session)
	b.session = session
	session.AddHandler(b.onMessage)
	session.AddHandler(b.onDisconnect)
	session.AddHandler(b.onReady)
	session.AddHandler(b.onResumed)
	return b, nil
}

func newBot(cfg Config, engine *app.Engine, send sender) *Bot {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.Category == "" {
		cfg.Category = "random"
	}
	b := &Bot{
		send:        send,
		engine:      engine,
		cfg:         cfg,
		admins:      make(map[string]bool, len(cfg.Admins)),
		allowed:     make(map[string]bool, len(cfg.Channels)),
		outbox:      make(chan outgoing, outboxSize),
		owned:       make(map[string]bool),
		current:     make(map[string]int),
		interrupted: make(map[string]string),
	}
	for _, a := range cfg.Admins {
		b.admins[strings.TrimSpace(a)] = true
	}
	for _, c := range cfg.Channels {
		b.allowed[strings.TrimSpace(c)] = true
	}
	return b
}

// Run opens the gateway connection and delivers messages until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	logger.Info("discord bot connected", "prefix", b.cfg.Prefix, "channels", len(b.allowed))

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.deliver(ctx)
	}()

	<-ctx.Done()
	<-done
	return b.session.Close()
}

func (b *Bot) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.outbox:
			if _, err := b.send.ChannelMessageSend(msg.channel, msg.text); err != nil {
				logger.Warn("discord send failed", "channel", msg.channel, "error", err)
			}
		}
	}
}

func (b *Bot) enqueue(channel, text string) {
	if text == "" {
		return
	}
	select {
	case b.outbox <- outgoing{channel: channel, text: text}:
	default:
		logger.Warn("discord outbox full, dropping message", "channel", channel)
	}
}

// Notify satisfies app.Notifier. Events for channels the bot did not start
// are ignored.
func (b *Bot) Notify(_ context.Context, event domain.Event) {
	channel := event.ChannelID()

	b.mu.Lock()
	if !b.owned[channel] {
		b.mu.Unlock()
		return
	}
	switch e := event.(type) {
	case domain.EventQuestionAsked:
		b.current[channel] = e.Index
	case domain.EventSessionEnded:
		delete(b.current, channel)
		delete(b.owned, channel)
	case domain.EventSessionCancelled:
		delete(b.current, channel)
		delete(b.owned, channel)
		if e.Reason == domain.CancelTransportLost {
			// the gateway is down; tell the channel once it is back
			b.interrupted[channel] = FormatEvent(e)
			b.mu.Unlock()
			return
		}
	}
	b.mu.Unlock()

	b.enqueue(channel, FormatEvent(event))
}

func (b *Bot) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if len(b.allowed) > 0 && !b.allowed[m.ChannelID] {
		return
	}
	cmd, ok := parseCommand(b.cfg.Prefix, m.Content)
	if !ok {
		return
	}
	identity := security.SanitizeIdentity(m.Author.Username)
	if identity == "" {
		return
	}
	admin := b.admins[m.Author.ID] || b.admins[m.Author.Username]
	b.enqueue(m.ChannelID, b.handle(context.Background(), m.ChannelID, identity, admin, cmd))
}

// onDisconnect cancels every quiz the bot is running; a game cannot be
// resumed once players lost the question stream.
func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.mu.Lock()
	channels := make([]string, 0, len(b.owned))
	for ch := range b.owned {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		logger.Warn("discord connection lost, cancelling quiz", "channel", ch)
		if err := b.engine.TransportLost(context.Background(), ch); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			logger.Warn("cancel quiz after disconnect", "channel", ch, "error", err)
		}
	}
}

func (b *Bot) onReady(_ *discordgo.Session, _ *discordgo.Ready) { b.flushInterrupted() }

func (b *Bot) onResumed(_ *discordgo.Session, _ *discordgo.Resumed) { b.flushInterrupted() }

func (b *Bot) flushInterrupted() {
	b.mu.Lock()
	pending := b.interrupted
	b.interrupted = make(map[string]string)
	b.mu.Unlock()

	for ch, text := range pending {
		b.enqueue(ch, text)
	}
}

func (b *Bot) handle(ctx context.Context, channel, identity string, admin bool, cmd command) string {
	switch cmd.name {
	case "start":
		return b.start(ctx, channel, cmd.args)
	case "join":
		added, err := b.engine.Join(ctx, channel, identity)
		switch {
		case errors.Is(err, domain.ErrNotJoinable):
			return "There is no quiz to join right now. Type `!start` to begin one."
		case err != nil:
			logger.Warn("join failed", "channel", channel, "identity", identity, "error", err)
			return "Could not join the quiz."
		case !added:
			return fmt.Sprintf("%s, you have already joined.", identity)
		}
		return ""
	case "a":
		return b.answer(ctx, channel, identity, cmd.args)
	case "stop":
		if !admin {
			return "Only admins can stop the quiz."
		}
		err := b.engine.StopGame(ctx, channel)
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			return "No quiz is running."
		case errors.Is(err, domain.ErrNotStoppable):
			return "The quiz is already finishing."
		case err != nil:
			logger.Warn("stop failed", "channel", channel, "error", err)
			return "Could not stop the quiz."
		}
		return ""
	case "leaderboard":
		records, err := b.engine.Leaderboard(ctx, leaderboardLimit)
		if err != nil {
			logger.Warn("leaderboard failed", "error", err)
			return "The leaderboard is unavailable right now."
		}
		return formatLeaderboard(records)
	case "categories":
		categories, err := b.engine.Categories(ctx)
		if err != nil {
			logger.Warn("list categories failed", "error", err)
			return "Categories are unavailable right now."
		}
		return formatCategories(categories)
	case "status":
		snap, err := b.engine.Snapshot(ctx, channel)
		if err != nil {
			return "No quiz is running."
		}
		return formatSnapshot(snap)
	case "help":
		return helpText
	}
	return ""
}

func (b *Bot) start(ctx context.Context, channel string, args []string) string {
	category := security.SanitizeString(strings.Join(args, " "))
	if category == "" {
		category = b.cfg.Category
	}

	b.mu.Lock()
	wasOwned := b.owned[channel]
	b.owned[channel] = true
	b.mu.Unlock()

	_, err := b.engine.StartSession(ctx, channel, app.StartOptions{
		Category:      category,
		QuestionCount: b.cfg.QuestionCount,
		TimeLimit:     b.cfg.TimeLimit,
	})
	if err == nil {
		return ""
	}
	if !wasOwned {
		b.mu.Lock()
		delete(b.owned, channel)
		b.mu.Unlock()
	}
	switch {
	case errors.Is(err, domain.ErrSessionAlreadyActive):
		return "A quiz is already running in this channel."
	case errors.Is(err, domain.ErrCategoryNotFound):
		return fmt.Sprintf("Unknown category '%s'. Type `!categories` to see what is available.", category)
	case errors.Is(err, domain.ErrInsufficientQuestions):
		return fmt.Sprintf("Not enough questions in '%s' for a full quiz.", category)
	}
	logger.Warn("start failed", "channel", channel, "category", category, "error", err)
	return "Could not start the quiz."
}

func (b *Bot) answer(ctx context.Context, channel, identity string, args []string) string {
	if len(args) == 0 {
		return "Usage: `!a <letter>`"
	}
	b.mu.Lock()
	index, ok := b.current[channel]
	b.mu.Unlock()
	if !ok {
		return ""
	}

	sub, err := b.engine.Submit(ctx, channel, identity, index, args[0])
	if err == nil {
		return fmt.Sprintf("%s locked in %s.", identity, sub.ChosenOption)
	}
	switch domain.RejectReason(err) {
	case domain.ReasonRateLimited:
		return fmt.Sprintf("%s, please wait before sending another answer.", identity)
	case domain.ReasonNotAParticipant:
		return fmt.Sprintf("%s, you did not join this quiz.", identity)
	case domain.ReasonDeadlinePassed, domain.ReasonWrongQuestion:
		return fmt.Sprintf("%s, too late for that question.", identity)
	}
	// duplicates and answers to finished games are ignored silently
	return ""
}
