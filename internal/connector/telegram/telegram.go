// Package telegram bridges a Telegram bot to the companion. Each Telegram
// user maps to a session address, so every chat keeps its own transcript.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/oyalabs/sensei/internal/connector"
)

// Config holds Telegram connector configuration.
type Config struct {
	Token     string  // bot token from @BotFather
	AllowFrom []int64 // allowed Telegram user IDs (empty = allow all)
}

// Connector implements connector.Connector for Telegram.
type Connector struct {
	bot    *tgbotapi.BotAPI
	config Config
	bridge *connector.Bridge
	logger *slog.Logger
	cancel context.CancelFunc
}

// New creates a new Telegram connector driving prompts through bridge.
func New(cfg Config, bridge *connector.Bridge, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:    bot,
		config: cfg,
		bridge: bridge,
		logger: logger,
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Start begins long-polling for updates. Blocks until ctx is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			go c.handleUpdate(ctx, update.Message)

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers a message to a Telegram chat, falling back to plain text
// when the HTML rendering is rejected.
func (c *Connector) Send(_ context.Context, msg connector.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat_id %q: %w", msg.ChatID, err)
	}
	if strings.TrimSpace(msg.Content) == "" && msg.AudioFile == "" {
		c.logger.Warn("skipping empty message", "chat_id", msg.ChatID)
		return nil
	}

	if msg.Content != "" {
		tgMsg := tgbotapi.NewMessage(chatID, RenderHTML(msg.Content))
		tgMsg.ParseMode = "HTML"
		tgMsg.DisableWebPagePreview = true

		if _, err = c.bot.Send(tgMsg); err != nil {
			c.logger.Warn("HTML send failed, falling back to plain text", "chat_id", msg.ChatID, "error", err)
			tgMsg.Text = RenderPlain(msg.Content)
			tgMsg.ParseMode = ""
			if _, err = c.bot.Send(tgMsg); err != nil {
				return fmt.Errorf("telegram: send: %w", err)
			}
		}
	}

	if msg.AudioFile != "" {
		voice := tgbotapi.NewVoice(chatID, tgbotapi.FilePath(msg.AudioFile))
		if _, err := c.bot.Send(voice); err != nil {
			c.logger.Warn("voice reply failed", "chat_id", msg.ChatID, "error", err)
		}
	}
	return nil
}

func (c *Connector) handleUpdate(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if len(c.config.AllowFrom) > 0 && !allowed(c.config.AllowFrom, userID) {
		c.logger.Warn("unauthorized user", "user_id", userID, "username", msg.From.UserName)
		return
	}

	if msg.IsCommand() {
		c.handleCommand(msg)
		return
	}

	address := sessionAddress(userID)

	c.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	if msg.Voice != nil || msg.Audio != nil {
		c.handleVoice(ctx, msg, address)
		return
	}

	text := msg.Text
	if text == "" && msg.Caption != "" {
		text = msg.Caption
	}
	if text == "" {
		return
	}

	res, err := c.bridge.Ask(ctx, address, text)
	if err != nil {
		c.logger.Error("prompt failed", "chat_id", chatID, "error", err)
		c.reply(chatID, "Sorry, something went wrong handling that message.")
		return
	}

	c.Send(ctx, connector.OutboundMessage{
		ChatID:    strconv.FormatInt(chatID, 10),
		Content:   res.Reply,
		AudioFile: res.AudioFile,
	})
}

func (c *Connector) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		c.reply(msg.Chat.ID, "Hello! Send me a message or a voice note and I'll answer.")
	case "help":
		c.reply(msg.Chat.ID, strings.Join([]string{
			"Available commands:",
			"/start — Start the bot",
			"/help — Show this help message",
			"",
			"Just send me a message or a voice note to chat!",
		}, "\n"))
	default:
		c.reply(msg.Chat.ID, "Unknown command. Try /help.")
	}
}

func (c *Connector) reply(chatID int64, text string) {
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		c.logger.Warn("reply failed", "chat_id", chatID, "error", err)
	}
}

func sessionAddress(userID int64) string {
	return "telegram:" + strconv.FormatInt(userID, 10)
}

func allowed(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
