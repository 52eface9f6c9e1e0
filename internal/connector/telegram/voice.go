package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/oyalabs/sensei/internal/connector"
)

// Telegram caps voice notes at 20MB; leave headroom.
const maxVoiceDownload = 25 << 20

// handleVoice downloads the voice note and submits it as an audio prompt.
// Transcription and synthesis happen inside the companion worker.
func (c *Connector) handleVoice(ctx context.Context, msg *tgbotapi.Message, address string) {
	chatID := msg.Chat.ID

	audio, err := c.downloadVoice(ctx, msg)
	if err != nil {
		c.logger.Error("voice download failed", "chat_id", chatID, "error", err)
		c.reply(chatID, "Sorry, I couldn't fetch that voice message.")
		return
	}

	res, err := c.bridge.AskAudio(ctx, address, audio, "voice.ogg")
	if err != nil {
		c.logger.Error("voice prompt failed", "chat_id", chatID, "error", err)
		c.reply(chatID, "Sorry, I couldn't process that voice message.")
		return
	}

	c.Send(ctx, connector.OutboundMessage{
		ChatID:    strconv.FormatInt(chatID, 10),
		Content:   VoiceCaption(res.Transcribed, res.Reply),
		AudioFile: res.AudioFile,
	})
}

func (c *Connector) downloadVoice(ctx context.Context, msg *tgbotapi.Message) ([]byte, error) {
	var fileID string
	switch {
	case msg.Voice != nil:
		fileID = msg.Voice.FileID
	case msg.Audio != nil:
		fileID = msg.Audio.FileID
	default:
		return nil, fmt.Errorf("no voice or audio in message")
	}

	fileURL, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file URL: %w", err)
	}
	return downloadFile(ctx, fileURL)
}

func downloadFile(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxVoiceDownload))
}
