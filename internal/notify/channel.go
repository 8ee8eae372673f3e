package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Channel は通知の送信先を表すインターフェース。
type Channel interface {
	// Send は本文を送信してメッセージIDを返す。replyToが0以外の場合はそのメッセージへの返信とする。
	Send(ctx context.Context, text string, replyTo int64) (int64, error)

	// Edit は送信済みメッセージの本文を置き換える。
	Edit(ctx context.Context, messageID int64, text string) error
}

// TelegramChannel はTelegram Bot API経由でチャンネルに投稿する。
type TelegramChannel struct {
	bot      *tgbotapi.BotAPI
	chatID   int64
	username string
	logger   *slog.Logger
}

var _ Channel = (*TelegramChannel)(nil)

// NewTelegramChannel はTelegramChannelを生成する。
// channelは "@username" または数値のチャットID。
func NewTelegramChannel(bot *tgbotapi.BotAPI, channel string, logger *slog.Logger) (*TelegramChannel, error) {
	c := &TelegramChannel{bot: bot, logger: logger}
	switch {
	case strings.HasPrefix(channel, "@") && len(channel) > 1:
		c.username = channel
	default:
		id, err := strconv.ParseInt(channel, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("チャンネルIDが不正です: %q", channel)
		}
		c.chatID = id
	}
	return c, nil
}

// NewBot はBot APIクライアントを生成する。apiEndpointが空の場合は公式APIを使用する。
func NewBot(token, apiEndpoint string, client tgbotapi.HTTPClient) (*tgbotapi.BotAPI, error) {
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("Telegram Botの初期化に失敗しました: %w", err)
	}
	return bot, nil
}

// Send は本文をHTMLモードで送信する。
func (c *TelegramChannel) Send(ctx context.Context, text string, replyTo int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.MessageConfig{
		BaseChat: tgbotapi.BaseChat{
			ChatID:                   c.chatID,
			ChannelUsername:          c.username,
			ReplyToMessageID:         int(replyTo),
			AllowSendingWithoutReply: true,
		},
		Text:      text,
		ParseMode: tgbotapi.ModeHTML,
	}
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("メッセージの送信に失敗しました: %w", err)
	}
	c.logger.Debug("メッセージを送信しました", slog.Int("message_id", sent.MessageID))
	return int64(sent.MessageID), nil
}

// Edit は送信済みメッセージの本文を置き換える。内容が同一の場合は成功として扱う。
func (c *TelegramChannel) Edit(ctx context.Context, messageID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.EditMessageTextConfig{
		BaseEdit: tgbotapi.BaseEdit{
			ChatID:          c.chatID,
			ChannelUsername: c.username,
			MessageID:       int(messageID),
		},
		Text:      text,
		ParseMode: tgbotapi.ModeHTML,
	}
	if _, err := c.bot.Request(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("メッセージの編集に失敗しました: %w", err)
	}
	return nil
}
