package handlers

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/i18n"
	"github.com/vendora-assistant-go/internal/middleware"
	"github.com/vendora-assistant-go/internal/models"
	"github.com/vendora-assistant-go/internal/services/conversation"
	"github.com/vendora-assistant-go/pkg/markdown"
)

// TelegramHandler serves the telegram channel over long polling.
type TelegramHandler struct {
	bot           *tgbotapi.BotAPI
	engine        *conversation.Engine
	limiter       middleware.RateLimiter
	localizer     *i18n.Localizer
	metrics       *middleware.Metrics
	logger        *logrus.Logger
	updateTimeout int
}

// NewTelegramHandler creates the Telegram channel handler.
func NewTelegramHandler(bot *tgbotapi.BotAPI, engine *conversation.Engine, limiter middleware.RateLimiter, localizer *i18n.Localizer, metrics *middleware.Metrics, logger *logrus.Logger, updateTimeout int) *TelegramHandler {
	return &TelegramHandler{
		bot:           bot,
		engine:        engine,
		limiter:       limiter,
		localizer:     localizer,
		metrics:       metrics,
		logger:        logger,
		updateTimeout: updateTimeout,
	}
}

// Run consumes updates until the context is cancelled.
func (h *TelegramHandler) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = h.updateTimeout
	updates := h.bot.GetUpdatesChan(u)

	h.logger.WithField("username", h.bot.Self.UserName).Info("Telegram channel listening")

	for {
		select {
		case <-ctx.Done():
			h.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			if update.Message.From.ID == h.bot.Self.ID {
				continue
			}
			h.handleUpdate(ctx, update.Message)
		}
	}
}

func (h *TelegramHandler) handleUpdate(ctx context.Context, msg *tgbotapi.Message) {
	subject := subjectFromTelegram(msg)

	if msg.IsCommand() {
		h.handleCommand(ctx, msg, subject)
		return
	}

	if len(msg.Text) > maxMessageBytes {
		h.send(msg.Chat.ID, h.localizer.Get(subject.Language, i18n.MsgMessageTooLong, nil))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(subject.QuotaKey()) {
		h.metrics.RecordRateLimitExceeded()
		h.send(msg.Chat.ID, h.localizer.Get(subject.Language, i18n.MsgRateLimitExceeded, nil))
		return
	}

	// Show typing while the turn runs.
	if _, err := h.bot.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		h.logger.WithError(err).Debug("Failed to send typing action")
	}

	reply := h.engine.HandleMessage(ctx, &conversation.Request{
		Subject:     subject,
		Counterpart: counterpartFromChat(msg.Chat),
		Channel:     models.ChannelTelegram,
		Text:        msg.Text,
	})

	h.send(msg.Chat.ID, reply.Message)
}

func (h *TelegramHandler) handleCommand(ctx context.Context, msg *tgbotapi.Message, subject models.Subject) {
	switch msg.Command() {
	case "new":
		if _, err := h.engine.NewConversation(ctx, subject, counterpartFromChat(msg.Chat), models.ChannelTelegram); err != nil {
			h.logger.WithError(err).Error("Failed to start new conversation")
			h.send(msg.Chat.ID, h.localizer.Get(subject.Language, i18n.MsgGenericError, nil))
			return
		}
		h.send(msg.Chat.ID, h.localizer.Get(subject.Language, i18n.MsgNewConversation, nil))
	case "start":
		h.send(msg.Chat.ID, h.localizer.Get(subject.Language, i18n.MsgNewConversation, nil))
	default:
		// Unknown commands are treated as silence, not errors.
	}
}

// send renders markdown to Telegram HTML, falling back to plain text if
// Telegram rejects the markup.
func (h *TelegramHandler) send(chatID int64, text string) {
	if text == "" {
		return
	}

	reply := tgbotapi.NewMessage(chatID, markdown.ToTelegramHTML(text))
	reply.ParseMode = tgbotapi.ModeHTML
	if _, err := h.bot.Send(reply); err != nil {
		h.logger.WithError(err).Warn("HTML send failed, retrying as plain text")
		plain := tgbotapi.NewMessage(chatID, text)
		if _, err := h.bot.Send(plain); err != nil {
			h.logger.WithError(err).Error("Failed to send Telegram reply")
		}
	}
}

// subjectFromTelegram maps the Telegram sender onto a vendor subject.
// Telegram has no client-side auth; the numeric user ID is the account.
func subjectFromTelegram(msg *tgbotapi.Message) models.Subject {
	return models.Subject{
		ID:       "tg-" + strconv.FormatInt(msg.From.ID, 10),
		Language: msg.From.LanguageCode,
	}
}

// counterpartFromChat maps non-private chats onto a contact counterpart.
// Private chats with the bot use the vendor's general thread.
func counterpartFromChat(chat *tgbotapi.Chat) *models.Counterpart {
	if chat == nil || chat.IsPrivate() {
		return nil
	}
	return &models.Counterpart{
		Kind:        models.CounterpartContact,
		ID:          strconv.FormatInt(chat.ID, 10),
		DisplayName: chat.Title,
	}
}
