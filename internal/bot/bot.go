package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"prokat-bot/internal/dialog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// RateLimiter guards against event floods per identity.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, identity string, limit int64, window time.Duration) (bool, error)
}

const (
	floodLimit  = 20
	floodWindow = 10 * time.Second

	queueCapacity = 16
)

const msgTooManyRequests = "Слишком много запросов. Подождите немного."

// Bot is the Telegram transport adapter. It turns updates into dialog
// events, serializes them per chat and renders the machine's responses.
type Bot struct {
	bot           *tgbotapi.BotAPI
	machine       *dialog.Machine
	limiter       RateLimiter
	logger        *zap.Logger
	handleTimeout time.Duration

	queue *dispatcher
}

func New(
	token string,
	machine *dialog.Machine,
	limiter RateLimiter,
	handleTimeout time.Duration,
	logger *zap.Logger,
) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	logger.Info("Bot authorized",
		zap.String("username", botAPI.Self.UserName),
		zap.Int64("id", botAPI.Self.ID))

	b := &Bot{
		bot:           botAPI,
		machine:       machine,
		limiter:       limiter,
		logger:        logger,
		handleTimeout: handleTimeout,
	}
	b.queue = newDispatcher(b.process, logger)
	return b, nil
}

func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting bot")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Shutting down bot")
			b.bot.StopReceivingUpdates()
			b.queue.wait()
			return nil

		case update := <-updates:
			if update.Message != nil {
				b.enqueue(ctx, update.Message.Chat.ID, eventFromMessage(update.Message))
			} else if update.CallbackQuery != nil {
				b.acceptCallback(update.CallbackQuery)
				b.enqueue(ctx, update.CallbackQuery.Message.Chat.ID, dialog.Button(update.CallbackQuery.Data))
			}
		}
	}
}

func eventFromMessage(msg *tgbotapi.Message) dialog.Event {
	if msg.IsCommand() {
		return dialog.Command(msg.Command())
	}
	return dialog.Text(msg.Text)
}

// acceptCallback acknowledges the button press and drops the pressed
// keyboard so stale buttons cannot be re-used.
func (b *Bot) acceptCallback(callback *tgbotapi.CallbackQuery) {
	if _, err := b.bot.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		b.logger.Warn("Failed to answer callback",
			zap.Int64("chat_id", callback.Message.Chat.ID),
			zap.Error(err))
	}

	edit := tgbotapi.NewEditMessageReplyMarkup(
		callback.Message.Chat.ID,
		callback.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}},
	)
	if _, err := b.bot.Request(edit); err != nil {
		b.logger.Debug("Failed to drop inline keyboard",
			zap.Int64("chat_id", callback.Message.Chat.ID),
			zap.Error(err))
	}
}

// enqueue hands the event to the chat's worker. A full queue is an
// overload the user must hear about, not a silent drop: a button press
// that vanished would leave the funnel stuck with no re-prompt.
func (b *Bot) enqueue(ctx context.Context, chatID int64, ev dialog.Event) {
	if !b.queue.dispatch(ctx, chatID, ev) {
		b.send(dialog.Response{
			To:   strconv.FormatInt(chatID, 10),
			Text: msgTooManyRequests,
		})
	}
}

func (b *Bot) process(ctx context.Context, chatID int64, ev dialog.Event) {
	identity := strconv.FormatInt(chatID, 10)

	exceeded, err := b.limiter.CheckRateLimit(ctx, identity, floodLimit, floodWindow)
	if err != nil {
		b.logger.Warn("Rate limit check failed",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	} else if exceeded {
		b.send(dialog.Response{To: identity, Text: msgTooManyRequests})
		return
	}

	handleCtx, cancel := context.WithTimeout(ctx, b.handleTimeout)
	defer cancel()

	responses, err := b.machine.Handle(handleCtx, identity, ev)
	if err != nil {
		// Already logged with context by the machine; responses still
		// carry the user-visible failure message.
		b.logger.Debug("Handle failed",
			zap.Int64("chat_id", chatID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}

	for _, resp := range responses {
		b.send(resp)
	}
}

func (b *Bot) send(resp dialog.Response) {
	chatID, err := strconv.ParseInt(resp.To, 10, 64)
	if err != nil {
		b.logger.Error("Bad response identity",
			zap.String("identity", resp.To),
			zap.Error(err))
		return
	}

	if resp.File != "" {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(resp.File))
		doc.Caption = resp.Text
		if _, err := b.bot.Send(doc); err != nil {
			b.logger.Error("Failed to send document",
				zap.Int64("chat_id", chatID),
				zap.String("file", resp.File),
				zap.Error(err))
		}
		return
	}

	msg := tgbotapi.NewMessage(chatID, resp.Text)
	if len(resp.Choices) > 0 {
		msg.ReplyMarkup = buildInlineKeyboard(resp.Choices)
	}

	if _, err := b.bot.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}
