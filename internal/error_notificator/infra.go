package error_notificator

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type Infra struct {
	bot    Sender
	chatID int64
	log    *zap.SugaredLogger
}

func NewInfra(bot Sender, chatID int64, log *zap.SugaredLogger) *Infra {
	return &Infra{bot: bot, chatID: chatID, log: log}
}

// NewBotInfra поднимает бота по токену.
func NewBotInfra(token string, chatID int64, log *zap.SugaredLogger) (*Infra, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	log.Infow("[error_notificator] bot ready", "username", bot.Self.UserName)
	return NewInfra(bot, chatID, log), nil
}

func (i *Infra) Notify(ctx context.Context, source string, err error, details string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	text := fmt.Sprintf(
		"❗ Ошибка (%s)\n\nОшибка: %v\n\nДетали: %s",
		source,
		err,
		details,
	)

	msg := tgbotapi.NewMessage(i.chatID, text)

	if _, sendErr := i.bot.Send(msg); sendErr != nil {
		i.log.Warnw("[error_notificator] send fail", "err", sendErr)
		return sendErr
	}

	return nil
}
