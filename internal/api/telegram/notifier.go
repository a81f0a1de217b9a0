package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier отправляет в рабочий чат уведомления об учтённом браке
type Notifier struct {
	api    sender
	chatID int64
}

func NewNotifier(api sender, chatID int64) *Notifier {
	return &Notifier{api: api, chatID: chatID}
}

// Publish пропускает годные изделия и работу без рабочего чата
func (n *Notifier) Publish(ctx context.Context, event entity.InspectionEvent) error {
	if event.Verdict != entity.VerdictNG || n.chatID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := n.api.Send(tgbotapi.NewMessage(n.chatID, alertText(event))); err != nil {
		return fmt.Errorf("telegram alert: %w", err)
	}
	return nil
}

func alertText(e entity.InspectionEvent) string {
	return fmt.Sprintf("🚨 Брак: %s\n🕒 %s\nВсего: %d, брак: %d, выход годных: %.1f%%",
		e.Label, e.At.Format("15:04:05"), e.Stats.Total, e.Stats.NG, e.Stats.YieldRate())
}

var _ port.EventPublisher = (*Notifier)(nil)
