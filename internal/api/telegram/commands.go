package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

const (
	msgStart = `👋 Привет! Я бот станции визуального контроля.

🎥 Станция снимает детали на конвейере и отмечает годные (OK) и брак (NG).
📸 Можно прислать фото детали, и я проверю его той же моделью.

📋 Команды:
/run — запустить станцию
/halt — остановить станцию
/stats — счётчики
/log — последние проверки
/help — справка`

	msgHelp = `ℹ️ Как пользоваться ботом:

1️⃣ /run запускает камеру и проверку
2️⃣ При браке в чат приходит уведомление
3️⃣ /stats и /log показывают итоги смены
4️⃣ /halt останавливает станцию и освобождает камеру

📸 Фото детали проверяется отдельно и в счётчики не попадает.`

	msgStarted         = "▶️ Станция запущена."
	msgAlreadyRunning  = "⚠️ Станция уже запущена."
	msgEngineMissing   = "⛔ Модель не загружена, запуск невозможен."
	msgStartFailed     = "⚠️ Не удалось запустить станцию: %v"
	msgNotRunning      = "ℹ️ Станция не запущена."
	msgStopped         = "⏹ Станция остановлена."
	msgStopFailed      = "⚠️ Не удалось остановить станцию: %v"
	msgLogEmpty        = "📭 Журнал пуст."
	msgLogFailed       = "⚠️ Не удалось прочитать журнал."
	msgUnknownCommand  = "❓ Неизвестная команда. Используйте /help для справки."
	msgSendPhoto       = "📸 Отправьте фото детали или команду /help."
	msgProcessing      = "⏳ Обрабатываю изображение..."
	msgProcessingError = "⚠️ Не удалось обработать изображение. Попробуйте сделать другое фото."
	msgNoObjects       = "🔍 Объекты на фото не найдены."
	msgAccessDenied    = "🔒 Управление станцией доступно только из рабочего чата."
)

// logLines сколько записей журнала показывает /log
const logLines = 10

// Controller управление станцией, которое нужно боту
type Controller interface {
	Start() error
	Stop() error
	State() entity.StationState
	Stats() entity.RunningStats
}

// Commands текстовые ответы на команды бота
type Commands struct {
	station Controller
	events  port.EventRepository
}

func NewCommands(station Controller, events port.EventRepository) *Commands {
	return &Commands{station: station, events: events}
}

// Reply возвращает ответ на команду (без ведущего слэша)
func (c *Commands) Reply(ctx context.Context, command string) string {
	switch command {
	case "start":
		return msgStart
	case "help":
		return msgHelp
	case "run":
		return c.run()
	case "halt":
		return c.halt()
	case "stats":
		return formatStats(c.station.State(), c.station.Stats())
	case "log":
		return c.log(ctx)
	default:
		return msgUnknownCommand
	}
}

func (c *Commands) run() string {
	err := c.station.Start()
	switch {
	case err == nil:
		return msgStarted
	case errors.Is(err, entity.ErrAlreadyRunning):
		return msgAlreadyRunning
	case errors.Is(err, entity.ErrEngineUnavailable):
		return msgEngineMissing
	default:
		return fmt.Sprintf(msgStartFailed, err)
	}
}

func (c *Commands) halt() string {
	if c.station.State() != entity.StateRunning {
		return msgNotRunning
	}
	if err := c.station.Stop(); err != nil {
		return fmt.Sprintf(msgStopFailed, err)
	}
	return msgStopped + "\n\n" + formatStats(c.station.State(), c.station.Stats())
}

func (c *Commands) log(ctx context.Context) string {
	if c.events == nil {
		return msgLogEmpty
	}
	events, err := c.events.Recent(ctx, logLines)
	if err != nil {
		return msgLogFailed
	}
	if len(events) == 0 {
		return msgLogEmpty
	}

	var sb strings.Builder
	sb.WriteString("📝 Последние проверки:\n")
	for _, e := range events {
		sb.WriteString(e.LogLine())
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatStats(state entity.StationState, s entity.RunningStats) string {
	return fmt.Sprintf("📊 Состояние: %s\nВсего: %d\n✅ Годных: %d\n❌ Брак: %d\nВыход годных: %.1f%%",
		stateName(state), s.Total, s.OK, s.NG, s.YieldRate())
}

func stateName(state entity.StationState) string {
	switch state {
	case entity.StateRunning:
		return "работает"
	case entity.StateStopped:
		return "остановлена"
	default:
		return "ожидание"
	}
}
