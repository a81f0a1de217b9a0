package telegram

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	app "qc-vision/internal/application"
	"qc-vision/internal/domain/entity"
)

// botAPI часть tgbotapi.BotAPI, которой пользуется бот
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Inspector проверка присланного фото
type Inspector interface {
	Inspect(ctx context.Context, img image.Image) (*app.PhotoReport, error)
}

// Bot представляет Telegram-бота оператора станции
type Bot struct {
	api       botAPI
	token     string
	commands  *Commands
	inspector Inspector
	chatID    int64 // 0: управлять может любой чат
	log       *slog.Logger
	client    *http.Client
}

// NewBot создаёт нового бота
func NewBot(token string, chatID int64, commands *Commands, inspector Inspector, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	logger.Info("telegram bot authorized", "account", api.Self.UserName)

	return newBot(api, token, chatID, commands, inspector, logger), nil
}

func newBot(api botAPI, token string, chatID int64, commands *Commands, inspector Inspector, logger *slog.Logger) *Bot {
	return &Bot{
		api:       api,
		token:     token,
		commands:  commands,
		inspector: inspector,
		chatID:    chatID,
		log:       logger,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Notifier возвращает публикатор уведомлений о браке в рабочий чат
func (b *Bot) Notifier() *Notifier {
	return NewNotifier(b.api, b.chatID)
}

// Run обрабатывает сообщения до отмены ctx
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	// Обработка команд
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	// Обработка фото
	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, msg)
		return
	}

	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

// handleCommand обрабатывает команды бота
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	command := msg.Command()

	// Управлять станцией можно только из рабочего чата
	if (command == "run" || command == "halt") && b.chatID != 0 && msg.Chat.ID != b.chatID {
		b.log.Warn("station command from foreign chat rejected", "chat", msg.Chat.ID, "command", command)
		b.sendMessage(msg.Chat.ID, msgAccessDenied)
		return
	}

	b.log.Info("bot command", "chat", msg.Chat.ID, "command", command)
	b.sendMessage(msg.Chat.ID, b.commands.Reply(ctx, command))
}

// handlePhoto проверяет фото детали и отвечает размеченным снимком
func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	b.sendMessage(msg.Chat.ID, msgProcessing)

	// Получаем файл с максимальным разрешением
	photo := msg.Photo[len(msg.Photo)-1]

	imageData, err := b.downloadFile(ctx, photo.FileID)
	if err != nil {
		b.log.Warn("photo download failed", "error", err)
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		b.log.Warn("photo decode failed", "bytes", len(imageData), "error", err)
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}

	report, err := b.inspector.Inspect(ctx, img)
	if err != nil {
		b.log.Warn("photo inspection failed", "error", err)
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}

	if report.Decision.Waiting() {
		b.sendMessage(msg.Chat.ID, msgNoObjects)
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, report.Annotated.Image, &jpeg.Options{Quality: 90}); err != nil {
		b.log.Warn("photo encode failed", "error", err)
		b.sendMessage(msg.Chat.ID, photoCaption(report))
		return
	}

	reply := tgbotapi.NewPhoto(msg.Chat.ID, tgbotapi.FileBytes{Name: "inspection.jpg", Bytes: buf.Bytes()})
	reply.Caption = photoCaption(report)
	if _, err := b.api.Send(reply); err != nil {
		b.log.Warn("photo reply failed", "error", err)
	}
}

func photoCaption(report *app.PhotoReport) string {
	icon := "✅"
	if report.Decision.Verdict == entity.VerdictNG {
		icon = "❌"
	}
	return fmt.Sprintf("%s %s (%s), объектов: %d", icon, report.Decision.Verdict, report.Decision.Label, len(report.Detections))
}

// downloadFile скачивает файл из Telegram
func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.token), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// sendMessage отправляет текстовое сообщение
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("telegram send failed", "chat", chatID, "error", err)
	}
}
