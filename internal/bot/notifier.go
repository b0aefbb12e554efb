package bot

import (
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier адаптирует tgbotapi к портам domain.MessageSender и
// domain.AdminReporter. Таймаут одиночной отправки задается HTTP-клиентом
// tgbotapi и не зависит от соседних отправок.
type Notifier struct {
	bot      *tgbotapi.BotAPI
	adminIDs []int64
	logger   *slog.Logger
}

func NewNotifier(bot *tgbotapi.BotAPI, adminIDs []int64, logger *slog.Logger) *Notifier {
	return &Notifier{
		bot:      bot,
		adminIDs: adminIDs,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

func (n *Notifier) Send(recipientID int64, text string) error {
	msg := tgbotapi.NewMessage(recipientID, text)
	msg.ParseMode = "Markdown"
	msg.DisableWebPagePreview = true
	_, err := n.bot.Send(msg)
	return err
}

// NotifyAdmins - операторский канал для сводок об отказах.
// Ошибка доставки одному админу не мешает остальным.
func (n *Notifier) NotifyAdmins(text string) {
	for _, adminID := range n.adminIDs {
		if err := n.Send(adminID, text); err != nil {
			n.logger.Error("Failed to notify admin",
				slog.Int64("admin_id", adminID),
				slog.String("err", err.Error()))
		}
	}
}
