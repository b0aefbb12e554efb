package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
)

// ErrNoRecipients is returned when a delivery batch cannot start at all.
var ErrNoRecipients = errors.New("fanout: no recipients")

// Outcome - результат доставки одному получателю.
type Outcome struct {
	Recipient int64
	Err       error
}

func (o Outcome) Delivered() bool { return o.Err == nil }

// Report - агрегат по одному вызову Deliver.
type Report struct {
	Delivered int
	Failed    int
	Outcomes  []Outcome
}

// Fanout рассылает одно сообщение многим получателям конкурентно.
// Ошибка одного получателя изолируется и считается, но не отменяет и не
// задерживает доставку остальным. Порядок доставки не гарантируется.
type Fanout struct {
	sender domain.MessageSender
	logger *slog.Logger
}

func NewFanout(sender domain.MessageSender, logger *slog.Logger) *Fanout {
	return &Fanout{
		sender: sender,
		logger: logger.With(slog.String("component", "fanout")),
	}
}

// Deliver attempts every recipient regardless of individual failures and
// never returns an error for them; only an empty batch is an error.
func (f *Fanout) Deliver(ctx context.Context, recipients []int64, text string) (Report, error) {
	if len(recipients) == 0 {
		return Report{}, ErrNoRecipients
	}

	outcomes := make([]Outcome, len(recipients))
	var wg sync.WaitGroup

	for i, recipient := range recipients {
		wg.Add(1)
		go func(i int, recipient int64) {
			defer wg.Done()

			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome{Recipient: recipient, Err: err}
				return
			}
			outcomes[i] = Outcome{Recipient: recipient, Err: f.sender.Send(recipient, text)}
		}(i, recipient)
	}
	wg.Wait()

	report := Report{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Delivered() {
			report.Delivered++
		} else {
			report.Failed++
			f.logger.Warn("Delivery failed",
				slog.Int64("recipient", o.Recipient),
				slog.String("err", o.Err.Error()))
		}
	}

	f.logger.Info("Fanout complete",
		slog.Int("delivered", report.Delivered),
		slog.Int("failed", report.Failed))

	return report, nil
}
