package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
)

// AlertSweeper - периодическая проверка ценовых алертов (tick раз в минуту).
//
// Семантика at-least-once принята сознательно: one-time алерты гасятся одним
// батчевым UPDATE после всего прохода, поэтому падение процесса между
// отправкой уведомления и этим UPDATE приведет к повторному срабатыванию
// после рестарта. Внутри одного тика двойное срабатывание невозможно.
type AlertSweeper struct {
	alerts domain.AlertRepository
	prices domain.PriceGateway
	stream domain.PriceStream // optional, nil disables the quote cache
	sender domain.MessageSender
	logger *slog.Logger

	fetchTimeout time.Duration
	quoteMaxAge  time.Duration
	now          func() time.Time
}

func NewAlertSweeper(
	alerts domain.AlertRepository,
	prices domain.PriceGateway,
	stream domain.PriceStream,
	sender domain.MessageSender,
	fetchTimeout, quoteMaxAge time.Duration,
	logger *slog.Logger,
) *AlertSweeper {
	return &AlertSweeper{
		alerts:       alerts,
		prices:       prices,
		stream:       stream,
		sender:       sender,
		fetchTimeout: fetchTimeout,
		quoteMaxAge:  quoteMaxAge,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "alert_sweeper")),
	}
}

// Sweep executes one evaluation tick.
func (s *AlertSweeper) Sweep(ctx context.Context) error {
	assets, err := s.alerts.GetDistinctActiveAssets(ctx)
	if err != nil {
		return fmt.Errorf("failed to load alert assets: %w", err)
	}
	if len(assets) == 0 {
		return nil
	}

	if s.stream != nil {
		if err := s.stream.EnsureSubscribed(assets); err != nil {
			s.logger.Warn("Stream subscription failed, falling back to REST",
				slog.String("err", err.Error()))
		}
	}

	assetPrices := s.resolvePrices(ctx, assets)
	if len(assetPrices) == 0 {
		s.logger.Info("Could not fetch any prices for active alerts")
		return nil
	}

	activeAlerts, err := s.alerts.GetActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active alerts: %w", err)
	}

	var triggeredOneTimeIDs []int64
	for _, alert := range activeAlerts {
		price, ok := assetPrices[alert.Asset]
		if !ok {
			// Цены по активу в этом тике нет - проверим в следующем.
			continue
		}
		if !alert.ShouldTrigger(price) {
			continue
		}

		// Ошибка отправки не откатывает состояние алерта: сбой доставки -
		// не сбой оценки.
		if err := s.sender.Send(alert.UserID, renderAlertMessage(alert, price)); err != nil {
			s.logger.Error("Failed to send price alert",
				slog.Int64("alert_id", alert.ID),
				slog.Int64("user_id", alert.UserID),
				slog.String("err", err.Error()))
		}

		if alert.IsOneTime {
			triggeredOneTimeIDs = append(triggeredOneTimeIDs, alert.ID)
		}

		s.logger.Info("Price alert triggered",
			slog.Int64("alert_id", alert.ID),
			slog.Int64("user_id", alert.UserID),
			slog.String("asset", alert.Asset),
			slog.String("price", price.String()),
			slog.Bool("one_time", alert.IsOneTime))
	}

	if len(triggeredOneTimeIDs) > 0 {
		if err := s.alerts.DeactivateAlerts(ctx, triggeredOneTimeIDs); err != nil {
			// Алерты остаются активными и повторят попытку в следующем тике.
			return fmt.Errorf("failed to deactivate one-time alerts: %w", err)
		}
	}

	return nil
}

// resolvePrices fetches the latest price for each distinct asset
// concurrently. A fresh stream quote short-circuits the REST call; a failed
// asset is simply absent from the result and retried next tick.
func (s *AlertSweeper) resolvePrices(ctx context.Context, assets []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(assets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, asset := range assets {
		wg.Add(1)
		go func(asset string) {
			defer wg.Done()

			if s.stream != nil {
				if quote, ok := s.stream.Quote(asset); ok && quote.Fresh(s.now(), s.quoteMaxAge) {
					mu.Lock()
					out[asset] = quote.Price
					mu.Unlock()
					return
				}
			}

			fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
			defer cancel()

			price, err := s.prices.LatestPrice(fetchCtx, asset)
			if err != nil {
				s.logger.Warn("Price fetch failed, skipping asset this tick",
					slog.String("asset", asset),
					slog.String("err", err.Error()))
				return
			}

			mu.Lock()
			out[asset] = price
			mu.Unlock()
		}(asset)
	}
	wg.Wait()

	return out
}

func renderAlertMessage(alert domain.PriceAlert, price decimal.Decimal) string {
	note := "This is a recurring alert and will trigger again."
	if alert.IsOneTime {
		note = "This was a one-time alert and has been deactivated."
	}

	return fmt.Sprintf(
		"🔔 *Price Alert!*\n\n"+
			"The price of *%s* has reached `%s`!\n"+
			"This matches your alert for a price %s `%s`.\n\n"+
			"*Note:* %s",
		alert.Asset, price.StringFixed(4), alert.Direction, alert.TargetPrice.String(), note,
	)
}
