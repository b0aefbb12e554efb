package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
	"github.com/romanzzaa/forex-alert-bot/internal/notify"
)

// Таймфреймы, которые скармливаются модели при плановом анализе.
const analysisFrames = "1m:35,5m:70,15m:5,1h:30,4h:25,1d:1"

var (
	// ErrAnalysisUnavailable - провайдер анализа не сконфигурирован.
	ErrAnalysisUnavailable = errors.New("analysis provider is not configured")

	// ErrNoCredits - у пользователя закончились кредиты на анализ.
	ErrNoCredits = errors.New("no analysis credits left")
)

// AnalysisRunner - плановая джоба: анализ актива и рассылка VIP-подписчикам.
// При сбое провайдера не ретраит в том же тике: репортит админам и выходит
// чисто, планировщик продолжает жить.
type AnalysisRunner struct {
	provider domain.AnalysisProvider
	prices   domain.PriceGateway
	users    domain.UserRepository
	fanout   *notify.Fanout
	admins   domain.AdminReporter
	logger   *slog.Logger
}

func NewAnalysisRunner(
	provider domain.AnalysisProvider,
	prices domain.PriceGateway,
	users domain.UserRepository,
	fanout *notify.Fanout,
	admins domain.AdminReporter,
	logger *slog.Logger,
) *AnalysisRunner {
	return &AnalysisRunner{
		provider: provider,
		prices:   prices,
		users:    users,
		fanout:   fanout,
		admins:   admins,
		logger:   logger.With(slog.String("component", "analysis_runner")),
	}
}

func (r *AnalysisRunner) Run(ctx context.Context, asset string) error {
	log := r.logger.With(slog.String("asset", asset))
	log.Info("Running scheduled analysis")

	if !r.provider.Enabled() {
		log.Warn("Analysis provider disabled, skipping job")
		return nil
	}

	recommendation, err := r.analyze(ctx, asset)
	if err != nil {
		r.admins.NotifyAdmins(fmt.Sprintf(
			"🚨 Scheduled analysis for *%s* failed!\n*Error:* `%v`", asset, err))
		return fmt.Errorf("analysis for %s failed: %w", asset, err)
	}

	vips, err := r.users.GetVIPUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load vip users: %w", err)
	}
	if len(vips) == 0 {
		log.Warn("No VIP users to send analysis to")
		return nil
	}

	recipients := make([]int64, len(vips))
	for i, u := range vips {
		recipients[i] = u.ID
	}

	text := fmt.Sprintf("📈 *Automated VIP Analysis for %s*\n\n%s", asset, recommendation)

	report, err := r.fanout.Deliver(ctx, recipients, text)
	if err != nil {
		return err
	}

	log.Info("Analysis broadcast complete",
		slog.Int("delivered", report.Delivered),
		slog.Int("failed", report.Failed))
	return nil
}

// RequestAnalysis - разовый анализ по запросу пользователя. VIP не платит,
// остальным списывается один кредит до запуска модели; при нуле кредитов
// отказ без обращения к провайдеру.
func (r *AnalysisRunner) RequestAnalysis(ctx context.Context, userID int64, asset string) error {
	log := r.logger.With(slog.String("asset", asset), slog.Int64("user_id", userID))

	if !r.provider.Enabled() {
		return ErrAnalysisUnavailable
	}

	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	if user == nil {
		return fmt.Errorf("user %d not registered", userID)
	}

	if !user.IsVIP {
		if user.Credits <= 0 {
			return ErrNoCredits
		}
		if err := r.users.ChangeCredits(ctx, userID, -1); err != nil {
			return fmt.Errorf("failed to charge credit: %w", err)
		}
		log.Info("Charged analysis credit", slog.Int("credits_left", user.Credits-1))
	}

	recommendation, err := r.analyze(ctx, asset)
	if err != nil {
		return fmt.Errorf("analysis for %s failed: %w", asset, err)
	}

	text := fmt.Sprintf("📈 *Analysis for %s*\n\n%s", asset, recommendation)
	if _, err := r.fanout.Deliver(ctx, []int64{userID}, text); err != nil {
		return err
	}

	log.Info("On-demand analysis delivered")
	return nil
}

func (r *AnalysisRunner) analyze(ctx context.Context, asset string) (string, error) {
	candles, err := r.prices.Candles(ctx, asset, analysisFrames)
	if err != nil {
		return "", fmt.Errorf("candle fetch: %w", err)
	}
	return r.provider.Analyze(ctx, asset, candles)
}
