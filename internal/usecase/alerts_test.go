package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
)

// --- Fakes ---

type fakeAlertRepo struct {
	mu          sync.Mutex
	alerts      []domain.PriceAlert
	deactivated [][]int64
	failDeact   error
}

func (r *fakeAlertRepo) CreateAlert(ctx context.Context, alert *domain.PriceAlert) error {
	return nil
}

func (r *fakeAlertRepo) GetActiveAlerts(ctx context.Context) ([]domain.PriceAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var active []domain.PriceAlert
	for _, a := range r.alerts {
		if a.IsActive {
			active = append(active, a)
		}
	}
	return active, nil
}

func (r *fakeAlertRepo) GetDistinctActiveAssets(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var assets []string
	for _, a := range r.alerts {
		if a.IsActive && !seen[a.Asset] {
			seen[a.Asset] = true
			assets = append(assets, a.Asset)
		}
	}
	return assets, nil
}

func (r *fakeAlertRepo) GetUserAlerts(ctx context.Context, userID int64, activeOnly bool) ([]domain.PriceAlert, error) {
	return nil, nil
}

func (r *fakeAlertRepo) GetAlertByID(ctx context.Context, id int64) (*domain.PriceAlert, error) {
	return nil, nil
}

func (r *fakeAlertRepo) DeactivateAlerts(ctx context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failDeact != nil {
		return r.failDeact
	}
	r.deactivated = append(r.deactivated, ids)
	for _, id := range ids {
		for i := range r.alerts {
			if r.alerts[i].ID == id {
				r.alerts[i].IsActive = false
			}
		}
	}
	return nil
}

func (r *fakeAlertRepo) DeleteAlert(ctx context.Context, id int64) error { return nil }

type fakePriceGateway struct {
	mu         sync.Mutex
	prices     map[string]decimal.Decimal
	errs       map[string]error
	calls      map[string]int
	candles    map[string][]domain.Candle
	candlesErr error
}

func (g *fakePriceGateway) LatestPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = map[string]int{}
	}
	g.calls[asset]++
	if err, ok := g.errs[asset]; ok {
		return decimal.Zero, err
	}
	p, ok := g.prices[asset]
	if !ok {
		return decimal.Zero, errors.New("unknown asset")
	}
	return p, nil
}

func (g *fakePriceGateway) Candles(ctx context.Context, asset, frames string) (map[string][]domain.Candle, error) {
	if g.candlesErr != nil {
		return nil, g.candlesErr
	}
	return g.candles, nil
}

type fakeSender struct {
	mu      sync.Mutex
	sent    map[int64][]string
	failFor map[int64]error
}

func (s *fakeSender) Send(recipientID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = map[int64][]string{}
	}
	s.sent[recipientID] = append(s.sent[recipientID], text)
	if err, ok := s.failFor[recipientID]; ok {
		return err
	}
	return nil
}

type fakeStream struct {
	mu         sync.Mutex
	quotes     map[string]domain.PriceQuote
	subscribed []string
}

func (st *fakeStream) EnsureSubscribed(assets []string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.subscribed = append(st.subscribed, assets...)
	return nil
}

func (st *fakeStream) Quote(asset string) (domain.PriceQuote, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	q, ok := st.quotes[asset]
	return q, ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustAlert(t *testing.T, id, userID int64, asset, target string, dir domain.AlertDirection, oneTime bool) domain.PriceAlert {
	t.Helper()
	a, err := domain.NewPriceAlert(userID, asset, decimal.RequireFromString(target), dir, oneTime)
	require.NoError(t, err)
	a.ID = id
	return *a
}

func newSweeper(repo *fakeAlertRepo, gw *fakePriceGateway, stream domain.PriceStream, sender *fakeSender) *AlertSweeper {
	return NewAlertSweeper(repo, gw, stream, sender, time.Second, 45*time.Second, testLogger())
}

// --- Tests ---

func TestSweepTriggersOnExactBoundary(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []domain.PriceAlert{
		mustAlert(t, 1, 100, "XAUUSD", "2300.00", domain.DirectionAbove, true),
	}}
	gw := &fakePriceGateway{prices: map[string]decimal.Decimal{
		"XAUUSD": decimal.RequireFromString("2300.00"),
	}}
	sender := &fakeSender{}

	require.NoError(t, newSweeper(repo, gw, nil, sender).Sweep(context.Background()))

	require.Len(t, sender.sent[100], 1)
	assert.Contains(t, sender.sent[100][0], "XAUUSD")
	assert.Contains(t, sender.sent[100][0], "2300.0000")
}

func TestSweepBelowDirection(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []domain.PriceAlert{
		mustAlert(t, 1, 100, "EURUSD", "1.0800", domain.DirectionBelow, false),
		mustAlert(t, 2, 200, "EURUSD", "1.0500", domain.DirectionBelow, false),
	}}
	gw := &fakePriceGateway{prices: map[string]decimal.Decimal{
		"EURUSD": decimal.RequireFromString("1.0750"),
	}}
	sender := &fakeSender{}

	require.NoError(t, newSweeper(repo, gw, nil, sender).Sweep(context.Background()))

	// 1.0750 <= 1.0800 fires; 1.0750 > 1.0500 does not.
	assert.Len(t, sender.sent[100], 1)
	assert.Empty(t, sender.sent[200])
}

func TestSweepOneTimeFiresOnce(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []domain.PriceAlert{
		mustAlert(t, 1, 100, "XAUUSD", "2300.00", domain.DirectionAbove, true),
	}}
	gw := &fakePriceGateway{prices: map[string]decimal.Decimal{
		"XAUUSD": decimal.RequireFromString("2310.55"),
	}}
	sender := &fakeSender{}
	sweeper := newSweeper(repo, gw, nil, sender)

	require.NoError(t, sweeper.Sweep(context.Background()))
	require.NoError(t, sweeper.Sweep(context.Background()))

	assert.Len(t, sender.sent[100], 1)
	require.Len(t, repo.deactivated, 1)
	assert.Equal(t, []int64{1}, repo.deactivated[0])
}

func TestSweepRecurringFiresEveryTick(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []domain.PriceAlert{
		mustAlert(t, 1, 100, "XAUUSD", "2300.00", domain.DirectionAbove, false),
	}}
	gw := &fakePriceGateway{prices: map[string]decimal.Decimal{
		"XAUUSD": decimal.RequireFromString("2310.00"),
	}}
	sender := &fakeSender{}
	sweeper := newSweeper(repo, gw, nil, sender)

	require.NoError(t, sweeper.Sweep(context.Background()))
	require.NoError(t, sweeper.Sweep(context.Background()))
	require.NoError(t, sweeper.Sweep(context.Background()))

	assert.Len(t, sender.sent[100], 3)
	assert.Empty(t, repo.deactivated)
}

func TestSweepBatchesOneTimeDeactivation(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []domain.PriceAlert{
		mustAlert(t, 1, 100, "XAUUSD", "2300.00", domain.DirectionAbove, true),
		mustAlert(t, 2, 200, "XAUUSD", "2305.00", domain.DirectionAbove, true),
		mustAlert(t, 3, 300, "XAUUSD", "2400.00", domain.DirectionAbove, true),
	}}
	gw := &fakePriceGateway{prices: map[string]decimal.Decimal{
		"XAUUSD": decimal.RequireFromString("2310.00"),
	}}
	sender := &fakeSender{}

	require.NoError(t, newSweeper(repo, gw, nil, sender).Sweep(context.Background()))

	// Both triggered alerts are deactivated in a single batch; the
	// untriggered one stays active.
	require.Len(t, repo.deactivated, 1)
	assert.ElementsMatch(t, []int64{1, 2}, repo.deactivated[0])
	assert.Empty(t, sender.sent[300])
}

func TestSweepSkipsAssetOnFetchFailure(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []domain.PriceAlert{
		mustAlert(t, 1, 100, "XAUUSD", "2300.00", domain.DirectionAbove, false),
		mustAlert(t, 2, 200, "EURUSD", "1.0800", domain.DirectionBelow, false),
	}}
	gw := &fakePriceGateway{
		prices: map[string]decimal.Decimal{"EURUSD": decimal.RequireFromString("1.0700")},
		errs:   map[string]error{"XAUUSD": errors.New("upstream 503")},
	}
	sender := &fakeSender{}

	// A failing asset never aborts the tick for the others.
	require.NoError(t, newSweeper(repo, gw, nil, sender).Sweep(context.Background()))

	assert.Empty(t, sender.sent[100])
	assert.Len(t, sender.sent[200], 1)
}

func TestSweepSendFailureStillDeactivates(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []domain.PriceAlert{
		mustAlert(t, 1, 100, "XAUUSD", "2300.00", domain.DirectionAbove, true),
	}}
	gw := &fakePriceGateway{prices: map[string]decimal.Decimal{
		"XAUUSD": decimal.RequireFromString("2310.00"),
	}}
	sender := &fakeSender{failFor: map[int64]error{100: errors.New("blocked by user")}}

	require.NoError(t, newSweeper(repo, gw, nil, sender).Sweep(context.Background()))

	// Delivery failure does not roll the alert back.
	require.Len(t, repo.deactivated, 1)
	assert.Equal(t, []int64{1}, repo.deactivated[0])
}

func TestSweepDeactivationFailureReturnsError(t *testing.T) {
	repo := &fakeAlertRepo{
		alerts: []domain.PriceAlert{
			mustAlert(t, 1, 100, "XAUUSD", "2300.00", domain.DirectionAbove, true),
		},
		failDeact: errors.New("db down"),
	}
	gw := &fakePriceGateway{prices: map[string]decimal.Decimal{
		"XAUUSD": decimal.RequireFromString("2310.00"),
	}}
	sender := &fakeSender{}
	sweeper := newSweeper(repo, gw, nil, sender)

	err := sweeper.Sweep(context.Background())
	require.Error(t, err)

	// The alert stayed active, so the next tick fires again.
	repo.failDeact = nil
	require.NoError(t, sweeper.Sweep(context.Background()))
	assert.Len(t, sender.sent[100], 2)
}

func TestSweepNoActiveAlerts(t *testing.T) {
	repo := &fakeAlertRepo{}
	gw := &fakePriceGateway{}
	sender := &fakeSender{}

	require.NoError(t, newSweeper(repo, gw, nil, sender).Sweep(context.Background()))
	assert.Empty(t, gw.calls)
}

func TestSweepPrefersFreshStreamQuote(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []domain.PriceAlert{
		mustAlert(t, 1, 100, "XAUUSD", "2300.00", domain.DirectionAbove, false),
	}}
	gw := &fakePriceGateway{prices: map[string]decimal.Decimal{
		"XAUUSD": decimal.RequireFromString("1.00"), // должен остаться нетронутым
	}}
	sender := &fakeSender{}
	stream := &fakeStream{quotes: map[string]domain.PriceQuote{
		"XAUUSD": {
			Asset:  "XAUUSD",
			Price:  decimal.RequireFromString("2305.00"),
			Time:   time.Now(),
			Source: "price-ws",
		},
	}}

	require.NoError(t, newSweeper(repo, gw, stream, sender).Sweep(context.Background()))

	assert.Len(t, sender.sent[100], 1)
	assert.Empty(t, gw.calls, "fresh stream quote must short-circuit REST")
	assert.Contains(t, stream.subscribed, "XAUUSD")
}

func TestSweepStaleStreamQuoteFallsBackToREST(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []domain.PriceAlert{
		mustAlert(t, 1, 100, "XAUUSD", "2300.00", domain.DirectionAbove, false),
	}}
	gw := &fakePriceGateway{prices: map[string]decimal.Decimal{
		"XAUUSD": decimal.RequireFromString("2310.00"),
	}}
	sender := &fakeSender{}
	stream := &fakeStream{quotes: map[string]domain.PriceQuote{
		"XAUUSD": {
			Asset: "XAUUSD",
			Price: decimal.RequireFromString("2305.00"),
			Time:  time.Now().Add(-5 * time.Minute),
		},
	}}

	require.NoError(t, newSweeper(repo, gw, stream, sender).Sweep(context.Background()))

	assert.Len(t, sender.sent[100], 1)
	assert.Equal(t, 1, gw.calls["XAUUSD"])
}
