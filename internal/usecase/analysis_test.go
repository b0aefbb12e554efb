package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
	"github.com/romanzzaa/forex-alert-bot/internal/notify"
)

type fakeAnalysisProvider struct {
	enabled bool
	text    string
	err     error
	calls   int
}

func (p *fakeAnalysisProvider) Enabled() bool { return p.enabled }

func (p *fakeAnalysisProvider) Analyze(ctx context.Context, asset string, candles map[string][]domain.Candle) (string, error) {
	p.calls++
	return p.text, p.err
}

func newRunner(provider *fakeAnalysisProvider, gw *fakePriceGateway, users *fakeUserRepo, sender *fakeSender, admins *fakeAdmins) *AnalysisRunner {
	fanout := notify.NewFanout(sender, testLogger())
	return NewAnalysisRunner(provider, gw, users, fanout, admins, testLogger())
}

func vipUsers(ids ...int64) []domain.User {
	users := make([]domain.User, len(ids))
	for i, id := range ids {
		users[i] = domain.User{ID: id, IsVIP: true}
	}
	return users
}

func goldCandles() map[string][]domain.Candle {
	return map[string][]domain.Candle{
		"1h": {{Time: 1756000000, Close: decimal.RequireFromString("2310.50")}},
	}
}

func TestAnalysisBroadcastsToVIPs(t *testing.T) {
	provider := &fakeAnalysisProvider{enabled: true, text: "BUY, gold looks strong"}
	gw := &fakePriceGateway{candles: goldCandles()}
	users := &fakeUserRepo{vips: vipUsers(10, 20)}
	sender := &fakeSender{}
	admins := &fakeAdmins{}

	r := newRunner(provider, gw, users, sender, admins)
	require.NoError(t, r.Run(context.Background(), "XAUUSD"))

	require.Len(t, sender.sent[10], 1)
	require.Len(t, sender.sent[20], 1)
	assert.Contains(t, sender.sent[10][0], "VIP Analysis for XAUUSD")
	assert.Contains(t, sender.sent[10][0], "BUY, gold looks strong")
	assert.Empty(t, admins.messages)
}

func TestAnalysisDisabledProviderSkips(t *testing.T) {
	provider := &fakeAnalysisProvider{enabled: false}
	sender := &fakeSender{}

	r := newRunner(provider, &fakePriceGateway{}, &fakeUserRepo{vips: vipUsers(10)}, sender, &fakeAdmins{})
	require.NoError(t, r.Run(context.Background(), "XAUUSD"))

	assert.Zero(t, provider.calls)
	assert.Empty(t, sender.sent)
}

func TestAnalysisProviderFailureReportsAdmins(t *testing.T) {
	provider := &fakeAnalysisProvider{enabled: true, err: errors.New("quota exceeded")}
	gw := &fakePriceGateway{candles: goldCandles()}
	sender := &fakeSender{}
	admins := &fakeAdmins{}

	r := newRunner(provider, gw, &fakeUserRepo{vips: vipUsers(10)}, sender, admins)
	err := r.Run(context.Background(), "XAUUSD")
	require.Error(t, err)

	assert.Empty(t, sender.sent)
	require.Len(t, admins.messages, 1)
	assert.Contains(t, admins.messages[0], "XAUUSD")
	assert.Contains(t, admins.messages[0], "quota exceeded")
}

func TestAnalysisCandleFetchFailureReportsAdmins(t *testing.T) {
	provider := &fakeAnalysisProvider{enabled: true, text: "irrelevant"}
	gw := &fakePriceGateway{candlesErr: errors.New("upstream 502")}
	admins := &fakeAdmins{}

	r := newRunner(provider, gw, &fakeUserRepo{vips: vipUsers(10)}, &fakeSender{}, admins)
	err := r.Run(context.Background(), "EURUSD")
	require.Error(t, err)

	assert.Zero(t, provider.calls)
	require.Len(t, admins.messages, 1)
}

func TestRequestAnalysisChargesCredit(t *testing.T) {
	provider := &fakeAnalysisProvider{enabled: true, text: "BUY above 2310"}
	gw := &fakePriceGateway{candles: goldCandles()}
	users := &fakeUserRepo{byID: map[int64]*domain.User{
		42: {ID: 42, Credits: 3},
	}}
	sender := &fakeSender{}

	r := newRunner(provider, gw, users, sender, &fakeAdmins{})
	require.NoError(t, r.RequestAnalysis(context.Background(), 42, "XAUUSD"))

	assert.Equal(t, []int{-1}, users.creditChanges)
	assert.Equal(t, 2, users.byID[42].Credits)
	require.Len(t, sender.sent[42], 1)
	assert.Contains(t, sender.sent[42][0], "Analysis for XAUUSD")
	assert.Contains(t, sender.sent[42][0], "BUY above 2310")
}

func TestRequestAnalysisVIPIsFree(t *testing.T) {
	provider := &fakeAnalysisProvider{enabled: true, text: "HOLD"}
	gw := &fakePriceGateway{candles: goldCandles()}
	users := &fakeUserRepo{byID: map[int64]*domain.User{
		42: {ID: 42, IsVIP: true, Credits: 0},
	}}
	sender := &fakeSender{}

	r := newRunner(provider, gw, users, sender, &fakeAdmins{})
	require.NoError(t, r.RequestAnalysis(context.Background(), 42, "XAUUSD"))

	assert.Empty(t, users.creditChanges)
	require.Len(t, sender.sent[42], 1)
}

func TestRequestAnalysisRefusesWithoutCredits(t *testing.T) {
	provider := &fakeAnalysisProvider{enabled: true, text: "irrelevant"}
	gw := &fakePriceGateway{candles: goldCandles()}
	users := &fakeUserRepo{byID: map[int64]*domain.User{
		42: {ID: 42, Credits: 0},
	}}
	sender := &fakeSender{}

	r := newRunner(provider, gw, users, sender, &fakeAdmins{})
	err := r.RequestAnalysis(context.Background(), 42, "XAUUSD")
	require.ErrorIs(t, err, ErrNoCredits)

	// Ни списания, ни обращения к модели.
	assert.Empty(t, users.creditChanges)
	assert.Zero(t, provider.calls)
	assert.Empty(t, sender.sent)
}

func TestRequestAnalysisDisabledProvider(t *testing.T) {
	provider := &fakeAnalysisProvider{enabled: false}
	users := &fakeUserRepo{byID: map[int64]*domain.User{
		42: {ID: 42, Credits: 3},
	}}

	r := newRunner(provider, &fakePriceGateway{}, users, &fakeSender{}, &fakeAdmins{})
	err := r.RequestAnalysis(context.Background(), 42, "XAUUSD")
	require.ErrorIs(t, err, ErrAnalysisUnavailable)

	assert.Empty(t, users.creditChanges)
}

func TestRequestAnalysisUnknownUser(t *testing.T) {
	provider := &fakeAnalysisProvider{enabled: true, text: "irrelevant"}

	r := newRunner(provider, &fakePriceGateway{candles: goldCandles()}, &fakeUserRepo{}, &fakeSender{}, &fakeAdmins{})
	err := r.RequestAnalysis(context.Background(), 42, "XAUUSD")
	require.Error(t, err)
	assert.Zero(t, provider.calls)
}

func TestAnalysisNoVIPsIsNoop(t *testing.T) {
	provider := &fakeAnalysisProvider{enabled: true, text: "SELL"}
	gw := &fakePriceGateway{candles: goldCandles()}
	sender := &fakeSender{}

	r := newRunner(provider, gw, &fakeUserRepo{}, sender, &fakeAdmins{})
	require.NoError(t, r.Run(context.Background(), "XAUUSD"))

	assert.Equal(t, 1, provider.calls)
	assert.Empty(t, sender.sent)
}
