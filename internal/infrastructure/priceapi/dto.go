package priceapi

import (
	"github.com/shopspring/decimal"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
)

// CandlesResponse - обертка ответа price API:
// {"data": {"1m": [ {...}, ... ], "1h": [...]}}
type CandlesResponse struct {
	Data map[string][]CandleDTO `json:"data"`
}

// CandleDTO - сырая свеча. current_price присутствует только
// у последней свечи младшего таймфрейма.
type CandleDTO struct {
	Time         int64           `json:"time"`
	Open         decimal.Decimal `json:"open"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	Close        decimal.Decimal `json:"close"`
	Volume       decimal.Decimal `json:"volume"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

func (c CandleDTO) toDomain() domain.Candle {
	return domain.Candle{
		Time:   c.Time,
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}

// WsQuoteEvent - сообщение котировки из стрима.
type WsQuoteEvent struct {
	Topic string `json:"topic"`
	Data  []struct {
		Asset string          `json:"asset"`
		Price decimal.Decimal `json:"price"`
	} `json:"data"`
}
