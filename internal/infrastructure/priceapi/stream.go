package priceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
)

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 20 * time.Second
)

// Stream - websocket-кэш котировок поверх price API.
// Свипер читает отсюда свежие цены и ходит в REST только за тем,
// чего в кэше нет или что устарело. Реализует domain.PriceStream.
type Stream struct {
	url    string
	logger *slog.Logger

	conn *websocket.Conn
	mu   sync.Mutex

	// Последняя котировка по каждому активу.
	quotes   map[string]domain.PriceQuote
	subs     map[string]bool
	quotesMu sync.RWMutex
}

func NewStream(url string, logger *slog.Logger) *Stream {
	return &Stream{
		url:    url,
		logger: logger.With(slog.String("component", "price_stream")),
		quotes: make(map[string]domain.PriceQuote),
		subs:   make(map[string]bool),
	}
}

// Run держит соединение живым до отмены контекста.
func (s *Stream) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := s.connectAndListen(ctx); err != nil {
				s.logger.Error("Stream connection lost", slog.String("err", err.Error()))
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}
}

// EnsureSubscribed добавляет недостающие активы в подписку на лету,
// без разрыва соединения.
func (s *Stream) EnsureSubscribed(assets []string) error {
	s.quotesMu.Lock()
	var added []string
	for _, asset := range assets {
		asset = strings.ToUpper(asset)
		if !s.subs[asset] {
			s.subs[asset] = true
			added = append(added, asset)
		}
	}
	s.quotesMu.Unlock()

	if len(added) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		// Подпишемся при следующем коннекте.
		return nil
	}
	return s.sendSubscribe(added)
}

// Quote returns the latest cached quote for an asset, if any.
func (s *Stream) Quote(asset string) (domain.PriceQuote, bool) {
	s.quotesMu.RLock()
	defer s.quotesMu.RUnlock()
	q, ok := s.quotes[strings.ToUpper(asset)]
	return q, ok
}

func (s *Stream) connectAndListen(ctx context.Context) error {
	s.logger.Info("Connecting to price stream...", slog.String("url", s.url))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	// Восстанавливаем все накопленные подписки.
	s.quotesMu.RLock()
	subs := make([]string, 0, len(s.subs))
	for asset := range s.subs {
		subs = append(subs, asset)
	}
	s.quotesMu.RUnlock()

	s.mu.Lock()
	err = s.sendSubscribe(subs)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.heartbeat(hbCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal(message, &raw); err != nil {
			continue
		}
		// Ответы на ping/subscribe игнорируем.
		if _, ok := raw["op"]; ok {
			continue
		}

		var event WsQuoteEvent
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if event.Topic == "" || len(event.Data) == 0 {
			continue
		}

		data := event.Data[0]
		if data.Price.IsZero() {
			continue
		}

		asset := strings.ToUpper(data.Asset)
		s.quotesMu.Lock()
		s.quotes[asset] = domain.PriceQuote{
			Asset:  asset,
			Price:  data.Price,
			Time:   time.Now(),
			Source: "price-ws",
		}
		s.quotesMu.Unlock()
	}
}

// sendSubscribe отправляет команду подписки. Вызывать под s.mu.
func (s *Stream) sendSubscribe(assets []string) error {
	if len(assets) == 0 || s.conn == nil {
		return nil
	}

	args := make([]string, len(assets))
	for i, asset := range assets {
		args[i] = "quotes." + asset
	}

	s.logger.Info("Sending subscription request", slog.Any("topics", args))

	return s.conn.WriteJSON(map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	})
}

func (s *Stream) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.conn != nil {
				if err := s.conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					s.logger.Error("Ping failed", slog.String("err", err.Error()))
				}
			}
			s.mu.Unlock()
		}
	}
}
