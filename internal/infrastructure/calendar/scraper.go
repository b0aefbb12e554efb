package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
)

// Scraper извлекает события экономического календаря из HTML Myfxbook.
// Разметка (маркеры строк, порядок колонок) - внешний контракт, который
// может поехать; весь парсинг изолирован здесь. Реализует domain.CalendarSource.
type Scraper struct {
	url        string
	userAgent  string
	httpClient *http.Client
	currencies map[string]bool
	impacts    map[string]bool
	loc        *time.Location
	logger     *slog.Logger

	// Подменяется в тестах.
	now func() time.Time
}

type ScraperConfig struct {
	URL        string
	UserAgent  string
	Timezone   string
	Currencies []string
	Impacts    []string
	Timeout    time.Duration
}

func NewScraper(cfg ScraperConfig, logger *slog.Logger) (*Scraper, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = domain.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid calendar timezone %q: %w", tz, err)
	}

	currencies := make(map[string]bool, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		currencies[strings.ToUpper(c)] = true
	}

	impacts := make(map[string]bool, len(cfg.Impacts))
	for _, i := range cfg.Impacts {
		impacts[i] = true
	}
	if len(impacts) == 0 {
		impacts[domain.ImpactMedium] = true
		impacts[domain.ImpactHigh] = true
	}

	return &Scraper{
		url:        cfg.URL,
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		currencies: currencies,
		impacts:    impacts,
		loc:        loc,
		logger:     logger.With(slog.String("component", "calendar_scraper")),
		now:        time.Now,
	}, nil
}

// Fetch скачивает и разбирает календарь. Остаются только события целевых
// валют с целевым impact, попадающие на сегодня/завтра по Багдаду.
// Кривая строка пишется в лог и пропускается, скрейп не падает целиком.
func (s *Scraper) Fetch(ctx context.Context) ([]domain.EconomicEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar returned %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar html: %w", err)
	}

	now := s.now().In(s.loc)
	var events []domain.EconomicEvent

	doc.Find("tr.economicCalendarRow").Each(func(_ int, row *goquery.Selection) {
		event, ok := s.parseRow(row, now)
		if !ok {
			return
		}
		if !s.sameDayOrTomorrow(event.Time, now) {
			return
		}
		events = append(events, event)
	})

	sort.Slice(events, func(i, j int) bool {
		return events[i].Time.Before(events[j].Time)
	})

	return events, nil
}

func (s *Scraper) parseRow(row *goquery.Selection, now time.Time) (domain.EconomicEvent, bool) {
	dateDiv := row.Find("div[data-calendardatetd]")
	if dateDiv.Length() == 0 {
		return domain.EconomicEvent{}, false
	}
	dateStr := strings.TrimSpace(dateDiv.Text())

	tds := row.Find("td")
	if tds.Length() < 6 {
		return domain.EconomicEvent{}, false
	}

	currency := strings.TrimSpace(tds.Eq(3).Text())
	title := strings.TrimSpace(tds.Eq(4).Text())

	impact := "None"
	if impactDiv := tds.Eq(5).Find("div[class*='impact_']"); impactDiv.Length() > 0 {
		impact = strings.TrimSpace(impactDiv.First().Text())
	}

	if !s.currencies[currency] || !s.impacts[impact] {
		return domain.EconomicEvent{}, false
	}

	eventTime, err := s.parseEventTime(dateStr, now)
	if err != nil {
		s.logger.Warn("Failed to parse calendar row date",
			slog.String("date", dateStr),
			slog.String("err", err.Error()))
		return domain.EconomicEvent{}, false
	}

	return domain.EconomicEvent{
		Time:     eventTime,
		Currency: currency,
		Title:    title,
		Impact:   impact,
		Previous: textOr(row.Find("td[data-previous]"), "N/A"),
		Forecast: textOr(row.Find("td[data-concensus]"), "N/A"),
		Actual:   textOr(row.Find("td[data-actual]"), "Not released"),
	}, true
}

// parseEventTime разбирает строки вида "Jan 5, 2:30PM" и "Jan 5, 14:30".
// Сначала пробуем 12-часовой формат с AM/PM, затем 24-часовой.
func (s *Scraper) parseEventTime(dateStr string, now time.Time) (time.Time, error) {
	parts := strings.SplitN(dateStr, ",", 2)
	datePart := strings.TrimSpace(parts[0])

	day, err := time.Parse("Jan 2 2006", fmt.Sprintf("%s %d", datePart, now.Year()))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date part %q: %w", datePart, err)
	}

	hour, minute := 0, 0
	if len(parts) == 2 {
		timePart := strings.TrimSpace(parts[1])
		if timePart != "" {
			clock, err := time.Parse("3:04PM", strings.ToUpper(timePart))
			if err != nil {
				clock, err = time.Parse("15:04", timePart)
			}
			if err != nil {
				return time.Time{}, fmt.Errorf("bad time part %q: %w", timePart, err)
			}
			hour, minute = clock.Hour(), clock.Minute()
		}
	}

	return time.Date(now.Year(), day.Month(), day.Day(), hour, minute, 0, 0, s.loc), nil
}

func (s *Scraper) sameDayOrTomorrow(event, now time.Time) bool {
	ey, em, ed := event.In(s.loc).Date()
	for offset := 0; offset <= 1; offset++ {
		ny, nm, nd := now.AddDate(0, 0, offset).Date()
		if ey == ny && em == nm && ed == nd {
			return true
		}
	}
	return false
}

func textOr(sel *goquery.Selection, fallback string) string {
	if sel.Length() == 0 {
		return fallback
	}
	text := strings.TrimSpace(sel.First().Text())
	if text == "" {
		return fallback
	}
	return text
}
