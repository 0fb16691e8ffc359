package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/dvloznov/notion-ledger/internal/logger"
)

// KeyPattern matches every cached summary.
const KeyPattern = "summary:*"

// Service computes summaries for calendar periods, memoised in a cache.
type Service struct {
	entries ledger.EntryReader
	cache   cache.Cache
	ttl     time.Duration
}

// NewService creates a summary service. A ttl <= 0 keeps cached summaries
// until they are invalidated.
func NewService(entries ledger.EntryReader, c cache.Cache, ttl time.Duration) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	return &Service{entries: entries, cache: c, ttl: ttl}
}

// MonthKey is the cache key of a monthly summary.
func MonthKey(year, month int) string {
	return fmt.Sprintf("summary:%d-%02d", year, month)
}

// YearKey is the cache key of a yearly summary.
func YearKey(year int) string {
	return fmt.Sprintf("summary:%d", year)
}

// Monthly returns the summary of one calendar month.
func (s *Service) Monthly(ctx context.Context, year, month int) (*Summary, error) {
	p, err := ledger.MonthPeriod(year, month)
	if err != nil {
		return nil, err
	}
	return s.forPeriod(ctx, MonthKey(year, month), p)
}

// Yearly returns the summary of one calendar year.
func (s *Service) Yearly(ctx context.Context, year int) (*Summary, error) {
	return s.forPeriod(ctx, YearKey(year), ledger.YearPeriod(year))
}

func (s *Service) forPeriod(ctx context.Context, key string, p ledger.Period) (*Summary, error) {
	log := logger.FromContext(ctx)

	if v, ok := s.cache.Get(key, s.ttl); ok {
		if sum, ok := v.(*Summary); ok {
			log.Debug().Str("cache_key", key).Msg("Summary cache hit")
			return sum, nil
		}
	}

	start, end := p.Start, p.End
	entries, err := s.entries.ListEntries(ctx, &start, &end)
	if err != nil {
		return nil, fmt.Errorf("Summary: listing entries for %s: %w", key, err)
	}

	sum := Compute(entries)
	sum.Period = p
	s.cache.Set(key, &sum)

	log.Debug().
		Str("cache_key", key).
		Int("entry_count", len(entries)).
		Msg("Summary computed")

	return &sum, nil
}
