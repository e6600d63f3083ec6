package report

import (
	"context"
	"fmt"
	"log"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lucciole/backend/internal/cache"
	"lucciole/backend/internal/domain"
	"lucciole/backend/internal/store"
)

// dayBucketLimit is the widest window still charted per day; anything wider
// switches to month buckets.
const dayBucketLimit = 60

// Aggregator builds the manager report from the movement log alone. It never
// reads the item store, so reports stay valid for deleted items.
type Aggregator struct {
	repo  store.Repository
	cache cache.SnapshotCache
	ttl   time.Duration
}

func NewAggregator(repo store.Repository, snapshots cache.SnapshotCache, ttl time.Duration) *Aggregator {
	if snapshots == nil {
		snapshots = cache.NoopSnapshotCache{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Aggregator{repo: repo, cache: snapshots, ttl: ttl}
}

// Generate aggregates the log entries falling in [from 00:00:00, to
// 23:59:59] inclusive. The windowed snapshot is cached under the date pair
// only, so a rerun that changes just the name filter reuses it and the table
// and chart are always computed from the same entries.
func (a *Aggregator) Generate(ctx context.Context, fromStr, toStr, nameFilter string) (domain.Report, error) {
	from, err := time.Parse("2006-01-02", strings.TrimSpace(fromStr))
	if err != nil {
		return domain.Report{}, fmt.Errorf("%w: from date", store.ErrInvalidInput)
	}
	to, err := time.Parse("2006-01-02", strings.TrimSpace(toStr))
	if err != nil {
		return domain.Report{}, fmt.Errorf("%w: to date", store.ErrInvalidInput)
	}
	from = from.UTC()
	to = to.UTC()
	if to.Before(from) {
		return domain.Report{}, fmt.Errorf("%w: window ends before it starts", store.ErrInvalidInput)
	}

	entries, err := a.windowedEntries(ctx, from, to)
	if err != nil {
		return domain.Report{}, err
	}

	filter := domain.NormalizeName(nameFilter)
	filtered := entries
	if filter != "" {
		filtered = make([]domain.LogEntry, 0, len(entries))
		for _, entry := range entries {
			if strings.Contains(domain.NormalizeName(entry.ItemName), filter) {
				filtered = append(filtered, entry)
			}
		}
	}

	granularity := domain.ChartByDay
	if inclusiveDays(from, to) > dayBucketLimit {
		granularity = domain.ChartByMonth
	}

	return domain.Report{
		From:        from.Format("2006-01-02"),
		To:          to.Format("2006-01-02"),
		NameFilter:  strings.TrimSpace(nameFilter),
		Granularity: granularity,
		Rows:        buildRows(filtered),
		Chart:       buildChart(filtered, granularity),
	}, nil
}

// windowedEntries returns the log entries inside the window, from cache when
// a previous run already scanned the same dates.
func (a *Aggregator) windowedEntries(ctx context.Context, from, to time.Time) ([]domain.LogEntry, error) {
	key := fmt.Sprintf("report:%s:%s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	if cached, ok, err := a.cache.Get(ctx, key); err != nil {
		log.Printf("[report] WARN: snapshot cache read failed: %v", err)
	} else if ok {
		return cached, nil
	}

	// Full retrieval, then in-memory filtering: the backing store offers no
	// server-side date filter for the log.
	all, err := a.repo.ListLogs(ctx)
	if err != nil {
		return nil, err
	}

	end := to.Add(24 * time.Hour)
	windowed := make([]domain.LogEntry, 0, len(all))
	for _, entry := range all {
		if entry.Date.Before(from) || !entry.Date.Before(end) {
			continue
		}
		windowed = append(windowed, entry)
	}

	if err := a.cache.Set(ctx, key, windowed, a.ttl); err != nil {
		log.Printf("[report] WARN: snapshot cache write failed: %v", err)
	}
	return windowed, nil
}

type accumulator struct {
	loaded  float64
	sold    float64
	revenue decimal.Decimal
	cost    decimal.Decimal
}

// buildRows buckets entries per item name. Stock movements count positive
// deltas as loaded and negative ones as sold; each sale entry counts exactly
// one sold unit and carries its own revenue and cost. Accumulation is
// unrounded; rounding to 2 decimals happens once per row at the end.
func buildRows(entries []domain.LogEntry) []domain.ReportRow {
	byName := make(map[string]*accumulator)
	order := make([]string, 0, 16)

	for _, entry := range entries {
		acc, ok := byName[entry.ItemName]
		if !ok {
			acc = &accumulator{}
			byName[entry.ItemName] = acc
			order = append(order, entry.ItemName)
		}

		if entry.IsSale() {
			acc.sold++
			acc.revenue = acc.revenue.Add(entry.Revenue)
			acc.cost = acc.cost.Add(entry.Cost)
			continue
		}
		if entry.QuantityChange >= 0 {
			acc.loaded += entry.QuantityChange
		} else {
			acc.sold += -entry.QuantityChange
		}
	}

	rows := make([]domain.ReportRow, 0, len(byName))
	for _, name := range order {
		acc := byName[name]
		revenue := acc.revenue.Round(2)
		cost := acc.cost.Round(2)
		rows = append(rows, domain.ReportRow{
			ItemName: name,
			Loaded:   round2(acc.loaded),
			Sold:     round2(acc.sold),
			Revenue:  revenue,
			Cost:     cost,
			Margin:   revenue.Sub(cost),
		})
	}

	slices.SortFunc(rows, func(a, b domain.ReportRow) int {
		if a.Sold != b.Sold {
			if a.Sold > b.Sold {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ItemName, b.ItemName)
	})
	return rows
}

// buildChart sums sale revenue per time bucket. Stock movements never chart,
// whatever the filter. Buckets come out in chronological order because both
// key formats sort lexicographically by date.
func buildChart(entries []domain.LogEntry, granularity string) []domain.ChartPoint {
	keyFormat := "2006-01-02"
	if granularity == domain.ChartByMonth {
		keyFormat = "2006-01"
	}

	byBucket := make(map[string]decimal.Decimal)
	for _, entry := range entries {
		if !entry.IsSale() {
			continue
		}
		key := entry.Date.UTC().Format(keyFormat)
		byBucket[key] = byBucket[key].Add(entry.Revenue)
	}

	points := make([]domain.ChartPoint, 0, len(byBucket))
	for bucket, revenue := range byBucket {
		points = append(points, domain.ChartPoint{Bucket: bucket, Revenue: revenue.Round(2)})
	}
	slices.SortFunc(points, func(a, b domain.ChartPoint) int {
		return strings.Compare(a.Bucket, b.Bucket)
	})
	return points
}

func inclusiveDays(from, to time.Time) int {
	return int(to.Sub(from).Hours()/24) + 1
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
