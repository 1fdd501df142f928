package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angeloszaimis/proxypool/internal/strategy"
)

const (
	DefaultMaxFailures  = 5
	DefaultRetries      = 3
	DefaultRetryBackoff = 50 * time.Millisecond

	deleteChunkSize = 500
	sqlitePragmas   = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
)

type Config struct {
	Path         string
	MaxFailures  int
	Retries      int
	RetryBackoff time.Duration
}

type Registry struct {
	cfg      Config
	db       *gorm.DB
	clock    clock.Clock
	selector strategy.Strategy
	logger   *slog.Logger
	writeMu  sync.Mutex
}

// New opens (or creates) the database at cfg.Path and migrates the schema.
// A nil selector falls back to the fastest-biased strategy.
func New(cfg Config, clk clock.Clock, selector strategy.Strategy, logger *slog.Logger) (*Registry, error) {
	if cfg.Path == "" {
		return nil, errors.New("registry: database path is required")
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if clk == nil {
		clk = clock.New()
	}
	if selector == nil {
		selector = strategy.NewFastestBiasedStrategy(strategy.DefaultBias, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path+sqlitePragmas), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return clk.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&ProxyRecord{}, &FeedMeta{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("registry opened", slog.String("path", cfg.Path))

	return &Registry{
		cfg:      cfg,
		db:       db,
		clock:    clk,
		selector: selector,
		logger:   logger,
	}, nil
}

func (r *Registry) MaxFailures() int {
	return r.cfg.MaxFailures
}

// Upsert folds one probe outcome into the record for rawURL, creating it on
// first sight. An empty protocol keeps the stored one, or the url scheme for
// new records.
func (r *Registry) Upsert(ctx context.Context, rawURL, protocol string, outcome Outcome) (ProxyRecord, error) {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return ProxyRecord{}, err
	}

	var saved ProxyRecord
	err = r.write(ctx, "upsert", func(tx *gorm.DB) error {
		now := r.clock.Now().UTC()

		var rec ProxyRecord
		err := tx.Where("url = ?", key).Take(&rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = ProxyRecord{URL: key, Protocol: ProtocolOf(key), CreatedAt: now}
		case err != nil:
			return err
		}

		if protocol != "" {
			rec.Protocol = protocol
		}
		r.apply(&rec, outcome)
		rec.LastTestedAt = now

		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url"}},
			DoUpdates: clause.AssignmentColumns([]string{"protocol", "working", "timeout_seconds", "failed_count", "last_tested_at"}),
		}).Create(&rec).Error
		if err != nil {
			return err
		}

		saved = rec
		return nil
	})
	if err != nil {
		return ProxyRecord{}, err
	}

	return saved, nil
}

// apply is the health state machine. New records start out not working, so
// a failure on first sight leaves them that way.
func (r *Registry) apply(rec *ProxyRecord, outcome Outcome) {
	if outcome.Success {
		rec.Working = true
		rec.FailedCount = 0
		rec.TimeoutSeconds = outcome.Latency.Seconds()
		return
	}

	rec.FailedCount++
	if rec.FailedCount >= r.cfg.MaxFailures {
		rec.Working = false
	}
}

func (r *Registry) Get(ctx context.Context, rawURL string) (ProxyRecord, error) {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return ProxyRecord{}, err
	}

	var rec ProxyRecord
	err = r.retry(ctx, "get", func(db *gorm.DB) error {
		return db.Where("url = ?", key).Take(&rec).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProxyRecord{}, ErrNotFound
	}
	if err != nil {
		return ProxyRecord{}, err
	}

	return rec, nil
}

// GetWorking returns working records fastest first, ties broken by url.
// limit <= 0 means no limit.
func (r *Registry) GetWorking(ctx context.Context, limit int) ([]ProxyRecord, error) {
	var records []ProxyRecord
	err := r.retry(ctx, "get working", func(db *gorm.DB) error {
		q := db.Where("working = ?", true).Order("timeout_seconds ASC").Order("url ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Find(&records).Error
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (r *Registry) GetAllWorking(ctx context.Context) ([]ProxyRecord, error) {
	return r.GetWorking(ctx, 0)
}

// GetRandomWorking picks one working record with the configured selector.
func (r *Registry) GetRandomWorking(ctx context.Context) (ProxyRecord, error) {
	records, err := r.GetWorking(ctx, 0)
	if err != nil {
		return ProxyRecord{}, err
	}

	idx := r.selector.SelectIndex(len(records))
	if idx < 0 || idx >= len(records) {
		return ProxyRecord{}, ErrUnavailable
	}

	return records[idx], nil
}

// GetRecoveryCandidates returns every record that is not working.
func (r *Registry) GetRecoveryCandidates(ctx context.Context) ([]ProxyRecord, error) {
	var records []ProxyRecord
	err := r.retry(ctx, "get recovery candidates", func(db *gorm.DB) error {
		return db.Where("working = ?", false).Order("url ASC").Find(&records).Error
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// RemoveMissing deletes every record whose url is not in current and returns
// how many were removed.
func (r *Registry) RemoveMissing(ctx context.Context, current []string) (int64, error) {
	keep := make(map[string]struct{}, len(current))
	for _, raw := range current {
		if key, err := NormalizeURL(raw); err == nil {
			keep[key] = struct{}{}
		}
	}

	var removed int64
	err := r.write(ctx, "remove missing", func(tx *gorm.DB) error {
		removed = 0

		var urls []string
		if err := tx.Model(&ProxyRecord{}).Pluck("url", &urls).Error; err != nil {
			return err
		}

		stale := make([]string, 0)
		for _, u := range urls {
			if _, ok := keep[u]; !ok {
				stale = append(stale, u)
			}
		}

		for start := 0; start < len(stale); start += deleteChunkSize {
			end := min(start+deleteChunkSize, len(stale))
			res := tx.Where("url IN ?", stale[start:end]).Delete(&ProxyRecord{})
			if res.Error != nil {
				return res.Error
			}
			removed += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		r.logger.Info("removed proxies missing upstream", slog.Int64("count", removed))
	}
	return removed, nil
}

// Cleanup deletes non-working records with at least threshold failures.
func (r *Registry) Cleanup(ctx context.Context, threshold int) (int64, error) {
	if threshold <= 0 {
		threshold = r.cfg.MaxFailures
	}

	var removed int64
	err := r.write(ctx, "cleanup", func(tx *gorm.DB) error {
		res := tx.Where("failed_count >= ? AND working = ?", threshold, false).Delete(&ProxyRecord{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, err
	}

	return removed, nil
}

// Stats reads all counters inside one transaction so they agree with each other.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := r.retry(ctx, "stats", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			stats = Stats{}
			if err := tx.Model(&ProxyRecord{}).Count(&stats.Total).Error; err != nil {
				return err
			}
			if err := tx.Model(&ProxyRecord{}).Where("working = ?", true).Count(&stats.Working).Error; err != nil {
				return err
			}
			stats.Failed = stats.Total - stats.Working

			var meta FeedMeta
			err := tx.Where("id = ?", feedMetaID).Take(&meta).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				return nil
			case err != nil:
				return err
			}
			stats.LastSyncAt = meta.ObservedAt
			stats.LastToken = meta.Token
			return nil
		})
	})
	if err != nil {
		return Stats{}, err
	}

	return stats, nil
}

// LastChangeToken returns the stored feed token, or "" when none was saved.
func (r *Registry) LastChangeToken(ctx context.Context) (string, time.Time, error) {
	var meta FeedMeta
	err := r.retry(ctx, "last change token", func(db *gorm.DB) error {
		return db.Where("id = ?", feedMetaID).Take(&meta).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}

	return meta.Token, meta.ObservedAt, nil
}

func (r *Registry) SaveChangeToken(ctx context.Context, token string) error {
	meta := FeedMeta{ID: feedMetaID, Token: token, ObservedAt: r.clock.Now().UTC()}

	return r.write(ctx, "save change token", func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "observed_at"}),
		}).Create(&meta).Error
	})
}

func (r *Registry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	r.logger.Info("registry closed")
	return nil
}
