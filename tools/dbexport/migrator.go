package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/spinescan/spinescan/internal/conf"
	"github.com/spinescan/spinescan/internal/datastore"
	"github.com/spinescan/spinescan/internal/logger"
)

// Migrator copies rows from a source store to a target store.
type Migrator struct {
	cfg    Config
	source *datastore.Store
	target *datastore.Store
	log    logger.Logger
}

// MigrationStats tracks export statistics.
type MigrationStats struct {
	StartTime time.Time
	EndTime   time.Time
	Tables    []TableStats
}

// TableStats tracks per-table statistics.
type TableStats struct {
	Name     string
	Copied   int64
	Skipped  int64
	Duration time.Duration
}

// Print writes the export statistics to w.
func (s *MigrationStats) Print(w io.Writer) {
	fmt.Fprintln(w, "\n=== Export Summary ===")
	fmt.Fprintf(w, "Duration: %s\n\n", s.EndTime.Sub(s.StartTime).Round(time.Millisecond))

	fmt.Fprintf(w, "%-15s %10s %10s %12s\n", "Table", "Copied", "Skipped", "Duration")
	fmt.Fprintln(w, strings.Repeat("-", 50))

	var copied, skipped int64
	for _, t := range s.Tables {
		fmt.Fprintf(w, "%-15s %10d %10d %12s\n", t.Name, t.Copied, t.Skipped, t.Duration.Round(time.Millisecond))
		copied += t.Copied
		skipped += t.Skipped
	}

	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "%-15s %10d %10d\n", "TOTAL", copied, skipped)
}

// OpenMigrator opens the SQLite source and the configured target.
func OpenMigrator(ctx context.Context, cfg *Config, target *conf.DatabaseSettings) (*Migrator, error) {
	level := logger.LogLevelWarn
	if cfg.Verbose {
		level = logger.LogLevelDebug
	}
	log := logger.NewSlogLogger(nil, level, nil)

	source, err := datastore.OpenSQLite(cfg.SQLitePath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	dest, err := datastore.Open(target, log)
	if err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("failed to open %s database: %w", target.Driver, err)
	}

	for name, s := range map[string]*datastore.Store{"source": source, "target": dest} {
		if err := s.Ping(ctx); err != nil {
			_ = source.Close()
			_ = dest.Close()
			return nil, fmt.Errorf("failed to ping %s database: %w", name, err)
		}
	}
	return NewMigrator(cfg, source, dest, log), nil
}

// NewMigrator creates a Migrator over already opened stores.
func NewMigrator(cfg *Config, source, target *datastore.Store, log logger.Logger) *Migrator {
	return &Migrator{cfg: *cfg, source: source, target: target, log: log}
}

// Close closes both database connections.
func (m *Migrator) Close() {
	_ = m.source.Close()
	_ = m.target.Close()
}

// Run migrates the target schema and copies scans, then detections.
func (m *Migrator) Run(ctx context.Context) (*MigrationStats, error) {
	stats := &MigrationStats{StartTime: time.Now()}

	if err := m.target.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate target schema: %w", err)
	}

	if m.cfg.Clean {
		if err := m.clean(ctx); err != nil {
			return nil, fmt.Errorf("failed to clean target: %w", err)
		}
	}

	scans, err := copyTable(ctx, m, "scans", func(rows []datastore.Scan) {
		for i := range rows {
			if rows[i].Status == datastore.StatusRunning {
				rows[i].Status = datastore.StatusFailed
			}
		}
	})
	if err != nil {
		return stats, fmt.Errorf("failed to copy scans: %w", err)
	}
	stats.Tables = append(stats.Tables, *scans)

	detections, err := copyTable[datastore.Detection](ctx, m, "detections", nil)
	if err != nil {
		return stats, fmt.Errorf("failed to copy detections: %w", err)
	}
	stats.Tables = append(stats.Tables, *detections)

	stats.EndTime = time.Now()
	return stats, nil
}

// clean removes target rows, children first.
func (m *Migrator) clean(ctx context.Context) error {
	db := m.target.DB().WithContext(ctx)
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&datastore.Detection{}).Error; err != nil {
			return err
		}
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&datastore.Scan{}).Error
	})
}

// copyTable copies every row of T in batches. Rows whose primary key already
// exists in the target are skipped. rewrite may adjust a batch before insert.
func copyTable[T any](ctx context.Context, m *Migrator, name string, rewrite func([]T)) (*TableStats, error) {
	start := time.Now()
	stats := &TableStats{Name: name}

	var total int64
	if err := m.source.DB().WithContext(ctx).Model(new(T)).Count(&total).Error; err != nil {
		return stats, fmt.Errorf("failed to count source rows: %w", err)
	}
	if total == 0 {
		m.log.Info("no rows to copy", logger.String("table", name))
		stats.Duration = time.Since(start)
		return stats, nil
	}

	batch := make([]T, 0, m.cfg.BatchSize)
	result := m.source.DB().WithContext(ctx).Model(new(T)).
		FindInBatches(&batch, m.cfg.BatchSize, func(_ *gorm.DB, n int) error {
			if rewrite != nil {
				rewrite(batch)
			}
			res := m.target.DB().WithContext(ctx).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&batch)
			if res.Error != nil {
				return fmt.Errorf("batch %d: %w", n, res.Error)
			}
			stats.Copied += res.RowsAffected
			stats.Skipped += int64(len(batch)) - res.RowsAffected
			m.log.Debug("batch copied",
				logger.String("table", name),
				logger.Int("batch", n),
				logger.Int64("copied", stats.Copied))
			return nil
		})
	stats.Duration = time.Since(start)
	if result.Error != nil {
		return stats, result.Error
	}
	return stats, nil
}
