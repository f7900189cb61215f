package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gorm.io/gorm"

	"github.com/spinescan/spinescan/internal/datastore"
)

// Verifier compares source and target after an export.
type Verifier struct {
	sourceDB *gorm.DB
	targetDB *gorm.DB
	out      io.Writer
}

// NewVerifier creates a new Verifier.
func NewVerifier(sourceDB, targetDB *gorm.DB, out io.Writer) *Verifier {
	return &Verifier{sourceDB: sourceDB, targetDB: targetDB, out: out}
}

// Verify checks row counts and per-scan detection counts.
func (v *Verifier) Verify(ctx context.Context) error {
	if err := v.verifyCounts(ctx); err != nil {
		return fmt.Errorf("count verification failed: %w", err)
	}
	if err := v.verifyDetectionSets(ctx); err != nil {
		return fmt.Errorf("detection verification failed: %w", err)
	}
	return nil
}

func (v *Verifier) verifyCounts(ctx context.Context) error {
	tables := []struct {
		name  string
		model any
	}{
		{"scans", &datastore.Scan{}},
		{"detections", &datastore.Detection{}},
	}

	fmt.Fprintf(v.out, "%-15s %12s %12s %8s\n", "Table", "Source", "Target", "Match")
	fmt.Fprintln(v.out, strings.Repeat("-", 50))

	var mismatched []string
	for _, t := range tables {
		var source, target int64
		if err := v.sourceDB.WithContext(ctx).Model(t.model).Count(&source).Error; err != nil {
			return fmt.Errorf("failed to count source %s: %w", t.name, err)
		}
		if err := v.targetDB.WithContext(ctx).Model(t.model).Count(&target).Error; err != nil {
			return fmt.Errorf("failed to count target %s: %w", t.name, err)
		}

		// The target may hold rows of its own, only missing rows are an error
		match := "ok"
		if target < source {
			match = "MISSING"
			mismatched = append(mismatched, t.name)
		}
		fmt.Fprintf(v.out, "%-15s %12d %12d %8s\n", t.name, source, target, match)
	}

	if len(mismatched) > 0 {
		return fmt.Errorf("target is missing rows in: %s", strings.Join(mismatched, ", "))
	}
	return nil
}

type detectionCount struct {
	ScanID string
	N      int64
}

// verifyDetectionSets checks that every exported scan has the same number of
// detections in both databases. A partial set would change its verdict.
func (v *Verifier) verifyDetectionSets(ctx context.Context) error {
	count := func(db *gorm.DB) (map[string]int64, error) {
		var rows []detectionCount
		err := db.WithContext(ctx).Model(&datastore.Detection{}).
			Select("scan_id, count(*) as n").Group("scan_id").Scan(&rows).Error
		out := make(map[string]int64, len(rows))
		for _, r := range rows {
			out[r.ScanID] = r.N
		}
		return out, err
	}

	source, err := count(v.sourceDB)
	if err != nil {
		return err
	}
	target, err := count(v.targetDB)
	if err != nil {
		return err
	}

	var bad []string
	for scanID, n := range source {
		if target[scanID] != n {
			bad = append(bad, fmt.Sprintf("%s (source %d, target %d)", scanID, n, target[scanID]))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("detection sets differ for %d scan(s): %s", len(bad), strings.Join(bad, "; "))
	}
	fmt.Fprintf(v.out, "Detection sets match for %d scan(s)\n", len(source))
	return nil
}
