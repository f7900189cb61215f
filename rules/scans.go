//go:build ruleguard

// Package gorules defines project specific linter rules for go-ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// ScanStatusWrites reports direct writes to the scans.status column.
//
// Status changes must be conditional so two runs can never both claim a
// scan:
//
//	store.TransitionStatus(ctx, id, RunnableStatuses, StatusRunning)
//
// rather than
//
//	db.Model(&Scan{}).Where("id = ?", id).Update("status", StatusRunning)
func ScanStatusWrites(m dsl.Matcher) {
	m.Match(
		`$db.Update("status", $_)`,
		`$db.UpdateColumn("status", $_)`,
	).
		Where(m["db"].Type.Is("*gorm.DB") && !m.File().Name.Matches(`scan_repository\.go$`)).
		Report("change scan status through TransitionStatus")
}

// DefaultHTTPClient reports use of the shared net/http client. Outbound calls
// go through internal/httpclient, which carries timeouts and connection limits.
func DefaultHTTPClient(m dsl.Matcher) {
	m.Match(
		`http.DefaultClient`,
		`http.Get($*_)`,
		`http.Post($*_)`,
	).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("use internal/httpclient for outbound requests")
}
