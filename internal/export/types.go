// Package export renders admin reports (credit leaderboard, poll results)
// as PDF or CSV downloads.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatPDF Format = "pdf"
	FormatCSV Format = "csv"
)

// Kind selects which report to export
type Kind string

const (
	KindLeaderboard Kind = "leaderboard"
	KindPollResults Kind = "poll_results"
)

// Request contains parameters for an export operation
type Request struct {
	Kind   Kind
	Format Format
	PollID string // required for KindPollResults
	Limit  int    // leaderboard rows, 0 = default
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrUnknownKind indicates the requested report does not exist.
	ErrUnknownKind = errors.New("export kind unknown")
)
