package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	Leaderboard(ctx context.Context, limit int) ([]RankedUser, error)
	PollResults(ctx context.Context, pollID string) (PollReport, error)
}

// RankedUser is one leaderboard row, best first.
type RankedUser struct {
	Rank        int
	DisplayName string
	Credits     int
	Perfected   int
}

// PollReport holds one poll's tallies for export.
type PollReport struct {
	ID        string
	Question  string
	Options   []string
	Results   map[string]int
	IsActive  bool
	CreatedAt time.Time
}

// Service renders reports in the requested format
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

const defaultLeaderboardRows = 50

// Export generates a report in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	switch req.Kind {
	case KindLeaderboard:
		return s.exportLeaderboard(ctx, req)
	case KindPollResults:
		return s.exportPollResults(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, req.Kind)
	}
}

func (s *Service) exportLeaderboard(ctx context.Context, req Request) (*Result, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLeaderboardRows
	}
	rows, err := s.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}

	title := "Credit Leaderboard"
	switch req.Format {
	case FormatCSV:
		records := [][]string{{"rank", "student", "credits", "perfected_quizzes"}}
		for _, row := range rows {
			records = append(records, []string{
				strconv.Itoa(row.Rank),
				row.DisplayName,
				strconv.Itoa(row.Credits),
				strconv.Itoa(row.Perfected),
			})
		}
		return csvResult(title, records)
	case FormatPDF:
		html, err := RenderLeaderboardHTML(LeaderboardData{
			Title:       title,
			GeneratedAt: time.Now(),
			Rows:        rows,
		})
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return exportPDF(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func (s *Service) exportPollResults(ctx context.Context, req Request) (*Result, error) {
	report, err := s.store.PollResults(ctx, req.PollID)
	if err != nil {
		return nil, fmt.Errorf("load poll: %w", err)
	}

	total := 0
	for _, option := range report.Options {
		total += report.Results[option]
	}

	title := "Poll Results " + report.ID
	switch req.Format {
	case FormatCSV:
		records := [][]string{{"option", "votes", "share"}}
		for _, option := range report.Options {
			votes := report.Results[option]
			records = append(records, []string{option, strconv.Itoa(votes), shareOf(votes, total)})
		}
		return csvResult(title, records)
	case FormatPDF:
		data := PollData{
			Question:    report.Question,
			GeneratedAt: time.Now(),
			TotalVotes:  total,
			Active:      report.IsActive,
		}
		for _, option := range report.Options {
			votes := report.Results[option]
			data.Rows = append(data.Rows, PollRow{
				Option: option,
				Votes:  votes,
				Share:  shareOf(votes, total),
			})
		}
		html, err := RenderPollHTML(data)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return exportPDF(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func shareOf(votes, total int) string {
	if total == 0 {
		return "0%"
	}
	return strconv.Itoa(votes*100/total) + "%"
}

func csvResult(title string, records [][]string) (*Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(title) + ".csv",
		MimeType: "text/csv",
	}, nil
}
