package app

import (
	"context"

	"studyhub/api/internal/export"
	"studyhub/api/internal/store"
)

type reportStore interface {
	Leaderboard(ctx context.Context, limit int) ([]store.User, error)
	GetPoll(ctx context.Context, pollID string) (store.Poll, error)
}

// ReportSource feeds the export service from the document store.
type ReportSource struct {
	store reportStore
}

func NewReportSource(s *store.PostgresStore) *ReportSource {
	return &ReportSource{store: s}
}

func (r *ReportSource) Leaderboard(ctx context.Context, limit int) ([]export.RankedUser, error) {
	users, err := r.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	rows := make([]export.RankedUser, 0, len(users))
	for i, user := range users {
		rows = append(rows, export.RankedUser{
			Rank:        i + 1,
			DisplayName: user.DisplayName,
			Credits:     user.Credits,
			Perfected:   len(user.PerfectedQuizzes),
		})
	}
	return rows, nil
}

func (r *ReportSource) PollResults(ctx context.Context, pollID string) (export.PollReport, error) {
	poll, err := r.store.GetPoll(ctx, pollID)
	if err != nil {
		return export.PollReport{}, err
	}
	return export.PollReport{
		ID:        poll.ID,
		Question:  poll.Question,
		Options:   poll.Options,
		Results:   poll.Results,
		IsActive:  poll.IsActive,
		CreatedAt: poll.CreatedAt,
	}, nil
}
