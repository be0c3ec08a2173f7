// Package ledger owns every mutation of a user's credit balance. All writes
// go through the store's atomic increment or set primitives; reading a
// balance and writing it back is forbidden because the same user can be
// mutated concurrently from several devices.
package ledger

import (
	"context"
	"fmt"
	"math"
)

const (
	// DefaultBalance is the balance every account is reset to.
	DefaultBalance = 50
	// SocialUnlockCost is charged when the social feature is unlocked.
	SocialUnlockCost = 20
)

// Store is the slice of the document store the ledger mutates.
type Store interface {
	AddCredits(ctx context.Context, uid string, delta int) error
	SetCredits(ctx context.Context, uid string, value int) error
	UnlockSocial(ctx context.Context, uid string, cost int) error
	AddPerfectedQuiz(ctx context.Context, uid, quizID string) error
	IncrementQuizAttempt(ctx context.Context, uid, quizID string) error
}

// Notifier is told after a user document changed so live snapshots refresh.
type Notifier interface {
	UserChanged(ctx context.Context, uid string)
}

type Service struct {
	store    Store
	notifier Notifier
}

func New(store Store, notifier Notifier) *Service {
	return &Service{store: store, notifier: notifier}
}

// Grant applies a relative credit delta; delta may be negative. Callers
// observe the new balance through the live snapshot, not a return value.
// No floor is enforced: a penalty can take a balance below zero.
func (s *Service) Grant(ctx context.Context, uid string, delta int) error {
	if uid == "" {
		return nil
	}
	if err := s.store.AddCredits(ctx, uid, delta); err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	s.notifier.UserChanged(ctx, uid)
	return nil
}

// Gift is the caller-facing grant. A missing uid, a non-finite amount, or a
// non-positive amount silently does nothing; that is a validation gate, not
// an error.
func (s *Service) Gift(ctx context.Context, uid string, amount float64) error {
	if uid == "" || math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return nil
	}
	return s.Grant(ctx, uid, int(amount))
}

// ResetToDefault discards the previous balance unconditionally.
func (s *Service) ResetToDefault(ctx context.Context, uid string) error {
	if uid == "" {
		return nil
	}
	if err := s.store.SetCredits(ctx, uid, DefaultBalance); err != nil {
		return fmt.Errorf("reset credits: %w", err)
	}
	s.notifier.UserChanged(ctx, uid)
	return nil
}

// UnlockFeature sets the social unlock flag and charges its cost in one
// atomic update.
func (s *Service) UnlockFeature(ctx context.Context, uid string) error {
	if uid == "" {
		return nil
	}
	if err := s.store.UnlockSocial(ctx, uid, SocialUnlockCost); err != nil {
		return fmt.Errorf("unlock social: %w", err)
	}
	s.notifier.UserChanged(ctx, uid)
	return nil
}

// AddPerfectedQuiz records a perfect score; adding the same quiz twice is a
// no-op (set union).
func (s *Service) AddPerfectedQuiz(ctx context.Context, uid, quizID string) error {
	if uid == "" || quizID == "" {
		return nil
	}
	if err := s.store.AddPerfectedQuiz(ctx, uid, quizID); err != nil {
		return fmt.Errorf("add perfected quiz: %w", err)
	}
	s.notifier.UserChanged(ctx, uid)
	return nil
}

// IncrementQuizAttempt bumps the attempt counter for one quiz atomically.
func (s *Service) IncrementQuizAttempt(ctx context.Context, uid, quizID string) error {
	if uid == "" || quizID == "" {
		return nil
	}
	if err := s.store.IncrementQuizAttempt(ctx, uid, quizID); err != nil {
		return fmt.Errorf("increment quiz attempt: %w", err)
	}
	s.notifier.UserChanged(ctx, uid)
	return nil
}
