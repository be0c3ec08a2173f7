package ledger

import (
	"context"
	"math"
	"testing"
)

type fakeStore struct {
	addCalls    []int
	setCalls    []int
	unlockCost  int
	unlockCalls int
	perfected   []string
	attempts    []string
	balance     int
}

func (f *fakeStore) AddCredits(ctx context.Context, uid string, delta int) error {
	f.addCalls = append(f.addCalls, delta)
	f.balance += delta
	return nil
}

func (f *fakeStore) SetCredits(ctx context.Context, uid string, value int) error {
	f.setCalls = append(f.setCalls, value)
	f.balance = value
	return nil
}

func (f *fakeStore) UnlockSocial(ctx context.Context, uid string, cost int) error {
	f.unlockCalls++
	f.unlockCost = cost
	f.balance -= cost
	return nil
}

func (f *fakeStore) AddPerfectedQuiz(ctx context.Context, uid, quizID string) error {
	f.perfected = append(f.perfected, quizID)
	return nil
}

func (f *fakeStore) IncrementQuizAttempt(ctx context.Context, uid, quizID string) error {
	f.attempts = append(f.attempts, quizID)
	return nil
}

type fakeNotifier struct {
	changed []string
}

func (f *fakeNotifier) UserChanged(ctx context.Context, uid string) {
	f.changed = append(f.changed, uid)
}

func newService() (*Service, *fakeStore, *fakeNotifier) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	return New(store, notifier), store, notifier
}

func TestGiftSumsIndependentOfOrder(t *testing.T) {
	ctx := context.Background()

	orders := [][]float64{
		{5, 10, 1},
		{10, 1, 5},
		{1, 5, 10},
	}
	for _, amounts := range orders {
		svc, store, _ := newService()
		store.balance = 50
		for _, amount := range amounts {
			if err := svc.Gift(ctx, "uid-1", amount); err != nil {
				t.Fatalf("Gift(%v) failed: %v", amount, err)
			}
		}
		if store.balance != 66 {
			t.Fatalf("balance after %v = %d, want 66", amounts, store.balance)
		}
	}
}

func TestGiftValidationGate(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		uid    string
		amount float64
	}{
		{name: "zero", uid: "uid-1", amount: 0},
		{name: "negative", uid: "uid-1", amount: -5},
		{name: "nan", uid: "uid-1", amount: math.NaN()},
		{name: "positive inf", uid: "uid-1", amount: math.Inf(1)},
		{name: "negative inf", uid: "uid-1", amount: math.Inf(-1)},
		{name: "missing uid", uid: "", amount: 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, notifier := newService()
			if err := svc.Gift(ctx, tc.uid, tc.amount); err != nil {
				t.Fatalf("Gift returned error: %v", err)
			}
			if len(store.addCalls) != 0 {
				t.Fatalf("expected no store write, got %v", store.addCalls)
			}
			if len(notifier.changed) != 0 {
				t.Fatal("expected no change notification")
			}
		})
	}
}

func TestGrantAllowsNegativeDelta(t *testing.T) {
	svc, store, _ := newService()
	store.balance = 5

	if err := svc.Grant(context.Background(), "uid-1", -10); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	// No floor: a penalty can drive the balance negative.
	if store.balance != -5 {
		t.Fatalf("balance = %d, want -5", store.balance)
	}
}

func TestResetToDefault(t *testing.T) {
	for _, prior := range []int{0, -30, 9000} {
		svc, store, _ := newService()
		store.balance = prior
		if err := svc.ResetToDefault(context.Background(), "uid-1"); err != nil {
			t.Fatalf("ResetToDefault failed: %v", err)
		}
		if store.balance != DefaultBalance {
			t.Fatalf("balance after reset from %d = %d, want %d", prior, store.balance, DefaultBalance)
		}
		if len(store.setCalls) != 1 || store.setCalls[0] != DefaultBalance {
			t.Fatalf("expected one SetCredits(%d), got %v", DefaultBalance, store.setCalls)
		}
	}
}

func TestUnlockFeatureChargesCost(t *testing.T) {
	svc, store, notifier := newService()
	store.balance = 50

	if err := svc.UnlockFeature(context.Background(), "uid-1"); err != nil {
		t.Fatalf("UnlockFeature failed: %v", err)
	}
	if store.unlockCalls != 1 || store.unlockCost != SocialUnlockCost {
		t.Fatalf("expected one UnlockSocial(%d), got %d calls with cost %d",
			SocialUnlockCost, store.unlockCalls, store.unlockCost)
	}
	if store.balance != 30 {
		t.Fatalf("balance = %d, want 30", store.balance)
	}
	if len(notifier.changed) != 1 {
		t.Fatalf("expected one change notification, got %d", len(notifier.changed))
	}
}

func TestQuizOpsIgnoreEmptyKeys(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()

	if err := svc.AddPerfectedQuiz(ctx, "uid-1", ""); err != nil {
		t.Fatalf("AddPerfectedQuiz failed: %v", err)
	}
	if err := svc.IncrementQuizAttempt(ctx, "", "quiz-1"); err != nil {
		t.Fatalf("IncrementQuizAttempt failed: %v", err)
	}
	if len(store.perfected) != 0 || len(store.attempts) != 0 {
		t.Fatalf("expected no writes, got %v / %v", store.perfected, store.attempts)
	}

	if err := svc.AddPerfectedQuiz(ctx, "uid-1", "quiz-1"); err != nil {
		t.Fatalf("AddPerfectedQuiz failed: %v", err)
	}
	if err := svc.IncrementQuizAttempt(ctx, "uid-1", "quiz-1"); err != nil {
		t.Fatalf("IncrementQuizAttempt failed: %v", err)
	}
	if len(store.perfected) != 1 || len(store.attempts) != 1 {
		t.Fatalf("expected one write each, got %v / %v", store.perfected, store.attempts)
	}
}
