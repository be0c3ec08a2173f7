package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"studyhub/api/internal/authpw"
	"studyhub/api/internal/config"
	"studyhub/api/internal/focus"
	"studyhub/api/internal/ledger"
	"studyhub/api/internal/live"
	"studyhub/api/internal/session"
	"studyhub/api/internal/store"
)

// fakeStore is an in-memory stand-in for the Postgres store. It implements
// both the service's dataStore and the ledger's Store. Individual methods can
// be overridden through the Fn fields.
type fakeStore struct {
	mu            sync.Mutex
	users         map[string]store.User
	polls         map[string]store.Poll
	announcements []store.Announcement
	resources     map[store.ResourceCategory][]store.Resource
	messages      []store.GlobalMessage
	nextMessageID int64

	pingFn        func(ctx context.Context) error
	leaderboardFn func(ctx context.Context, limit int) ([]store.User, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     map[string]store.User{},
		polls:     map[string]store.Poll{},
		resources: map[store.ResourceCategory][]store.Resource{},
	}
}

func (f *fakeStore) seed(user store.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.UID] = user
}

func (f *fakeStore) user(uid string) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[uid]
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.VotedPolls == nil {
		user.VotedPolls = map[string]string{}
	}
	if user.QuizAttempts == nil {
		user.QuizAttempts = map[string]int{}
	}
	user.Credits = ledger.DefaultBalance
	f.users[user.UID] = user
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, uid string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[uid]
	if !ok {
		return store.User{}, store.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, store.ErrUserNotFound
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]store.User, 0, len(f.users))
	for _, user := range f.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UID < users[j].UID })
	return users, nil
}

func (f *fakeStore) Leaderboard(ctx context.Context, limit int) ([]store.User, error) {
	if f.leaderboardFn != nil {
		return f.leaderboardFn(ctx, limit)
	}
	users, _ := f.ListUsers(ctx)
	sort.Slice(users, func(i, j int) bool { return users[i].Credits > users[j].Credits })
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (f *fakeStore) SetUserBlocked(ctx context.Context, uid string, blocked bool) error {
	return f.mutateUser(uid, func(u *store.User) { u.IsBlocked = blocked })
}

func (f *fakeStore) SetUserPhotoURL(ctx context.Context, uid, url string) error {
	return f.mutateUser(uid, func(u *store.User) { u.PhotoURL = url })
}

func (f *fakeStore) mutateUser(uid string, apply func(*store.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[uid]
	if !ok {
		return store.ErrUserNotFound
	}
	apply(&user)
	f.users[uid] = user
	return nil
}

func (f *fakeStore) ActivePoll(ctx context.Context) (*store.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, poll := range f.polls {
		if poll.IsActive {
			active := poll
			return &active, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetPoll(ctx context.Context, id string) (store.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	poll, ok := f.polls[id]
	if !ok {
		return store.Poll{}, store.ErrPollNotFound
	}
	return poll, nil
}

func (f *fakeStore) PublishPoll(ctx context.Context, poll store.Poll) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, previous := range f.polls {
		previous.IsActive = false
		f.polls[id] = previous
	}
	f.polls[poll.ID] = poll
	return nil
}

func (f *fakeStore) VotePoll(ctx context.Context, pollID, uid, option string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	poll, ok := f.polls[pollID]
	if !ok {
		return store.ErrPollNotFound
	}
	poll.Results[option]++
	f.polls[pollID] = poll

	user := f.users[uid]
	if user.VotedPolls == nil {
		user.VotedPolls = map[string]string{}
	}
	user.VotedPolls[pollID] = option
	f.users[uid] = user
	return nil
}

func (f *fakeStore) InsertAnnouncement(ctx context.Context, item store.Announcement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announcements = append(f.announcements, item)
	return nil
}

func (f *fakeStore) DeleteAnnouncement(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.announcements[:0]
	for _, item := range f.announcements {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	f.announcements = kept
	return nil
}

func (f *fakeStore) ListAnnouncements(ctx context.Context) ([]store.Announcement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Announcement(nil), f.announcements...), nil
}

func (f *fakeStore) InsertResource(ctx context.Context, item store.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[item.Category] = append(f.resources[item.Category], item)
	return nil
}

func (f *fakeStore) UpdateResource(ctx context.Context, item store.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.resources[item.Category]
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			return nil
		}
	}
	f.resources[item.Category] = append(items, item)
	return nil
}

func (f *fakeStore) DeleteResource(ctx context.Context, category store.ResourceCategory, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.resources[category]
	kept := items[:0]
	for _, item := range items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	f.resources[category] = kept
	return nil
}

func (f *fakeStore) ListResources(ctx context.Context, category store.ResourceCategory) ([]store.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Resource(nil), f.resources[category]...), nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, uid, body string) (store.GlobalMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMessageID++
	message := store.GlobalMessage{
		ID:        f.nextMessageID,
		SenderID:  uid,
		Body:      body,
		CreatedAt: time.Now(),
	}
	f.messages = append(f.messages, message)
	return message, nil
}

func (f *fakeStore) RecentMessages(ctx context.Context, limit int) ([]store.GlobalMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	messages := f.messages
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return append([]store.GlobalMessage(nil), messages...), nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// ledger.Store

func (f *fakeStore) AddCredits(ctx context.Context, uid string, delta int) error {
	return f.mutateUser(uid, func(u *store.User) { u.Credits += delta })
}

func (f *fakeStore) SetCredits(ctx context.Context, uid string, value int) error {
	return f.mutateUser(uid, func(u *store.User) { u.Credits = value })
}

func (f *fakeStore) UnlockSocial(ctx context.Context, uid string, cost int) error {
	return f.mutateUser(uid, func(u *store.User) {
		u.SocialUnlocked = true
		u.Credits -= cost
	})
}

func (f *fakeStore) AddPerfectedQuiz(ctx context.Context, uid, quizID string) error {
	return f.mutateUser(uid, func(u *store.User) {
		for _, existing := range u.PerfectedQuizzes {
			if existing == quizID {
				return
			}
		}
		u.PerfectedQuizzes = append(u.PerfectedQuizzes, quizID)
	})
}

func (f *fakeStore) IncrementQuizAttempt(ctx context.Context, uid, quizID string) error {
	return f.mutateUser(uid, func(u *store.User) {
		if u.QuizAttempts == nil {
			u.QuizAttempts = map[string]int{}
		}
		u.QuizAttempts[quizID]++
	})
}

type fakeSessions struct {
	mu     sync.Mutex
	tokens map[string]session.TokenData
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: map[string]session.TokenData{}}
}

func (f *fakeSessions) Save(ctx context.Context, tokenHash string, data session.TokenData, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[tokenHash] = data
	return nil
}

func (f *fakeSessions) Lookup(ctx context.Context, tokenHash string) (session.TokenData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.tokens[tokenHash]
	if !ok {
		return session.TokenData{}, session.ErrNotFound
	}
	return data, nil
}

func (f *fakeSessions) Revoke(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, tokenHash)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	changed   []live.Collection
	userIDs   []string
	resources []store.ResourceCategory
}

func (f *fakeNotifier) Changed(ctx context.Context, c live.Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, c)
}

func (f *fakeNotifier) UserChanged(ctx context.Context, uid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userIDs = append(f.userIDs, uid)
}

func (f *fakeNotifier) ResourceChanged(ctx context.Context, category store.ResourceCategory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources = append(f.resources, category)
}

func (f *fakeNotifier) sawCollection(c live.Collection) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.changed {
		if got == c {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeNotifier) {
	t.Helper()
	fs := newFakeStore()
	fn := &fakeNotifier{}
	led := ledger.New(fs, fn)
	svc := &Service{
		cfg: config.Config{
			JWTSecret:     "test-secret",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    time.Hour,
			ChatWindow:    50,
			AdminEmail:    "admin@example.com",
			AdminPassword: "admin-pass-1",
		},
		store:    fs,
		sessions: newFakeSessions(),
		notify:   fn,
		ledger:   led,
		focus:    focus.NewManager(led),
		passwd:   authpw.NewService(fs),
	}
	t.Cleanup(svc.focus.Close)
	return svc, fs, fn
}

func assertDomain(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d/%s, got %d/%s", status, code, domainErr.Status, domainErr.Code)
	}
}

func TestBootstrapSeedsAdminOnce(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	admin, err := fs.GetUserByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("admin not seeded: %v", err)
	}
	if admin.Role != "admin" {
		t.Fatalf("expected admin role, got %q", admin.Role)
	}
	anns, _ := fs.ListAnnouncements(ctx)
	if len(anns) != 1 {
		t.Fatalf("expected 1 seeded announcement, got %d", len(anns))
	}

	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	users, _ := fs.ListUsers(ctx)
	if len(users) != 1 {
		t.Fatalf("second bootstrap must be a no-op, got %d users", len(users))
	}
}

func TestSignUpThenSignIn(t *testing.T) {
	svc, _, fn := newTestService(t)
	ctx := context.Background()

	user, err := svc.SignUp(ctx, authpw.SignUpRequest{
		Email:       "Asha@Example.com",
		Password:    "correct-horse",
		DisplayName: "Asha",
	})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if user.Credits != ledger.DefaultBalance {
		t.Fatalf("expected starting balance %d, got %d", ledger.DefaultBalance, user.Credits)
	}
	if !fn.sawCollection(live.Users) {
		t.Fatal("signup should notify the users feed")
	}

	sess, err := svc.SignIn(ctx, "asha@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	if sess.Token == "" || sess.RefreshToken == "" {
		t.Fatal("expected access and refresh tokens")
	}
	if sess.UserID != user.UID {
		t.Fatalf("session for wrong user: %s", sess.UserID)
	}

	if _, err := svc.SignIn(ctx, "asha@example.com", "wrong"); !errors.Is(err, authpw.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, authpw.SignUpRequest{Email: "a@b.c", Password: "password1", DisplayName: "A"}); err != nil {
		t.Fatalf("signup: %v", err)
	}
	first, err := svc.SignIn(ctx, "a@b.c", "password1")
	if err != nil {
		t.Fatalf("signin: %v", err)
	}

	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// The presented token is spent.
	if _, err := svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a spent token, got %v", err)
	}
}

func TestRefreshRejectsBlockedUser(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, authpw.SignUpRequest{Email: "a@b.c", Password: "password1", DisplayName: "A"}); err != nil {
		t.Fatalf("signup: %v", err)
	}
	sess, err := svc.SignIn(ctx, "a@b.c", "password1")
	if err != nil {
		t.Fatalf("signin: %v", err)
	}

	if err := fs.SetUserBlocked(ctx, sess.UserID, true); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := svc.Refresh(ctx, sess.RefreshToken); !errors.Is(err, authpw.ErrAccountBlocked) {
		t.Fatalf("expected ErrAccountBlocked, got %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, sess.Token); !errors.Is(err, authpw.ErrAccountBlocked) {
		t.Fatalf("expected ErrAccountBlocked from token parse, got %v", err)
	}
}

func TestUnlockSocial(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()
	fs.seed(store.User{UID: "u1", Credits: 5})

	if err := svc.UnlockSocial(ctx, "u1"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	user := fs.user("u1")
	if !user.SocialUnlocked {
		t.Fatal("social flag not set")
	}
	// No floor: the charge may push the balance negative.
	if user.Credits != 5-ledger.SocialUnlockCost {
		t.Fatalf("expected balance %d, got %d", 5-ledger.SocialUnlockCost, user.Credits)
	}

	err := svc.UnlockSocial(ctx, "u1")
	assertDomain(t, err, 409, "ALREADY_UNLOCKED")
	if got := fs.user("u1").Credits; got != 5-ledger.SocialUnlockCost {
		t.Fatalf("second unlock must not charge again, balance %d", got)
	}
}

func TestVote(t *testing.T) {
	svc, fs, fn := newTestService(t)
	ctx := context.Background()
	fs.seed(store.User{UID: "u1"})
	fs.polls["p1"] = store.Poll{
		ID:       "p1",
		Question: "Best subject?",
		Options:  []string{"Physics", "Chemistry"},
		Results:  map[string]int{"Physics": 0, "Chemistry": 0},
		IsActive: true,
	}

	if err := svc.Vote(ctx, "u1", "p1", "Physics"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if got := fs.polls["p1"].Results["Physics"]; got != 1 {
		t.Fatalf("tally not incremented, got %d", got)
	}
	if got := fs.user("u1").VotedPolls["p1"]; got != "Physics" {
		t.Fatalf("voter mark missing, got %q", got)
	}
	if !fn.sawCollection(live.ActivePoll) {
		t.Fatal("vote should notify the active poll feed")
	}

	assertDomain(t, svc.Vote(ctx, "u1", "p1", "Chemistry"), 409, "ALREADY_VOTED")
	assertDomain(t, svc.Vote(ctx, "u1", "p1", "Biology"), 400, "INVALID_OPTION")

	if err := svc.Vote(ctx, "u1", "nope", "Physics"); !errors.Is(err, store.ErrPollNotFound) {
		t.Fatalf("expected ErrPollNotFound, got %v", err)
	}

	closed := fs.polls["p1"]
	closed.IsActive = false
	fs.polls["p1"] = closed
	fs.seed(store.User{UID: "u2"})
	assertDomain(t, svc.Vote(ctx, "u2", "p1", "Physics"), 409, "POLL_CLOSED")
}

func TestPublishPoll(t *testing.T) {
	svc, fs, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.PublishPoll(ctx, PublishPollInput{Question: "  ", Options: []string{"A", "B"}})
	assertDomain(t, err, 400, "INVALID_POLL")

	_, err = svc.PublishPoll(ctx, PublishPollInput{Question: "Q", Options: []string{"A", "", "  "}})
	assertDomain(t, err, 400, "INVALID_POLL")

	_, err = svc.PublishPoll(ctx, PublishPollInput{Question: "Q", Options: []string{"A", "A ", "B"}})
	assertDomain(t, err, 400, "INVALID_POLL")

	first, err := svc.PublishPoll(ctx, PublishPollInput{Question: "Q1", Options: []string{" A ", "B"}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(first.Options) != 2 || first.Options[0] != "A" {
		t.Fatalf("options not trimmed: %v", first.Options)
	}
	if first.Results["A"] != 0 || first.Results["B"] != 0 {
		t.Fatalf("results not zeroed: %v", first.Results)
	}

	second, err := svc.PublishPoll(ctx, PublishPollInput{Question: "Q2", Options: []string{"X", "Y"}})
	if err != nil {
		t.Fatalf("publish second: %v", err)
	}
	if fs.polls[first.ID].IsActive {
		t.Fatal("previous poll must be deactivated")
	}
	active, _ := svc.ActivePoll(ctx)
	if active == nil || active.ID != second.ID {
		t.Fatalf("expected %s active, got %+v", second.ID, active)
	}
}

func TestSendMessageGates(t *testing.T) {
	svc, fs, fn := newTestService(t)
	ctx := context.Background()

	fs.seed(store.User{UID: "locked"})
	fs.seed(store.User{UID: "blocked", SocialUnlocked: true, IsBlocked: true})
	fs.seed(store.User{UID: "ok", SocialUnlocked: true})

	_, err := svc.SendMessage(ctx, "ok", "   ")
	assertDomain(t, err, 400, "EMPTY_MESSAGE")

	_, err = svc.SendMessage(ctx, "ok", strings.Repeat("x", maxChatMessageLen+1))
	assertDomain(t, err, 400, "MESSAGE_TOO_LONG")

	_, err = svc.SendMessage(ctx, "blocked", "hi")
	assertDomain(t, err, 403, "BLOCKED")

	_, err = svc.SendMessage(ctx, "locked", "hi")
	assertDomain(t, err, 403, "SOCIAL_LOCKED")

	message, err := svc.SendMessage(ctx, "ok", "  hello  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if message.Body != "hello" {
		t.Fatalf("body not trimmed: %q", message.Body)
	}
	if !fn.sawCollection(live.Chat) {
		t.Fatal("send should notify the chat feed")
	}
}

func TestLeaderboardClampsLimit(t *testing.T) {
	svc, fs, _ := newTestService(t)
	var sawLimit int
	fs.leaderboardFn = func(ctx context.Context, limit int) ([]store.User, error) {
		sawLimit = limit
		return nil, nil
	}

	for _, tc := range []struct{ in, want int }{
		{0, 50},
		{-3, 50},
		{201, 50},
		{10, 10},
		{200, 200},
	} {
		if _, err := svc.Leaderboard(context.Background(), tc.in); err != nil {
			t.Fatalf("leaderboard(%d): %v", tc.in, err)
		}
		if sawLimit != tc.want {
			t.Fatalf("limit %d: expected %d, got %d", tc.in, tc.want, sawLimit)
		}
	}
}

func TestCreateResourceValidation(t *testing.T) {
	svc, _, fn := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateResource(ctx, ResourceInput{Category: "fiction", Title: "T"})
	assertDomain(t, err, 400, "INVALID_CATEGORY")

	_, err = svc.CreateResource(ctx, ResourceInput{Category: "jee", Title: "  "})
	assertDomain(t, err, 400, "INVALID_RESOURCE")

	item, err := svc.CreateResource(ctx, ResourceInput{Category: "jee", Title: " Mechanics ", URL: "https://example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if item.Title != "Mechanics" || item.Category != store.ResourceJEE {
		t.Fatalf("unexpected resource: %+v", item)
	}

	fn.mu.Lock()
	defer fn.mu.Unlock()
	if len(fn.resources) != 1 || fn.resources[0] != store.ResourceJEE {
		t.Fatalf("expected one jee resource notification, got %v", fn.resources)
	}
}
