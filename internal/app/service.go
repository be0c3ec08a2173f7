package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"studyhub/api/internal/auth"
	"studyhub/api/internal/authpw"
	"studyhub/api/internal/avatar"
	"studyhub/api/internal/config"
	"studyhub/api/internal/export"
	"studyhub/api/internal/focus"
	"studyhub/api/internal/ledger"
	"studyhub/api/internal/live"
	"studyhub/api/internal/rbac"
	"studyhub/api/internal/search"
	"studyhub/api/internal/session"
	"studyhub/api/internal/store"
	"studyhub/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type PublishPollInput struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type AnnouncementInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ResourceInput struct {
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

const maxChatMessageLen = 500

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUser(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	Leaderboard(context.Context, int) ([]store.User, error)
	SetUserBlocked(context.Context, string, bool) error
	SetUserPhotoURL(context.Context, string, string) error
	ActivePoll(context.Context) (*store.Poll, error)
	GetPoll(context.Context, string) (store.Poll, error)
	PublishPoll(context.Context, store.Poll) error
	VotePoll(context.Context, string, string, string) error
	InsertAnnouncement(context.Context, store.Announcement) error
	DeleteAnnouncement(context.Context, string) error
	ListAnnouncements(context.Context) ([]store.Announcement, error)
	InsertResource(context.Context, store.Resource) error
	UpdateResource(context.Context, store.Resource) error
	DeleteResource(context.Context, store.ResourceCategory, string) error
	ListResources(context.Context, store.ResourceCategory) ([]store.Resource, error)
	InsertMessage(context.Context, string, string) (store.GlobalMessage, error)
	RecentMessages(context.Context, int) ([]store.GlobalMessage, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens, keyed by token hash.
type sessionStore interface {
	Save(ctx context.Context, tokenHash string, data session.TokenData, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (session.TokenData, error)
	Revoke(ctx context.Context, tokenHash string) error
}

// changeNotifier announces committed writes to the live feeds.
type changeNotifier interface {
	Changed(ctx context.Context, c live.Collection)
	UserChanged(ctx context.Context, uid string)
	ResourceChanged(ctx context.Context, category store.ResourceCategory)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	notify   changeNotifier

	ledger   *ledger.Service
	focus    *focus.Manager
	passwd   *authpw.Service
	searcher *search.Service // nil when search is not wired
	exporter *export.Service
	avatars  *avatar.Service // nil when object storage is not configured
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	sessions *session.RedisStore,
	notify *live.Publisher,
	ledgerSvc *ledger.Service,
	focusMgr *focus.Manager,
	searcher *search.Service,
	exporter *export.Service,
	avatars *avatar.Service,
) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		notify:   notify,
		ledger:   ledgerSvc,
		focus:    focusMgr,
		passwd:   authpw.NewService(dataStore),
		searcher: searcher,
		exporter: exporter,
		avatars:  avatars,
	}
}

// Bootstrap seeds the admin account and starter content on an empty database.
func (s *Service) Bootstrap(ctx context.Context) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	admin := store.User{
		UID:          util.NewID("u"),
		DisplayName:  "Admin",
		Email:        strings.ToLower(s.cfg.AdminEmail),
		PasswordHash: string(hash),
		Role:         string(rbac.RoleAdmin),
	}
	if err := s.store.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	log.Printf("bootstrap: seeded admin account %s", admin.Email)

	welcome := store.Announcement{
		ID:          util.NewID("ann"),
		Title:       "Welcome to StudyHub",
		Description: "Earn credits by completing focus sessions and perfecting quizzes.",
	}
	if err := s.store.InsertAnnouncement(ctx, welcome); err != nil {
		return fmt.Errorf("seed announcement: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sessions

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error) {
	user, err := s.passwd.SignUp(ctx, req)
	if err != nil {
		return store.User{}, err
	}
	s.notify.Changed(ctx, live.Users)
	return user, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwd.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.Lookup(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// Rotate: the presented token is spent whether or not reissue succeeds.
	if err := s.sessions.Revoke(ctx, tokenHash); err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUser(ctx, data.UID)
	if err != nil {
		return Session{}, err
	}
	if user.IsBlocked {
		return Session{}, authpw.ErrAccountBlocked
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		UID:  user.UID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.Save(ctx, auth.HashToken(refresh), session.TokenData{
		UID:         user.UID,
		DisplayName: user.DisplayName,
		Role:        user.Role,
	}, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.UID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUser(ctx, claims.UID)
	if err != nil {
		return Session{}, err
	}
	if user.IsBlocked {
		return Session{}, authpw.ErrAccountBlocked
	}

	return Session{
		Token:     token,
		UserID:    user.UID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the refresh token. Access tokens are short-lived and simply
// run out.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, auth.HashToken(refreshToken))
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ---------------------------------------------------------------------------
// Users

func (s *Service) CurrentUser(ctx context.Context, uid string) (store.User, error) {
	return s.store.GetUser(ctx, uid)
}

func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]store.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Leaderboard(ctx, limit)
}

func (s *Service) SetUserBlocked(ctx context.Context, uid string, blocked bool) error {
	if err := s.store.SetUserBlocked(ctx, uid, blocked); err != nil {
		return err
	}
	s.notify.UserChanged(ctx, uid)
	return nil
}

// UploadAvatar stores the image and points the user's profile at it.
func (s *Service) UploadAvatar(ctx context.Context, uid, contentType string, body io.Reader) (string, error) {
	if s.avatars == nil {
		return "", domainError(http.StatusServiceUnavailable, "AVATARS_UNAVAILABLE", "Avatar storage is not configured", nil)
	}
	if err := s.avatars.Upload(ctx, uid, contentType, body); err != nil {
		switch {
		case errors.Is(err, avatar.ErrTooLarge):
			return "", domainError(http.StatusRequestEntityTooLarge, "AVATAR_TOO_LARGE", "Image exceeds the size limit", nil)
		case errors.Is(err, avatar.ErrUnsupportedType):
			return "", domainError(http.StatusUnsupportedMediaType, "AVATAR_BAD_TYPE", "Unsupported image type", nil)
		default:
			return "", err
		}
	}

	url, err := s.avatars.URL(ctx, uid)
	if err != nil {
		return "", err
	}
	if err := s.store.SetUserPhotoURL(ctx, uid, url); err != nil {
		return "", err
	}
	s.notify.UserChanged(ctx, uid)
	return url, nil
}

// ---------------------------------------------------------------------------
// Credits

func (s *Service) Ledger() *ledger.Service {
	return s.ledger
}

// UnlockSocial spends credits to open the chat. Unlocking twice is rejected;
// the balance is allowed to go negative.
func (s *Service) UnlockSocial(ctx context.Context, uid string) error {
	user, err := s.store.GetUser(ctx, uid)
	if err != nil {
		return err
	}
	if user.SocialUnlocked {
		return domainError(http.StatusConflict, "ALREADY_UNLOCKED", "Social feature is already unlocked", nil)
	}
	return s.ledger.UnlockFeature(ctx, uid)
}

// ---------------------------------------------------------------------------
// Polls

// Vote records one choice. The tally increment and the voter's mark commit
// together. The already-voted check reads the user's current document; two
// racing votes from the same account can both pass it, and the second
// overwrites the first mark while both increments stand.
func (s *Service) Vote(ctx context.Context, uid, pollID, option string) error {
	poll, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return err
	}
	if !poll.IsActive {
		return domainError(http.StatusConflict, "POLL_CLOSED", "Poll is no longer active", nil)
	}

	valid := false
	for _, candidate := range poll.Options {
		if candidate == option {
			valid = true
			break
		}
	}
	if !valid {
		return domainError(http.StatusBadRequest, "INVALID_OPTION", "Option is not part of this poll", nil)
	}

	user, err := s.store.GetUser(ctx, uid)
	if err != nil {
		return err
	}
	if _, voted := user.VotedPolls[pollID]; voted {
		return domainError(http.StatusConflict, "ALREADY_VOTED", "You already voted in this poll", nil)
	}

	if err := s.store.VotePoll(ctx, pollID, uid, option); err != nil {
		return err
	}
	s.notify.Changed(ctx, live.ActivePoll)
	s.notify.UserChanged(ctx, uid)
	return nil
}

// PublishPoll replaces the active poll. Every previous poll is deactivated in
// the same transaction that activates the new one.
func (s *Service) PublishPoll(ctx context.Context, input PublishPollInput) (store.Poll, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return store.Poll{}, domainError(http.StatusBadRequest, "INVALID_POLL", "Question is required", nil)
	}

	options := make([]string, 0, len(input.Options))
	seen := map[string]struct{}{}
	for _, raw := range input.Options {
		option := strings.TrimSpace(raw)
		if option == "" {
			continue
		}
		if _, dup := seen[option]; dup {
			return store.Poll{}, domainError(http.StatusBadRequest, "INVALID_POLL", "Options must be distinct", nil)
		}
		seen[option] = struct{}{}
		options = append(options, option)
	}
	if len(options) < 2 {
		return store.Poll{}, domainError(http.StatusBadRequest, "INVALID_POLL", "At least two options are required", nil)
	}

	results := make(map[string]int, len(options))
	for _, option := range options {
		results[option] = 0
	}

	poll := store.Poll{
		ID:       util.NewID("poll"),
		Question: question,
		Options:  options,
		Results:  results,
		IsActive: true,
	}
	if err := s.store.PublishPoll(ctx, poll); err != nil {
		return store.Poll{}, err
	}
	s.notify.Changed(ctx, live.ActivePoll)
	return poll, nil
}

func (s *Service) ActivePoll(ctx context.Context) (*store.Poll, error) {
	return s.store.ActivePoll(ctx)
}

// ---------------------------------------------------------------------------
// Announcements

func (s *Service) ListAnnouncements(ctx context.Context) ([]store.Announcement, error) {
	return s.store.ListAnnouncements(ctx)
}

func (s *Service) CreateAnnouncement(ctx context.Context, input AnnouncementInput) (store.Announcement, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Announcement{}, domainError(http.StatusBadRequest, "INVALID_ANNOUNCEMENT", "Title is required", nil)
	}

	item := store.Announcement{
		ID:          util.NewID("ann"),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
	}
	if err := s.store.InsertAnnouncement(ctx, item); err != nil {
		return store.Announcement{}, err
	}
	if s.searcher != nil {
		s.searcher.IndexAnnouncement(search.AnnouncementRecord{
			ID:          item.ID,
			Title:       item.Title,
			Description: item.Description,
		})
	}
	s.notify.Changed(ctx, live.Announcements)
	return item, nil
}

func (s *Service) DeleteAnnouncement(ctx context.Context, id string) error {
	if err := s.store.DeleteAnnouncement(ctx, id); err != nil {
		return err
	}
	if s.searcher != nil {
		s.searcher.DeleteAnnouncement(id)
	}
	s.notify.Changed(ctx, live.Announcements)
	return nil
}

// ---------------------------------------------------------------------------
// Resources

func parseCategory(raw string) (store.ResourceCategory, error) {
	category, ok := store.ParseCategory(raw)
	if !ok {
		return "", domainError(http.StatusBadRequest, "INVALID_CATEGORY", "Unknown resource category", map[string]any{"category": raw})
	}
	return category, nil
}

func (s *Service) ListResources(ctx context.Context, rawCategory string) ([]store.Resource, error) {
	category, err := parseCategory(rawCategory)
	if err != nil {
		return nil, err
	}
	return s.store.ListResources(ctx, category)
}

func (s *Service) CreateResource(ctx context.Context, input ResourceInput) (store.Resource, error) {
	category, err := parseCategory(input.Category)
	if err != nil {
		return store.Resource{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Resource{}, domainError(http.StatusBadRequest, "INVALID_RESOURCE", "Title is required", nil)
	}

	item := store.Resource{
		ID:          util.NewID("res"),
		Category:    category,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		URL:         strings.TrimSpace(input.URL),
	}
	if err := s.store.InsertResource(ctx, item); err != nil {
		return store.Resource{}, err
	}
	s.indexResource(item)
	s.notify.ResourceChanged(ctx, category)
	return item, nil
}

func (s *Service) UpdateResource(ctx context.Context, id string, input ResourceInput) (store.Resource, error) {
	category, err := parseCategory(input.Category)
	if err != nil {
		return store.Resource{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Resource{}, domainError(http.StatusBadRequest, "INVALID_RESOURCE", "Title is required", nil)
	}

	item := store.Resource{
		ID:          id,
		Category:    category,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		URL:         strings.TrimSpace(input.URL),
	}
	if err := s.store.UpdateResource(ctx, item); err != nil {
		return store.Resource{}, err
	}
	s.indexResource(item)
	s.notify.ResourceChanged(ctx, category)
	return item, nil
}

func (s *Service) DeleteResource(ctx context.Context, rawCategory, id string) error {
	category, err := parseCategory(rawCategory)
	if err != nil {
		return err
	}
	if err := s.store.DeleteResource(ctx, category, id); err != nil {
		return err
	}
	if s.searcher != nil {
		s.searcher.DeleteResource(id)
	}
	s.notify.ResourceChanged(ctx, category)
	return nil
}

func (s *Service) indexResource(item store.Resource) {
	if s.searcher == nil {
		return
	}
	s.searcher.IndexResource(search.ResourceRecord{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Category:    string(item.Category),
		URL:         item.URL,
	})
}

// ---------------------------------------------------------------------------
// Chat

// SendMessage appends to the global chat. Senders must have unlocked the
// social feature and not be blocked.
func (s *Service) SendMessage(ctx context.Context, uid, body string) (store.GlobalMessage, error) {
	text := strings.TrimSpace(body)
	if text == "" {
		return store.GlobalMessage{}, domainError(http.StatusBadRequest, "EMPTY_MESSAGE", "Message is empty", nil)
	}
	if len(text) > maxChatMessageLen {
		return store.GlobalMessage{}, domainError(http.StatusBadRequest, "MESSAGE_TOO_LONG", "Message exceeds the length limit", nil)
	}

	user, err := s.store.GetUser(ctx, uid)
	if err != nil {
		return store.GlobalMessage{}, err
	}
	if user.IsBlocked {
		return store.GlobalMessage{}, domainError(http.StatusForbidden, "BLOCKED", "Account is blocked", nil)
	}
	if !user.SocialUnlocked {
		return store.GlobalMessage{}, domainError(http.StatusForbidden, "SOCIAL_LOCKED", "Unlock the social feature first", nil)
	}

	message, err := s.store.InsertMessage(ctx, uid, text)
	if err != nil {
		return store.GlobalMessage{}, err
	}
	s.notify.Changed(ctx, live.Chat)
	return message, nil
}

func (s *Service) RecentMessages(ctx context.Context) ([]store.GlobalMessage, error) {
	return s.store.RecentMessages(ctx, s.cfg.ChatWindow)
}

// ---------------------------------------------------------------------------
// Focus sessions

func (s *Service) Focus() *focus.Manager {
	return s.focus
}

func (s *Service) StartFocus(uid string, duration time.Duration) (focus.State, error) {
	state, err := s.focus.Start(uid, duration)
	switch {
	case errors.Is(err, focus.ErrUnknownSlot):
		return focus.State{}, domainError(http.StatusBadRequest, "UNKNOWN_SLOT", "Duration is not a selectable focus slot", map[string]any{"slots": focus.Slots()})
	case errors.Is(err, focus.ErrAlreadyRunning):
		return focus.State{}, domainError(http.StatusConflict, "SESSION_RUNNING", "A focus session is already running", nil)
	case err != nil:
		return focus.State{}, err
	}
	return state, nil
}

func (s *Service) StopFocus(uid string) (focus.State, error) {
	state, err := s.focus.Stop(uid)
	if errors.Is(err, focus.ErrNotRunning) {
		return focus.State{}, domainError(http.StatusNotFound, "NO_SESSION", "No focus session is running", nil)
	}
	return state, err
}

func (s *Service) FocusState(uid string) (focus.State, bool) {
	return s.focus.State(uid)
}

// ---------------------------------------------------------------------------
// Search and export

func (s *Service) Search(q search.Query) (search.Response, error) {
	if s.searcher == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.searcher.Search(q), nil
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	return s.exporter.Export(ctx, req)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
