package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrPollNotFound = errors.New("poll not found")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users

const userColumns = `
	uid, display_name, email, password_hash, photo_url, role, is_blocked,
	credits, voted_polls, social_unlocked, to_jsonb(perfected_quizzes),
	quiz_attempts, created_at, updated_at
`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		user             User
		votedPolls       []byte
		perfectedQuizzes []byte
		quizAttempts     []byte
	)
	err := row.Scan(
		&user.UID, &user.DisplayName, &user.Email, &user.PasswordHash,
		&user.PhotoURL, &user.Role, &user.IsBlocked, &user.Credits,
		&votedPolls, &user.SocialUnlocked, &perfectedQuizzes,
		&quizAttempts, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	if err := json.Unmarshal(votedPolls, &user.VotedPolls); err != nil {
		return User{}, fmt.Errorf("decode voted_polls: %w", err)
	}
	if err := json.Unmarshal(perfectedQuizzes, &user.PerfectedQuizzes); err != nil {
		return User{}, fmt.Errorf("decode perfected_quizzes: %w", err)
	}
	if err := json.Unmarshal(quizAttempts, &user.QuizAttempts); err != nil {
		return User{}, fmt.Errorf("decode quiz_attempts: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (uid, display_name, email, password_hash, photo_url, role)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.UID, user.DisplayName, user.Email, user.PasswordHash, user.PhotoURL, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, uid string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE uid=$1`, uid)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE NOT is_blocked
		ORDER BY credits DESC, display_name
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetUserBlocked(ctx context.Context, uid string, blocked bool) error {
	return s.execUser(ctx, `UPDATE users SET is_blocked=$2, updated_at=NOW() WHERE uid=$1`, uid, blocked)
}

func (s *PostgresStore) SetUserPhotoURL(ctx context.Context, uid, photoURL string) error {
	return s.execUser(ctx, `UPDATE users SET photo_url=$2, updated_at=NOW() WHERE uid=$1`, uid, photoURL)
}

// AddCredits applies a relative increment at commit time. Never read the
// balance client-side and write it back; concurrent writers would lose
// updates.
func (s *PostgresStore) AddCredits(ctx context.Context, uid string, delta int) error {
	return s.execUser(ctx, `UPDATE users SET credits = credits + $2, updated_at=NOW() WHERE uid=$1`, uid, delta)
}

func (s *PostgresStore) SetCredits(ctx context.Context, uid string, value int) error {
	return s.execUser(ctx, `UPDATE users SET credits=$2, updated_at=NOW() WHERE uid=$1`, uid, value)
}

// UnlockSocial flips the unlock flag and charges the cost in one atomic
// update.
func (s *PostgresStore) UnlockSocial(ctx context.Context, uid string, cost int) error {
	return s.execUser(ctx, `
		UPDATE users
		SET social_unlocked=TRUE, credits = credits - $2, updated_at=NOW()
		WHERE uid=$1
	`, uid, cost)
}

func (s *PostgresStore) AddPerfectedQuiz(ctx context.Context, uid, quizID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET perfected_quizzes = array_append(perfected_quizzes, $2), updated_at=NOW()
		WHERE uid=$1 AND NOT ($2 = ANY(perfected_quizzes))
	`, uid, quizID)
	if err != nil {
		return fmt.Errorf("add perfected quiz: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementQuizAttempt(ctx context.Context, uid, quizID string) error {
	return s.execUser(ctx, `
		UPDATE users
		SET quiz_attempts = jsonb_set(
			quiz_attempts,
			ARRAY[$2],
			to_jsonb(COALESCE((quiz_attempts->>$2)::int, 0) + 1)
		), updated_at=NOW()
		WHERE uid=$1
	`, uid, quizID)
}

func (s *PostgresStore) execUser(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Polls

const pollColumns = `id, question, to_jsonb(options), results, is_active, created_at`

func scanPoll(row interface{ Scan(...any) error }) (Poll, error) {
	var (
		poll    Poll
		options []byte
		results []byte
	)
	err := row.Scan(&poll.ID, &poll.Question, &options, &results, &poll.IsActive, &poll.CreatedAt)
	if err != nil {
		return Poll{}, err
	}
	if err := json.Unmarshal(options, &poll.Options); err != nil {
		return Poll{}, fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal(results, &poll.Results); err != nil {
		return Poll{}, fmt.Errorf("decode results: %w", err)
	}
	return poll, nil
}

// ActivePoll returns the currently active poll, or nil when no poll is live.
func (s *PostgresStore) ActivePoll(ctx context.Context) (*Poll, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+pollColumns+`
		FROM polls
		WHERE is_active
		ORDER BY created_at DESC
		LIMIT 1
	`)
	poll, err := scanPoll(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active poll: %w", err)
	}
	return &poll, nil
}

func (s *PostgresStore) GetPoll(ctx context.Context, pollID string) (Poll, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM polls WHERE id=$1`, pollID)
	poll, err := scanPoll(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Poll{}, ErrPollNotFound
	}
	if err != nil {
		return Poll{}, fmt.Errorf("get poll: %w", err)
	}
	return poll, nil
}

// PublishPoll deactivates every live poll and activates the new one in a
// single transaction, so no snapshot can observe two active polls.
func (s *PostgresStore) PublishPoll(ctx context.Context, poll Poll) error {
	results, err := json.Marshal(poll.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	options, err := json.Marshal(poll.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin publish poll: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE polls SET is_active=FALSE WHERE is_active`); err != nil {
		return fmt.Errorf("deactivate polls: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO polls (id, question, options, results, is_active)
		VALUES ($1, $2, ARRAY(SELECT jsonb_array_elements_text($3::jsonb)), $4, TRUE)
	`, poll.ID, poll.Question, options, results); err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit publish poll: %w", err)
	}
	return nil
}

// VotePoll commits the tally increment and the voter's choice together or not
// at all. It does not check whether the user already voted; that is the
// caller's job against its last snapshot.
func (s *PostgresStore) VotePoll(ctx context.Context, pollID, uid, option string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vote: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE polls
		SET results = jsonb_set(
			results,
			ARRAY[$2],
			to_jsonb(COALESCE((results->>$2)::int, 0) + 1)
		)
		WHERE id=$1
	`, pollID, option)
	if err != nil {
		return fmt.Errorf("increment tally: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("increment tally: %w", err)
	} else if affected == 0 {
		return ErrPollNotFound
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE users
		SET voted_polls = jsonb_set(voted_polls, ARRAY[$2], to_jsonb($3::text)), updated_at=NOW()
		WHERE uid=$1
	`, uid, pollID, option)
	if err != nil {
		return fmt.Errorf("record vote: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("record vote: %w", err)
	} else if affected == 0 {
		return ErrUserNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vote: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Announcements

func (s *PostgresStore) InsertAnnouncement(ctx context.Context, item Announcement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO announcements (id, title, description)
		VALUES ($1, $2, $3)
	`, item.ID, item.Title, item.Description)
	if err != nil {
		return fmt.Errorf("insert announcement: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAnnouncement(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM announcements WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete announcement: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAnnouncements(ctx context.Context) ([]Announcement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, created_at
		FROM announcements
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	defer rows.Close()

	items := make([]Announcement, 0)
	for rows.Next() {
		var item Announcement
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate announcements: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Resources

func (s *PostgresStore) InsertResource(ctx context.Context, item Resource) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (id, category, title, description, url)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, string(item.Category), item.Title, item.Description, item.URL)
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateResource(ctx context.Context, item Resource) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE resources
		SET title=$3, description=$4, url=$5
		WHERE id=$1 AND category=$2
	`, item.ID, string(item.Category), item.Title, item.Description, item.URL)
	if err != nil {
		return fmt.Errorf("update resource: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("update resource: %w", err)
	} else if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteResource(ctx context.Context, category ResourceCategory, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id=$1 AND category=$2`, id, string(category))
	if err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListResources(ctx context.Context, category ResourceCategory) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, title, description, url, created_at
		FROM resources
		WHERE category=$1
		ORDER BY created_at DESC
	`, string(category))
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	items := make([]Resource, 0)
	for rows.Next() {
		var item Resource
		var category string
		if err := rows.Scan(&item.ID, &category, &item.Title, &item.Description, &item.URL, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		item.Category = ResourceCategory(category)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Global chat

func (s *PostgresStore) InsertMessage(ctx context.Context, senderID, body string) (GlobalMessage, error) {
	message := GlobalMessage{SenderID: senderID, Body: body}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO global_messages (sender_id, body)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, senderID, body).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		return GlobalMessage{}, fmt.Errorf("insert message: %w", err)
	}
	return message, nil
}

// RecentMessages returns the latest limit messages, oldest first.
func (s *PostgresStore) RecentMessages(ctx context.Context, limit int) ([]GlobalMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, body, created_at
		FROM global_messages
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	items := make([]GlobalMessage, 0)
	for rows.Next() {
		var item GlobalMessage
		if err := rows.Scan(&item.ID, &item.SenderID, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}
