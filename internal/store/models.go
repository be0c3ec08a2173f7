package store

import "time"

type User struct {
	UID              string            `json:"uid"`
	DisplayName      string            `json:"displayName"`
	Email            string            `json:"email"`
	PasswordHash     string            `json:"-"`
	PhotoURL         string            `json:"photoURL,omitempty"`
	Role             string            `json:"role"`
	IsBlocked        bool              `json:"isBlocked"`
	Credits          int               `json:"credits"`
	VotedPolls       map[string]string `json:"votedPolls"`
	SocialUnlocked   bool              `json:"socialUnlocked"`
	PerfectedQuizzes []string          `json:"perfectedQuizzes"`
	QuizAttempts     map[string]int    `json:"quizAttempts"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

type Announcement struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ResourceCategory is a closed enum over the four resource collections.
// Operations select behavior with an explicit switch, never a lookup by
// caller-supplied string.
type ResourceCategory string

const (
	ResourceGeneral ResourceCategory = "general"
	ResourcePremium ResourceCategory = "premium"
	ResourceJEE     ResourceCategory = "jee"
	ResourceClass12 ResourceCategory = "class12"
)

// Categories lists every resource category in a stable order.
func Categories() []ResourceCategory {
	return []ResourceCategory{ResourceGeneral, ResourcePremium, ResourceJEE, ResourceClass12}
}

// ParseCategory maps a wire string onto the enum. The boolean is false for
// anything outside the closed set.
func ParseCategory(raw string) (ResourceCategory, bool) {
	switch ResourceCategory(raw) {
	case ResourceGeneral:
		return ResourceGeneral, true
	case ResourcePremium:
		return ResourcePremium, true
	case ResourceJEE:
		return ResourceJEE, true
	case ResourceClass12:
		return ResourceClass12, true
	default:
		return "", false
	}
}

type Resource struct {
	ID          string           `json:"id"`
	Category    ResourceCategory `json:"category"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	URL         string           `json:"url"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type Poll struct {
	ID        string         `json:"id"`
	Question  string         `json:"question"`
	Options   []string       `json:"options"`
	Results   map[string]int `json:"results"`
	IsActive  bool           `json:"isActive"`
	CreatedAt time.Time      `json:"createdAt"`
}

type GlobalMessage struct {
	ID        int64     `json:"id"`
	SenderID  string    `json:"senderId"`
	Body      string    `json:"text"`
	CreatedAt time.Time `json:"timestamp"`
}
