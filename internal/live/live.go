// Package live keeps a continuously-updated in-memory snapshot of every
// tracked collection. Writers announce changes on a Redis channel per
// collection; one feed goroutine per collection reloads its snapshot from
// the store on each announcement and swaps it atomically, so consumers never
// observe a partially-updated view.
package live

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"studyhub/api/internal/store"
)

// Collection names one logical live collection.
type Collection string

const (
	Users            Collection = "users"
	CurrentUser      Collection = "current_user"
	Announcements    Collection = "announcements"
	GeneralResources Collection = "resources_general"
	PremiumResources Collection = "resources_premium"
	JEEResources     Collection = "resources_jee"
	Class12Resources Collection = "resources_class12"
	ActivePoll       Collection = "active_poll"
	Chat             Collection = "chat"
)

func channelFor(c Collection) string {
	return "live:" + string(c)
}

func userChannel(uid string) string {
	return "live:user:" + uid
}

// CollectionForCategory maps a resource category onto its live collection.
func CollectionForCategory(category store.ResourceCategory) Collection {
	switch category {
	case store.ResourceGeneral:
		return GeneralResources
	case store.ResourcePremium:
		return PremiumResources
	case store.ResourceJEE:
		return JEEResources
	case store.ResourceClass12:
		return Class12Resources
	default:
		return GeneralResources
	}
}

// Snapshot is the materialized state of one collection. Exactly one of the
// payload fields is set, matching Collection.
type Snapshot struct {
	Collection    Collection            `json:"collection"`
	Users         []store.User          `json:"users,omitempty"`
	User          *store.User           `json:"user,omitempty"`
	Announcements []store.Announcement  `json:"announcements,omitempty"`
	Resources     []store.Resource      `json:"resources,omitempty"`
	Poll          *store.Poll           `json:"poll,omitempty"`
	Messages      []store.GlobalMessage `json:"messages,omitempty"`
}

// Loader reads collection snapshots from the document store.
type Loader interface {
	ListUsers(ctx context.Context) ([]store.User, error)
	GetUser(ctx context.Context, uid string) (store.User, error)
	ListAnnouncements(ctx context.Context) ([]store.Announcement, error)
	ListResources(ctx context.Context, category store.ResourceCategory) ([]store.Resource, error)
	ActivePoll(ctx context.Context) (*store.Poll, error)
	RecentMessages(ctx context.Context, limit int) ([]store.GlobalMessage, error)
}

// Publisher announces store changes to every listening multiplexer.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Changed announces that a collection's contents changed. Best effort: a
// publish failure is logged, never surfaced, because the write it follows
// already committed.
func (p *Publisher) Changed(ctx context.Context, c Collection) {
	if err := p.rdb.Publish(ctx, channelFor(c), "changed").Err(); err != nil {
		log.Printf("live: publish %s: %v", c, err)
	}
}

// UserChanged announces a single user document change. Both the admin-facing
// users list and that user's own document feed refresh.
func (p *Publisher) UserChanged(ctx context.Context, uid string) {
	p.Changed(ctx, Users)
	if uid == "" {
		return
	}
	if err := p.rdb.Publish(ctx, userChannel(uid), "changed").Err(); err != nil {
		log.Printf("live: publish user %s: %v", uid, err)
	}
}

// ResourceChanged announces a change in one resource category.
func (p *Publisher) ResourceChanged(ctx context.Context, category store.ResourceCategory) {
	p.Changed(ctx, CollectionForCategory(category))
}
