package live

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"studyhub/api/internal/store"
)

const loadTimeout = 10 * time.Second

// Mux multiplexes one live subscription per tracked collection on behalf of
// a single client view. Identity-independent feeds run for the Mux's whole
// lifetime; the current-user feed is torn down and re-established whenever
// Bind changes the authenticated identity.
type Mux struct {
	rdb        *redis.Client
	loader     Loader
	chatWindow int

	mu            sync.Mutex
	feeds         map[Collection]*feed
	watchers      map[int]chan Snapshot
	nextWatcherID int
	closed        bool
	uid           string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type feed struct {
	collection Collection
	cancel     context.CancelFunc
	done       chan struct{}

	mu   sync.RWMutex
	snap Snapshot
}

func NewMux(rdb *redis.Client, loader Loader, chatWindow int) *Mux {
	if chatWindow <= 0 {
		chatWindow = 50
	}
	return &Mux{
		rdb:        rdb,
		loader:     loader,
		chatWindow: chatWindow,
		feeds:      make(map[Collection]*feed),
		watchers:   make(map[int]chan Snapshot),
	}
}

// Start establishes the identity-independent feeds. Call Bind afterwards to
// attach a current-user feed.
func (m *Mux) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.ctx != nil {
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.startFeedLocked(Users, channelFor(Users), func(ctx context.Context) (Snapshot, error) {
		users, err := m.loader.ListUsers(ctx)
		return Snapshot{Collection: Users, Users: users}, err
	})
	m.startFeedLocked(Announcements, channelFor(Announcements), func(ctx context.Context) (Snapshot, error) {
		items, err := m.loader.ListAnnouncements(ctx)
		return Snapshot{Collection: Announcements, Announcements: items}, err
	})
	for _, category := range store.Categories() {
		category := category
		collection := CollectionForCategory(category)
		m.startFeedLocked(collection, channelFor(collection), func(ctx context.Context) (Snapshot, error) {
			items, err := m.loader.ListResources(ctx, category)
			return Snapshot{Collection: collection, Resources: items}, err
		})
	}
	m.startFeedLocked(ActivePoll, channelFor(ActivePoll), func(ctx context.Context) (Snapshot, error) {
		poll, err := m.loader.ActivePoll(ctx)
		return Snapshot{Collection: ActivePoll, Poll: poll}, err
	})
	m.startFeedLocked(Chat, channelFor(Chat), func(ctx context.Context) (Snapshot, error) {
		messages, err := m.loader.RecentMessages(ctx, m.chatWindow)
		return Snapshot{Collection: Chat, Messages: messages}, err
	})
}

// Bind re-keys the current-user feed to uid. The previous feed, if any, is
// torn down first so no snapshot for the old identity can be delivered after
// the switch. An empty uid detaches (logout) and clears the snapshot.
func (m *Mux) Bind(uid string) {
	m.mu.Lock()
	if m.closed || m.ctx == nil {
		m.mu.Unlock()
		return
	}
	old := m.feeds[CurrentUser]
	delete(m.feeds, CurrentUser)
	m.uid = uid
	m.mu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
	}

	if uid == "" {
		m.notify(Snapshot{Collection: CurrentUser})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.uid != uid {
		return
	}
	m.startFeedLocked(CurrentUser, userChannel(uid), func(ctx context.Context) (Snapshot, error) {
		user, err := m.loader.GetUser(ctx, uid)
		if err != nil {
			return Snapshot{Collection: CurrentUser}, err
		}
		return Snapshot{Collection: CurrentUser, User: &user}, nil
	})
}

// startFeedLocked launches one feed goroutine. Caller holds m.mu.
func (m *Mux) startFeedLocked(collection Collection, channel string, load func(context.Context) (Snapshot, error)) {
	ctx, cancel := context.WithCancel(m.ctx)
	f := &feed{
		collection: collection,
		cancel:     cancel,
		done:       make(chan struct{}),
		snap:       Snapshot{Collection: collection},
	}
	m.feeds[collection] = f

	m.wg.Add(1)
	go m.run(ctx, f, channel, load)
}

func (m *Mux) run(ctx context.Context, f *feed, channel string, load func(context.Context) (Snapshot, error)) {
	defer m.wg.Done()
	defer close(f.done)

	pubsub := m.rdb.Subscribe(ctx, channel)
	defer pubsub.Close()

	// Subscribe before the first load so a change landing in between still
	// triggers a reload instead of being lost.
	ch := pubsub.Channel()
	m.reload(ctx, f, load)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			m.reload(ctx, f, load)
		}
	}
}

// reload replaces the feed's snapshot. On a load error the previous snapshot
// is kept; a failing feed degrades to stale, it never tears down siblings.
func (m *Mux) reload(ctx context.Context, f *feed, load func(context.Context) (Snapshot, error)) {
	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	snap, err := load(loadCtx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("live: reload %s: %v", f.collection, err)
		}
		return
	}

	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()

	m.notify(snap)
}

// notify fans a fresh snapshot out to every watcher. The closed check and
// the sends happen under the same lock Close takes, so a feed that lost the
// race cannot deliver after teardown.
func (m *Mux) notify(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for _, ch := range m.watchers {
		select {
		case ch <- snap:
		default:
			// Slow watcher; it will catch up from the accessor state.
		}
	}
}

// Watch registers a change listener. The returned cancel unregisters it; the
// channel is closed afterwards.
func (m *Mux) Watch() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Snapshot, 16)
	if m.closed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextWatcherID
	m.nextWatcherID++
	m.watchers[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Close tears down every feed and watcher. No snapshot is delivered after
// Close returns.
func (m *Mux) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.cancel != nil {
		m.cancel()
	}
	watchers := m.watchers
	m.watchers = make(map[int]chan Snapshot)
	m.mu.Unlock()

	m.wg.Wait()
	for _, ch := range watchers {
		close(ch)
	}
}

func (m *Mux) snapshot(collection Collection) Snapshot {
	m.mu.Lock()
	f := m.feeds[collection]
	m.mu.Unlock()
	if f == nil {
		return Snapshot{Collection: collection}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap
}

// Snapshots returns the current state of every feed, for an initial client
// sync before incremental watching.
func (m *Mux) Snapshots() []Snapshot {
	m.mu.Lock()
	feeds := make([]*feed, 0, len(m.feeds))
	for _, f := range m.feeds {
		feeds = append(feeds, f)
	}
	m.mu.Unlock()

	snaps := make([]Snapshot, 0, len(feeds))
	for _, f := range feeds {
		f.mu.RLock()
		snaps = append(snaps, f.snap)
		f.mu.RUnlock()
	}
	return snaps
}

func (m *Mux) Users() []store.User {
	return m.snapshot(Users).Users
}

func (m *Mux) CurrentUser() *store.User {
	return m.snapshot(CurrentUser).User
}

func (m *Mux) Announcements() []store.Announcement {
	return m.snapshot(Announcements).Announcements
}

func (m *Mux) Resources(category store.ResourceCategory) []store.Resource {
	return m.snapshot(CollectionForCategory(category)).Resources
}

func (m *Mux) ActivePoll() *store.Poll {
	return m.snapshot(ActivePoll).Poll
}

func (m *Mux) Messages() []store.GlobalMessage {
	return m.snapshot(Chat).Messages
}
