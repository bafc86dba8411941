package main

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"
)

const maxLobbies = 100

var (
	ErrLobbyExists    = errors.New("lobby already exists")
	ErrLobbyNotFound  = errors.New("lobby not found")
	ErrTooManyLobbies = errors.New("too many active lobbies")
	ErrBadPasscode    = errors.New("invalid lobby passcode")
)

// Lobby bundles everything a connection needs to talk to one world task: the
// input channel, the snapshot fan-out, and lifecycle bookkeeping. The world
// state itself never leaves the task.
type Lobby struct {
	ID     string
	Pinned bool

	Events    chan GameEvent
	Broadcast *Broadcaster

	// Match duration in seconds; 0 disables the time limit.
	TimeLimit float64

	conns int64

	allowed  map[uint64]struct{}
	passHash []byte

	stop     chan struct{}
	stopOnce sync.Once

	phaseMu sync.Mutex
	phase   MatchPhase
}

// Phase returns the current match phase.
func (l *Lobby) Phase() MatchPhase {
	l.phaseMu.Lock()
	defer l.phaseMu.Unlock()
	return l.phase
}

func (l *Lobby) setPhase(p MatchPhase) {
	l.phaseMu.Lock()
	l.phase = p
	l.phaseMu.Unlock()
}

// Stop signals the world task to exit. Idempotent.
func (l *Lobby) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Conns returns the live connection count, spectators included.
func (l *Lobby) Conns() int {
	return int(atomic.LoadInt64(&l.conns))
}

// AllowsPlayer reports whether the player may spawn a ship here. An empty
// allow list means an open lobby; listed-only lobbies turn everyone else into
// spectators.
func (l *Lobby) AllowsPlayer(id uint64) bool {
	if len(l.allowed) == 0 {
		return true
	}
	_, ok := l.allowed[id]
	return ok
}

// CheckPasscode verifies the join passcode for private lobbies.
func (l *Lobby) CheckPasscode(passcode string) error {
	if len(l.passHash) == 0 {
		return nil
	}
	if bcrypt.CompareHashAndPassword(l.passHash, []byte(passcode)) != nil {
		return ErrBadPasscode
	}
	return nil
}

// TrySendEvent forwards an event without blocking. Returns false when the
// input channel is full; the caller drops the event to protect tick latency.
func (l *Lobby) TrySendEvent(ev GameEvent) bool {
	select {
	case l.Events <- ev:
		return true
	default:
		return false
	}
}

// SendEvent forwards an event, waiting for channel space unless the lobby is
// stopping. Used for join/leave, which must not be silently lost.
func (l *Lobby) SendEvent(ev GameEvent) bool {
	select {
	case l.Events <- ev:
		return true
	case <-l.stop:
		return false
	}
}

// LobbyOptions configures lobby creation.
type LobbyOptions struct {
	Pinned           bool
	AllowedPlayerIDs []uint64
	Passcode         string
	TimeLimit        float64 // seconds, 0 disables match end
}

// Registry owns the set of active lobbies and their world tasks.
type Registry struct {
	cfg       *Config
	analytics *Analytics

	mu      sync.RWMutex
	lobbies map[string]*Lobby
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *Config, analytics *Analytics) *Registry {
	return &Registry{
		cfg:       cfg,
		analytics: analytics,
		lobbies:   make(map[string]*Lobby),
	}
}

// Create registers a new lobby and spawns its world task. Fails with
// ErrLobbyExists on a duplicate id.
func (r *Registry) Create(id string, opts LobbyOptions) (*Lobby, error) {
	var passHash []byte
	if opts.Passcode != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(opts.Passcode), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		passHash = h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lobbies[id]; ok {
		return nil, ErrLobbyExists
	}
	if len(r.lobbies) >= maxLobbies {
		return nil, ErrTooManyLobbies
	}

	l := &Lobby{
		ID:        id,
		Pinned:    opts.Pinned,
		Events:    make(chan GameEvent, r.cfg.InputCapacity),
		Broadcast: NewBroadcaster(r.cfg.ClientBacklog),
		TimeLimit: opts.TimeLimit,
		stop:      make(chan struct{}),
		passHash:  passHash,
	}
	if len(opts.AllowedPlayerIDs) > 0 {
		l.allowed = make(map[uint64]struct{}, len(opts.AllowedPlayerIDs))
		for _, pid := range opts.AllowedPlayerIDs {
			l.allowed[pid] = struct{}{}
		}
	}
	r.lobbies[id] = l

	go runWorld(l, r.cfg, r, r.analytics)

	log.Printf("lobby %s: created (pinned=%v, time_limit=%.0fs, allowed=%d)",
		id, opts.Pinned, opts.TimeLimit, len(opts.AllowedPlayerIDs))
	r.analytics.Track(EvtLobbyCreated, id, 0, nil)
	return l, nil
}

// Get returns a lobby by id, or nil.
func (r *Registry) Get(id string) *Lobby {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lobbies[id]
}

// GetOrCreate returns the existing lobby or creates one with default options.
// Concurrent callers racing on the same id all end up attached to the single
// winner's lobby. The join handshake resolves lobbies with Get instead: a
// mistyped lobby id must be rejected there, not silently given a fresh world.
func (r *Registry) GetOrCreate(id string) (*Lobby, error) {
	if l := r.Get(id); l != nil {
		return l, nil
	}
	l, err := r.Create(id, LobbyOptions{TimeLimit: r.cfg.MatchTimeLimit})
	if errors.Is(err, ErrLobbyExists) {
		if existing := r.Get(id); existing != nil {
			return existing, nil
		}
		return nil, ErrLobbyNotFound
	}
	return l, err
}

// MarkConnected records a new live connection on the lobby.
func (r *Registry) MarkConnected(l *Lobby) {
	atomic.AddInt64(&l.conns, 1)
}

// MarkDisconnected records a dropped connection and tears the lobby down if
// it is now empty with a finished match.
func (r *Registry) MarkDisconnected(l *Lobby) {
	for {
		cur := atomic.LoadInt64(&l.conns)
		if cur == 0 {
			break
		}
		if atomic.CompareAndSwapInt64(&l.conns, cur, cur-1) {
			break
		}
	}
	r.maybeTeardown(l)
}

// matchEnded is called by the world task when the match reaches its terminal
// state, so a lobby that is already empty is cleaned up immediately.
func (r *Registry) matchEnded(l *Lobby) {
	r.maybeTeardown(l)
}

// maybeTeardown removes the lobby when it is unpinned, empty, and its match
// is over. A lobby that empties mid-match stays alive; one whose match ends
// while occupied lives until connections drain.
func (r *Registry) maybeTeardown(l *Lobby) {
	if l.Pinned {
		return
	}
	if atomic.LoadInt64(&l.conns) != 0 || l.Phase() != PhaseEnded {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lobbies[l.ID] != l {
		return
	}
	if atomic.LoadInt64(&l.conns) != 0 || l.Phase() != PhaseEnded {
		return
	}
	delete(r.lobbies, l.ID)
	l.Stop()
	log.Printf("lobby %s: empty after match end, removed", l.ID)
	r.analytics.Track(EvtLobbyRemoved, l.ID, 0, nil)
}

// worldExited removes a lobby whose world task has stopped, whether by
// teardown or by a contained panic. Leaves no zombie handle behind.
func (r *Registry) worldExited(l *Lobby) {
	r.mu.Lock()
	if r.lobbies[l.ID] == l {
		delete(r.lobbies, l.ID)
	}
	r.mu.Unlock()
	l.Stop()
	l.Broadcast.Close()
}

// LobbyCount returns the number of active lobbies.
func (r *Registry) LobbyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lobbies)
}

// StopAll signals every world task to exit. Used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	lobbies := make([]*Lobby, 0, len(r.lobbies))
	for id, l := range r.lobbies {
		lobbies = append(lobbies, l)
		delete(r.lobbies, id)
	}
	r.mu.Unlock()
	for _, l := range lobbies {
		l.Stop()
	}
}
