package main

import (
	"log"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Event types for analytics tracking
const (
	EvtLobbyCreated = "lobby_created"
	EvtLobbyRemoved = "lobby_removed"
	EvtMatchEnd     = "match_end"
	EvtPlayerKill   = "player_kill"
)

// KillEventData is the payload for a player_kill event.
type KillEventData struct {
	VictimID uint64 `msgpack:"victim_id"`
	Tick     uint64 `msgpack:"tick"`
}

// MatchEventData is the payload for a match_end event.
type MatchEventData struct {
	Duration float64      `msgpack:"duration"`
	Players  int          `msgpack:"players"`
	Scores   []ScoreEntry `msgpack:"scores"`
}

// AnalyticsEvent represents a single trackable event
type AnalyticsEvent struct {
	Type      string
	LobbyID   string
	PlayerID  uint64
	Payload   []byte // msgpack-encoded metadata (optional)
	match     *MatchEventData
	Timestamp time.Time
}

// Analytics handles event tracking with batched background writes. A nil
// *Analytics is valid and drops everything, so the server runs without a DB.
type Analytics struct {
	db     *DB
	events chan AnalyticsEvent
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewAnalytics creates and starts the analytics background writer. Returns
// nil when db is nil.
func NewAnalytics(db *DB) *Analytics {
	if db == nil {
		return nil
	}
	a := &Analytics{
		db:     db,
		events: make(chan AnalyticsEvent, 1024),
		stop:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writer()
	return a
}

// Track enqueues an event for async persistence (non-blocking)
func (a *Analytics) Track(evtType, lobbyID string, playerID uint64, payload interface{}) {
	if a == nil {
		return
	}
	evt := AnalyticsEvent{
		Type:      evtType,
		LobbyID:   lobbyID,
		PlayerID:  playerID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		blob, err := msgpack.Marshal(payload)
		if err != nil {
			log.Printf("analytics: marshal %s payload: %v", evtType, err)
		} else {
			evt.Payload = blob
		}
		if md, ok := payload.(MatchEventData); ok {
			evt.match = &md
		}
	}
	select {
	case a.events <- evt:
	default:
		// Channel full — drop event rather than blocking game loops
	}
}

// Stop gracefully shuts down the analytics writer
func (a *Analytics) Stop() {
	if a == nil {
		return
	}
	close(a.stop)
	a.wg.Wait()
}

// writer is the background goroutine that batches and writes events to DB
func (a *Analytics) writer() {
	defer a.wg.Done()

	batch := make([]AnalyticsEvent, 0, 64)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt := <-a.events:
			batch = append(batch, evt)
			// Flush immediately if batch is large
			if len(batch) >= 50 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.stop:
			// Drain whatever is queued, then flush once.
			for {
				select {
				case evt := <-a.events:
					batch = append(batch, evt)
				default:
					if len(batch) > 0 {
						a.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (a *Analytics) flush(batch []AnalyticsEvent) {
	if err := a.db.InsertEvents(batch); err != nil {
		log.Printf("analytics: write %d events: %v", len(batch), err)
		return
	}
	for _, evt := range batch {
		if evt.match == nil {
			continue
		}
		if err := a.db.InsertMatch(evt.LobbyID, evt.match.Duration, evt.match.Players, evt.Timestamp); err != nil {
			log.Printf("analytics: write match summary: %v", err)
		}
	}
}
