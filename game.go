package main

import (
	"encoding/json"
	"log"
	"time"
)

// GameEvent is one item on a lobby's input channel.
type GameEvent struct {
	Kind     gameEventKind
	PlayerID uint64
	Name     string
	Input    Input
}

type gameEventKind int

const (
	evJoin gameEventKind = iota
	evLeave
	evInput
)

// runWorld is the entry point of one lobby's world task goroutine. A panic in
// the loop is contained here: it is logged and the lobby is deregistered so
// clients disconnect instead of hanging on a zombie handle.
func runWorld(l *Lobby, cfg *Config, reg *Registry, analytics *Analytics) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("lobby %s: world task panic: %v", l.ID, rec)
		}
		reg.worldExited(l)
	}()

	t := &worldTask{
		lobby:     l,
		cfg:       cfg,
		world:     NewWorld(cfg.Game),
		reg:       reg,
		analytics: analytics,
	}
	t.run()
}

// worldTask owns one World and advances it at the configured tick rate. All
// world mutation happens on this goroutine.
type worldTask struct {
	lobby     *Lobby
	cfg       *Config
	world     *World
	reg       *Registry
	analytics *Analytics
}

func (t *worldTask) run() {
	l := t.lobby

	t.publishState(PhaseStarting, t.cfg.CountdownSecs, nil)
	select {
	case <-time.After(time.Duration(t.cfg.CountdownSecs) * time.Second):
	case <-l.stop:
		return
	}
	t.publishState(PhaseRunning, 0, nil)

	interval := t.cfg.TickInterval()
	dt := interval.Seconds()

	// time.Ticker is fixed-rate: a slow tick shortens the following sleep
	// instead of shifting every later tick.
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.tick(dt)
		case <-l.stop:
			return
		}
	}
}

func (t *worldTask) tick(dt float64) {
	w := t.world

	t.drainEvents()

	stepMovement(w, dt)
	kills := stepProjectiles(w, dt)
	w.stepRespawns(dt)

	for _, k := range kills {
		if killer, ok := w.Entities[k.KillerID]; ok {
			killer.Score++
		}
		t.analytics.Track(EvtPlayerKill, t.lobby.ID, k.KillerID, KillEventData{
			VictimID: k.VictimID,
			Tick:     w.Tick,
		})
	}

	// Match clock. The terminal event fires exactly once; the world keeps
	// ticking afterwards so remaining players see the final state until they
	// disconnect.
	if !w.Ended && t.lobby.TimeLimit > 0 {
		w.Elapsed += dt
		if w.Elapsed >= t.lobby.TimeLimit {
			w.Ended = true
			scores := w.Scoreboard()
			t.publishState(PhaseEnded, 0, scores)
			t.analytics.Track(EvtMatchEnd, t.lobby.ID, 0, MatchEventData{
				Duration: w.Elapsed,
				Players:  len(w.Entities),
				Scores:   scores,
			})
			log.Printf("lobby %s: match ended after %.0fs", t.lobby.ID, w.Elapsed)
			t.reg.matchEnded(t.lobby)
		}
	}

	w.Tick++
	t.publishSnapshot()
}

// drainEvents applies every event queued by drain time without blocking.
// Multiple inputs for the same entity collapse to the last one received.
func (t *worldTask) drainEvents() {
	w := t.world
	for {
		select {
		case ev := <-t.lobby.Events:
			switch ev.Kind {
			case evJoin:
				if _, ok := w.Entities[ev.PlayerID]; ok {
					continue
				}
				w.SpawnEntity(ev.PlayerID, ev.Name)
				log.Printf("lobby %s: player %d joined", t.lobby.ID, ev.PlayerID)
			case evLeave:
				w.RemoveEntity(ev.PlayerID)
				log.Printf("lobby %s: player %d left", t.lobby.ID, ev.PlayerID)
			case evInput:
				w.SetInput(ev.PlayerID, ev.Input)
			}
		default:
			return
		}
	}
}

// publishSnapshot serializes the tick's snapshot once (JSON and binary) and
// hands it to the fan-out. Slow consumers are the fan-out's problem, not ours.
func (t *worldTask) publishSnapshot() {
	update := t.world.Snapshot()
	jsonBytes, err := json.Marshal(Envelope{Type: MsgWorldUpdate, Data: update})
	if err != nil {
		log.Printf("lobby %s: marshal snapshot: %v", t.lobby.ID, err)
		return
	}
	t.lobby.Broadcast.Publish(Frame{
		JSON:   jsonBytes,
		Binary: EncodeBinaryWorldUpdate(update),
	})
}

// publishState records the phase on the lobby handle and broadcasts the
// GameState change. State messages are JSON-only; the binary envelope covers
// Input and WorldUpdate.
func (t *worldTask) publishState(phase MatchPhase, inSeconds int, scores []ScoreEntry) {
	t.lobby.setPhase(phase)
	jsonBytes, err := json.Marshal(Envelope{Type: MsgGameState, Data: GameStateData(phase, inSeconds, scores)})
	if err != nil {
		log.Printf("lobby %s: marshal game state: %v", t.lobby.ID, err)
		return
	}
	t.lobby.Broadcast.Publish(Frame{JSON: jsonBytes})
}
