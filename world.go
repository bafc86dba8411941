package main

import "sort"

// World is the authoritative state for one lobby. It is owned exclusively by
// that lobby's world task; no other goroutine touches it.
type World struct {
	Entities    map[uint64]*Entity
	Projectiles []*Projectile

	Tick    uint64
	Elapsed float64 // match clock, seconds since MatchRunning
	Ended   bool

	cfg              GameConfig
	rng              *prng
	nextProjectileID uint64
}

// Entity is a player's ship.
type Entity struct {
	ID   uint64
	Name string

	X, Y     float64
	Rot      float64 // radians, 0 = up
	Throttle float64 // 0..1

	HP    int
	Alive bool
	Score int

	LastInput     Input
	ShootCooldown float64 // seconds until next allowed shot
	Heat          float64
	HeatLock      float64 // remaining overheat lockout, seconds
	RespawnT      float64 // seconds until respawn, 0 while alive
}

// Projectile is a live shot. Despawned when TTL runs out or it hits.
type Projectile struct {
	ID      uint64
	OwnerID uint64

	X, Y   float64
	Rot    float64
	VX, VY float64
	TTL    float64
}

// Input is the latest control state for one entity. Every inbound message
// overwrites it; the world task applies whatever is current at drain time.
type Input struct {
	Thrust float64 // -1..1
	Turn   float64 // -1..1
	Shoot  bool
}

// Kill records one scored hit for the caller to tally.
type Kill struct {
	KillerID uint64
	VictimID uint64
}

// NewWorld creates an empty world with the given tuning.
func NewWorld(cfg GameConfig) *World {
	return &World{
		Entities:         make(map[uint64]*Entity),
		cfg:              cfg,
		rng:              newPRNG(),
		nextProjectileID: 1,
	}
}

// SpawnEntity adds a ship at a random in-bounds position with full HP.
func (w *World) SpawnEntity(id uint64, name string) *Entity {
	x, y := w.randomPosition()
	e := &Entity{
		ID:    id,
		Name:  name,
		X:     x,
		Y:     y,
		HP:    w.cfg.Player.MaxHP,
		Alive: true,
	}
	w.Entities[id] = e
	return e
}

// RemoveEntity drops an entity entirely, along with its in-flight projectiles.
func (w *World) RemoveEntity(id uint64) {
	delete(w.Entities, id)
	kept := w.Projectiles[:0]
	for _, p := range w.Projectiles {
		if p.OwnerID != id {
			kept = append(kept, p)
		}
	}
	w.Projectiles = kept
}

// SetInput records the latest input for an entity. Inputs for unknown ids are
// ignored; the connection may have raced a disconnect.
func (w *World) SetInput(id uint64, in Input) {
	if e, ok := w.Entities[id]; ok {
		e.LastInput = in
	}
}

// stepRespawns counts down dead entities and revives them at full HP in a
// fresh random spot once their timer drains.
func (w *World) stepRespawns(dt float64) {
	for _, e := range w.Entities {
		if e.Alive {
			continue
		}
		e.RespawnT -= dt
		if e.RespawnT > 0 {
			continue
		}
		e.X, e.Y = w.randomPosition()
		e.Rot = 0
		e.HP = w.cfg.Player.MaxHP
		e.Alive = true
		e.RespawnT = 0
		e.Throttle = 0
		e.ShootCooldown = 0
		e.Heat = 0
		e.HeatLock = 0
		e.LastInput = Input{}
	}
}

func (w *World) randomPosition() (float64, float64) {
	x := w.cfg.MinX + w.rng.Float()*(w.cfg.MaxX-w.cfg.MinX)
	y := w.cfg.MinY + w.rng.Float()*(w.cfg.MaxY-w.cfg.MinY)
	return x, y
}

// Snapshot builds the per-tick wire projection. Dead entities are omitted;
// they reappear on respawn.
func (w *World) Snapshot() WorldUpdatePayload {
	update := WorldUpdatePayload{
		Tick:        w.Tick,
		Entities:    make([]EntityState, 0, len(w.Entities)),
		Projectiles: make([]ProjectileState, 0, len(w.Projectiles)),
	}
	for _, e := range w.Entities {
		if !e.Alive {
			continue
		}
		update.Entities = append(update.Entities, EntityState{
			ID:  e.ID,
			X:   e.X,
			Y:   e.Y,
			Rot: e.Rot,
			HP:  e.HP,
		})
	}
	for _, p := range w.Projectiles {
		update.Projectiles = append(update.Projectiles, ProjectileState{
			ID:      p.ID,
			OwnerID: p.OwnerID,
			X:       p.X,
			Y:       p.Y,
			Rot:     p.Rot,
		})
	}
	return update
}

// Scoreboard returns final standings for the match-ended message, best
// score first.
func (w *World) Scoreboard() []ScoreEntry {
	scores := make([]ScoreEntry, 0, len(w.Entities))
	for _, e := range w.Entities {
		scores = append(scores, ScoreEntry{ID: e.ID, Name: e.Name, Score: e.Score})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].ID < scores[j].ID
	})
	return scores
}
