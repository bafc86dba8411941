package main

import "math"

// stepProjectiles runs the full projectile lifecycle for one tick: spawn from
// shoot intents, integrate, resolve hits, cool weapons, drop expired shots.
// Returns the kills scored this tick for the caller to tally.
//
// Hit testing is O(projectiles x entities). Fine while lobbies hold tens of
// each; revisit before raising the player cap.
func stepProjectiles(w *World, dt float64) []Kill {
	pj := w.cfg.Projectile
	heat := w.cfg.Heat

	// Entities that overheated this call; their lockout must not start
	// draining until the next tick.
	var justLocked map[uint64]struct{}

	// Spawn from shoot intents gated by cooldown and heat.
	for _, e := range w.Entities {
		if !e.Alive {
			continue
		}
		e.ShootCooldown = math.Max(e.ShootCooldown-dt, 0)
		if !e.LastInput.Shoot || e.ShootCooldown > 0 || e.Heat >= heat.Max {
			continue
		}

		rot := e.Rot + (w.rng.Float()*2-1)*pj.Jitter
		dirX := math.Sin(rot)
		dirY := -math.Cos(rot)

		w.Projectiles = append(w.Projectiles, &Projectile{
			ID:      w.nextProjectileID,
			OwnerID: e.ID,
			// Nose position: the edge of the ship's radius, facing forward.
			X:   e.X + dirX*w.cfg.Player.Radius,
			Y:   e.Y + dirY*w.cfg.Player.Radius,
			Rot: rot,
			VX:  dirX * pj.Speed,
			VY:  dirY * pj.Speed,
			TTL: pj.TTL,
		})
		w.nextProjectileID++
		e.ShootCooldown = pj.Cooldown
		e.Heat += heat.PerShot
		if e.Heat >= heat.Max {
			e.Heat = heat.Max
			e.HeatLock = heat.Lockout
			if justLocked == nil {
				justLocked = make(map[uint64]struct{})
			}
			justLocked[e.ID] = struct{}{}
		}
	}

	// Integrate motion and lifetimes.
	for _, p := range w.Projectiles {
		p.X += p.VX * dt
		p.Y += p.VY * dt
		p.TTL -= dt
	}

	// Hit resolution. First qualifying hit wins; entity order is map order,
	// so equidistant ties resolve arbitrarily.
	var kills []Kill
	hitRadius := w.cfg.Player.Radius + pj.Radius
	hitRadiusSq := hitRadius * hitRadius
	for _, p := range w.Projectiles {
		if p.TTL <= 0 {
			continue
		}
		for _, e := range w.Entities {
			if !e.Alive || e.ID == p.OwnerID {
				continue
			}
			dx := e.X - p.X
			dy := e.Y - p.Y
			if dx*dx+dy*dy > hitRadiusSq {
				continue
			}

			e.HP -= pj.Damage
			if e.HP <= 0 {
				e.HP = 0
				e.Alive = false
				e.RespawnT = w.cfg.Player.RespawnSeconds
				e.Throttle = 0
				e.ShootCooldown = 0
				e.Heat = 0
				e.HeatLock = 0
				kills = append(kills, Kill{KillerID: p.OwnerID, VictimID: e.ID})
			}
			// One hit per projectile: expire it before the next pairing.
			p.TTL = 0
			break
		}
	}

	// Passive weapon cooling. An overheated weapon waits out the lockout
	// before heat starts to drain, so feathering the trigger at the cap
	// cannot re-enable fire the moment heat dips below max.
	for _, e := range w.Entities {
		if !e.Alive {
			continue
		}
		if e.HeatLock > 0 {
			if _, ok := justLocked[e.ID]; !ok {
				e.HeatLock = math.Max(e.HeatLock-dt, 0)
			}
			continue
		}
		if !e.LastInput.Shoot && e.Heat > 0 {
			e.Heat = math.Max(e.Heat-heat.CoolRate*dt, 0)
		}
	}

	// Drop expired projectiles.
	kept := w.Projectiles[:0]
	for _, p := range w.Projectiles {
		if p.TTL > 0 {
			kept = append(kept, p)
		}
	}
	w.Projectiles = kept

	return kills
}
