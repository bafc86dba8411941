package main

import "math"

// stepMovement advances every living entity from its latest input: turn,
// throttle, integrate position, then wrap across the world edges.
func stepMovement(w *World, dt float64) {
	p := w.cfg.Player
	for _, e := range w.Entities {
		if !e.Alive {
			continue
		}

		e.Rot = NormalizeAngle(e.Rot + e.LastInput.Turn*p.TurnRate*dt)

		e.Throttle = Clamp(e.Throttle+e.LastInput.Thrust*p.ThrottleRate*dt, 0, 1)

		// 0 rad faces up (-Y); positive rotation turns the nose clockwise.
		dirX := math.Sin(e.Rot)
		dirY := -math.Cos(e.Rot)

		e.X += dirX * e.Throttle * p.MaxSpeed * dt
		e.Y += dirY * e.Throttle * p.MaxSpeed * dt

		wrapPosition(&e.X, &e.Y, w.cfg)
	}
}

// wrapPosition teleports a point crossing a world edge to the opposite edge.
// Toroidal, not a clamp: clients must snap rather than interpolate across it.
func wrapPosition(x, y *float64, cfg GameConfig) {
	if *x < cfg.MinX {
		*x = cfg.MaxX
	} else if *x > cfg.MaxX {
		*x = cfg.MinX
	}
	if *y < cfg.MinY {
		*y = cfg.MaxY
	} else if *y > cfg.MaxY {
		*y = cfg.MinY
	}
}
