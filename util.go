package main

import (
	"crypto/rand"
	"math"

	"github.com/segmentio/ksuid"
)

// Clamp restricts v to [min, max]
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// NormalizeAngle wraps angle to [-PI, PI]
func NormalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// NewLobbyID returns a fresh unique lobby id.
func NewLobbyID() string {
	return "lobby-" + ksuid.New().String()
}

// prng is a simple xorshift generator; spawn scatter and shot jitter don't
// need crypto random. Each World owns one, so world tasks never touch shared
// RNG state.
type prng struct {
	state uint64
}

// newPRNG returns a generator seeded from crypto/rand.
func newPRNG() *prng {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	var s uint64
	for i, v := range b {
		s |= uint64(v) << (uint(i) * 8)
	}
	if s == 0 {
		s = 1
	}
	return &prng{state: s}
}

// Float returns a random float64 in [0, 1)
func (p *prng) Float() float64 {
	p.state ^= p.state << 13
	p.state ^= p.state >> 7
	p.state ^= p.state << 17
	if p.state == 0 {
		p.state = 1
	}
	return float64(p.state%10000) / 10000.0
}
