package main

import (
	"encoding/json"
	"math"
)

// Message type tags shared with clients.
const (
	MsgJoin        = "Join"
	MsgInput       = "Input"
	MsgIdentity    = "Identity"
	MsgWorldUpdate = "WorldUpdate"
	MsgGameState   = "GameState"
)

// Envelope wraps outgoing messages with a type tag.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// InEnvelope is the incoming variant — json.RawMessage avoids double-unmarshal.
type InEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is the first message a client must send on the stream.
type JoinPayload struct {
	LobbyID      string `json:"lobby_id,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	Passcode     string `json:"passcode,omitempty"`
	Binary       bool   `json:"binary,omitempty"`
}

// InputPayload is sent at the client's frame rate. Missing fields default to
// neutral/false.
type InputPayload struct {
	Thrust float64 `json:"thrust"`
	Turn   float64 `json:"turn"`
	Shoot  bool    `json:"shoot"`
}

// Sanitize rejects non-finite axes and clamps the rest into range.
func (in InputPayload) Sanitize() (Input, bool) {
	if math.IsNaN(in.Thrust) || math.IsInf(in.Thrust, 0) ||
		math.IsNaN(in.Turn) || math.IsInf(in.Turn, 0) {
		return Input{}, false
	}
	return Input{
		Thrust: Clamp(in.Thrust, -1, 1),
		Turn:   Clamp(in.Turn, -1, 1),
		Shoot:  in.Shoot,
	}, true
}

// IdentityPayload tells the client which player id it was assigned.
type IdentityPayload struct {
	PlayerID uint64 `json:"player_id"`
}

// EntityState is the per-entity slice of a snapshot.
type EntityState struct {
	ID  uint64  `json:"id"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Rot float64 `json:"rot"`
	HP  int     `json:"hp"`
}

// ProjectileState is the per-projectile slice of a snapshot.
type ProjectileState struct {
	ID      uint64  `json:"id"`
	OwnerID uint64  `json:"owner_id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Rot     float64 `json:"rot"`
}

// WorldUpdatePayload is the full per-tick snapshot.
type WorldUpdatePayload struct {
	Tick        uint64            `json:"tick"`
	Entities    []EntityState     `json:"entities"`
	Projectiles []ProjectileState `json:"projectiles"`
}

// ScoreEntry is one row of the final scoreboard.
type ScoreEntry struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Match phases. The wire shape mirrors an externally tagged enum: unit phases
// serialize as bare strings, phases with data as single-key objects.
type MatchPhase int

const (
	PhaseLobby MatchPhase = iota
	PhaseStarting
	PhaseRunning
	PhaseEnded
)

// MatchStartingData carries the countdown for the MatchStarting phase.
type MatchStartingData struct {
	InSeconds int `json:"in_seconds"`
}

// MatchEndedData carries the final standings.
type MatchEndedData struct {
	Scores []ScoreEntry `json:"scores"`
}

// GameStateData builds the GameState payload for a phase.
func GameStateData(phase MatchPhase, inSeconds int, scores []ScoreEntry) interface{} {
	switch phase {
	case PhaseStarting:
		return map[string]MatchStartingData{"MatchStarting": {InSeconds: inSeconds}}
	case PhaseRunning:
		return "MatchRunning"
	case PhaseEnded:
		return map[string]MatchEndedData{"MatchEnded": {Scores: scores}}
	default:
		return "Lobby"
	}
}
