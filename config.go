package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds runtime settings (tick rates, capacities, network) as opposed
// to gameplay tuning, which lives in GameConfig.
type Config struct {
	Addr           string  `toml:"addr"`
	DBPath         string  `toml:"db_path"`
	JWTSecret      string  `toml:"-"`
	DefaultLobbyID string  `toml:"default_lobby_id"`
	TickRate       int     `toml:"tick_rate"`
	InputCapacity  int     `toml:"input_capacity"`
	ClientBacklog  int     `toml:"client_backlog"`
	MatchTimeLimit float64 `toml:"match_time_limit"` // seconds, 0 disables match end
	CountdownSecs  int     `toml:"countdown_secs"`

	Game GameConfig `toml:"game"`
}

// GameConfig is gameplay tuning applied to every lobby world.
type GameConfig struct {
	MinX float64 `toml:"min_x"`
	MaxX float64 `toml:"max_x"`
	MinY float64 `toml:"min_y"`
	MaxY float64 `toml:"max_y"`

	Player     PlayerTuning     `toml:"player"`
	Projectile ProjectileTuning `toml:"projectile"`
	Heat       HeatTuning       `toml:"heat"`
}

// PlayerTuning covers ship movement and survivability.
type PlayerTuning struct {
	MaxSpeed       float64 `toml:"max_speed"`       // px/s
	TurnRate       float64 `toml:"turn_rate"`       // rad/s
	ThrottleRate   float64 `toml:"throttle_rate"`   // throttle units per second
	Radius         float64 `toml:"radius"`          // collision radius, px
	MaxHP          int     `toml:"max_hp"`
	RespawnSeconds float64 `toml:"respawn_seconds"`
}

// ProjectileTuning covers projectile motion and damage.
type ProjectileTuning struct {
	Speed    float64 `toml:"speed"`    // px/s
	TTL      float64 `toml:"ttl"`      // seconds
	Radius   float64 `toml:"radius"`   // px
	Damage   int     `toml:"damage"`
	Cooldown float64 `toml:"cooldown"` // seconds between shots
	Jitter   float64 `toml:"jitter"`   // max heading jitter per shot, radians
}

// HeatTuning covers the weapon heat gauge. A shot adds PerShot; heat decays at
// CoolRate while the trigger is released. Hitting Max blocks fire and starts
// the Lockout window before decay resumes.
type HeatTuning struct {
	Max      float64 `toml:"max"`
	PerShot  float64 `toml:"per_shot"`
	CoolRate float64 `toml:"cool_rate"` // units per second
	Lockout  float64 `toml:"lockout"`   // seconds
}

// DefaultConfig returns the baseline tuning.
func DefaultConfig() *Config {
	return &Config{
		Addr:           ":3001",
		DefaultLobbyID: "arena",
		TickRate:       60,
		InputCapacity:  1024,
		ClientBacklog:  32,
		MatchTimeLimit: 600,
		CountdownSecs:  3,
		Game: GameConfig{
			MinX: -400, MaxX: 400,
			MinY: -230, MaxY: 230,
			Player: PlayerTuning{
				MaxSpeed:       150,
				TurnRate:       3,
				ThrottleRate:   2,
				Radius:         24,
				MaxHP:          100,
				RespawnSeconds: 3,
			},
			Projectile: ProjectileTuning{
				Speed:    500,
				TTL:      3,
				Radius:   5,
				Damage:   30,
				Cooldown: 0.1,
				Jitter:   0.02,
			},
			Heat: HeatTuning{
				Max:      100,
				PerShot:  25,
				CoolRate: 40,
				Lockout:  1,
			},
		},
	}
}

// LoadConfig builds the config from defaults, an optional TOML file, and
// environment overrides, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("GAME_SERVER_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("GAME_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("GAME_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("GAME_TICK_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TickRate = n
		}
	}

	if cfg.TickRate <= 0 {
		return nil, fmt.Errorf("tick_rate must be positive, got %d", cfg.TickRate)
	}
	if cfg.InputCapacity <= 0 || cfg.ClientBacklog <= 0 {
		return nil, fmt.Errorf("channel capacities must be positive")
	}
	return cfg, nil
}

// TickInterval returns the fixed tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
