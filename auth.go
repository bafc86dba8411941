package main

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"
)

const (
	maxDisplayNameLen  = 32
	defaultDisplayName = "Pilot"
)

var ErrInvalidToken = errors.New("invalid session token")

// Identity is the resolved "who is this connection" answer. Issuance lives in
// an upstream service; this server only verifies.
type Identity struct {
	PlayerID uint64
	Name     string
	Guest    bool
}

// Verifier validates session tokens (HS256 JWT with pid/usr claims).
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the shared token secret. An empty secret
// generates a random one, which rejects all externally issued tokens; guests
// still work.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			panic("failed to generate token secret: " + err.Error())
		}
		return &Verifier{secret: b}
	}
	return &Verifier{secret: []byte(secret)}
}

// VerifyToken resolves a session token to an identity.
func (v *Verifier) VerifyToken(tokenStr string) (Identity, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	pid, ok := claims["pid"].(float64)
	if !ok || pid <= 0 {
		return Identity{}, ErrInvalidToken
	}
	name, _ := claims["usr"].(string)

	return Identity{
		PlayerID: uint64(pid),
		Name:     SanitizeName(name),
	}, nil
}

// guestCounter is seeded randomly so ids don't collide across restarts while
// staying process-unique and monotonic.
var guestCounter uint64

func init() {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	// Leave headroom above the random base; real player ids come from tokens.
	guestCounter = uint64(binary.LittleEndian.Uint32(b)) << 16
}

// GuestIdentity mints a throwaway identity for unauthenticated players.
func GuestIdentity(name string) Identity {
	if strings.TrimSpace(name) == "" {
		s := ksuid.New().String()
		name = "Guest_" + s[len(s)-5:]
	}
	return Identity{
		PlayerID: atomic.AddUint64(&guestCounter, 1),
		Name:     SanitizeName(name),
		Guest:    true,
	}
}

// SanitizeName trims and bounds a display name, falling back to the default.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxDisplayNameLen {
		return defaultDisplayName
	}
	return name
}
