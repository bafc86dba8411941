package main

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

const (
	maxConnsPerIP = 8
	maxTotalConns = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// connLimiter caps concurrent connections globally and per IP.
type connLimiter struct {
	mu      sync.Mutex
	ipConns map[string]int
	total   int
}

func newConnLimiter() *connLimiter {
	return &connLimiter{ipConns: make(map[string]int)}
}

func (cl *connLimiter) CanAccept(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.total < maxTotalConns && cl.ipConns[ip] < maxConnsPerIP
}

func (cl *connLimiter) TrackConnect(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.ipConns[ip]++
	cl.total++
}

func (cl *connLimiter) TrackDisconnect(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.ipConns[ip]--
	if cl.ipConns[ip] <= 0 {
		delete(cl.ipConns, ip)
	}
	cl.total--
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// createLobbyRequest is the POST /lobbies body. A nil LobbyID asks the server
// to generate one; an explicitly blank id is a client error.
type createLobbyRequest struct {
	LobbyID          *string  `json:"lobby_id"`
	AllowedPlayerIDs []uint64 `json:"allowed_player_ids"`
	Passcode         string   `json:"passcode"`
	TimeLimitSecs    *float64 `json:"time_limit_secs"`
}

type createLobbyResponse struct {
	LobbyID string `json:"lobby_id"`
}

// SetupRoutes configures the HTTP surface: lobby creation, the WebSocket
// endpoint, and a health probe.
func SetupRoutes(reg *Registry, verifier *Verifier, cfg *Config) *http.ServeMux {
	mux := http.NewServeMux()
	limiter := newConnLimiter()

	mux.HandleFunc("/lobbies", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req createLobbyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}

		var lobbyID string
		if req.LobbyID != nil {
			lobbyID = strings.TrimSpace(*req.LobbyID)
			if lobbyID == "" {
				http.Error(w, "lobby_id must not be blank", http.StatusBadRequest)
				return
			}
		} else {
			lobbyID = NewLobbyID()
		}

		timeLimit := cfg.MatchTimeLimit
		if req.TimeLimitSecs != nil && *req.TimeLimitSecs >= 0 {
			timeLimit = *req.TimeLimitSecs
		}

		_, err := reg.Create(lobbyID, LobbyOptions{
			AllowedPlayerIDs: req.AllowedPlayerIDs,
			Passcode:         req.Passcode,
			TimeLimit:        timeLimit,
		})
		switch {
		case errors.Is(err, ErrLobbyExists):
			http.Error(w, "lobby already exists", http.StatusConflict)
			return
		case errors.Is(err, ErrTooManyLobbies):
			http.Error(w, "too many active lobbies", http.StatusServiceUnavailable)
			return
		case err != nil:
			log.Printf("create lobby %s: %v", lobbyID, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(createLobbyResponse{LobbyID: lobbyID})
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !limiter.CanAccept(ip) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade error: %v", err)
			return
		}
		limiter.TrackConnect(ip)

		queryLobbyID := r.URL.Query().Get("lobby_id")
		go func() {
			defer limiter.TrackDisconnect(ip)
			ServeClient(conn, reg, verifier, cfg, ip, queryLobbyID)
		}()
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"lobbies": reg.LobbyCount()})
	})

	return mux
}
