package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// ---------- helpers ----------

const testJWTSecret = "integration-test-secret"

// startGameServer spins up the full HTTP surface over a registry with the
// pinned default lobby, countdown disabled so matches start immediately.
func startGameServer(t *testing.T) (*httptest.Server, string, *Config) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.CountdownSecs = 0
	cfg.Game.Projectile.Jitter = 0

	reg := NewRegistry(cfg, nil)
	if _, err := reg.Create(cfg.DefaultLobbyID, LobbyOptions{Pinned: true}); err != nil {
		t.Fatalf("create default lobby: %v", err)
	}
	verifier := NewVerifier(testJWTSecret)

	srv := httptest.NewServer(SetupRoutes(reg, verifier, cfg))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	t.Cleanup(func() {
		srv.Close()
		reg.StopAll()
	})
	return srv, wsURL, cfg
}

func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		t.Fatalf("marshal %s: %v", msgType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (InEnvelope, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return InEnvelope{}, err
	}
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env, nil
}

func mustReadEnvelope(t *testing.T, conn *websocket.Conn) InEnvelope {
	t.Helper()
	env, err := readEnvelope(t, conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

// joinAsGuest completes the handshake and returns the assigned player id.
func joinAsGuest(t *testing.T, conn *websocket.Conn, name string) uint64 {
	t.Helper()
	sendEnvelope(t, conn, MsgJoin, JoinPayload{DisplayName: name})

	env := mustReadEnvelope(t, conn)
	if env.Type != MsgIdentity {
		t.Fatalf("expected Identity first, got %s", env.Type)
	}
	var id IdentityPayload
	if err := json.Unmarshal(env.Data, &id); err != nil {
		t.Fatalf("unmarshal identity: %v", err)
	}
	if id.PlayerID == 0 {
		t.Fatal("assigned player id is zero")
	}

	if env := mustReadEnvelope(t, conn); env.Type != MsgGameState {
		t.Fatalf("expected GameState second, got %s", env.Type)
	}
	return id.PlayerID
}

// readWorldUpdateWith reads frames until a snapshot contains the entity, or
// fails after a bounded number of frames.
func readWorldUpdateWith(t *testing.T, conn *websocket.Conn, playerID uint64) WorldUpdatePayload {
	t.Helper()
	for i := 0; i < 200; i++ {
		env := mustReadEnvelope(t, conn)
		if env.Type != MsgWorldUpdate {
			continue
		}
		var update WorldUpdatePayload
		if err := json.Unmarshal(env.Data, &update); err != nil {
			t.Fatalf("unmarshal world update: %v", err)
		}
		for _, e := range update.Entities {
			if e.ID == playerID {
				return update
			}
		}
	}
	t.Fatalf("player %d never appeared in a snapshot", playerID)
	return WorldUpdatePayload{}
}

func postLobby(t *testing.T, srv *httptest.Server, body string) (*http.Response, createLobbyResponse) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/lobbies", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /lobbies: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var out createLobbyResponse
	if resp.StatusCode == http.StatusCreated {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, out
}

// ---------- HTTP surface ----------

func TestHealthz(t *testing.T) {
	srv, _, _ := startGameServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["lobbies"] != 1 {
		t.Errorf("expected 1 lobby, got %d", body["lobbies"])
	}
}

func TestCreateLobbyEndpoint(t *testing.T) {
	srv, _, _ := startGameServer(t)

	resp, out := postLobby(t, srv, `{"lobby_id":"room1"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if out.LobbyID != "room1" {
		t.Errorf("expected lobby_id room1, got %q", out.LobbyID)
	}

	resp, _ = postLobby(t, srv, `{"lobby_id":"room1"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate id: expected 409, got %d", resp.StatusCode)
	}

	resp, _ = postLobby(t, srv, `{"lobby_id":"  "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank id: expected 400, got %d", resp.StatusCode)
	}

	resp, out = postLobby(t, srv, `{}`)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("generated id: expected 201, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(out.LobbyID, "lobby-") {
		t.Errorf("expected generated lobby id, got %q", out.LobbyID)
	}

	getResp, err := http.Get(srv.URL + "/lobbies")
	if err != nil {
		t.Fatalf("GET /lobbies: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET: expected 405, got %d", getResp.StatusCode)
	}
}

// ---------- WebSocket flow ----------

func TestGuestJoinReceivesSnapshots(t *testing.T) {
	_, wsURL, cfg := startGameServer(t)
	conn := dialWS(t, wsURL)

	playerID := joinAsGuest(t, conn, "Ace")
	update := readWorldUpdateWith(t, conn, playerID)

	for _, e := range update.Entities {
		if e.ID == playerID && e.HP != cfg.Game.Player.MaxHP {
			t.Errorf("expected full HP in first snapshot, got %d", e.HP)
		}
	}
}

func TestInputMovesShip(t *testing.T) {
	_, wsURL, _ := startGameServer(t)
	conn := dialWS(t, wsURL)
	playerID := joinAsGuest(t, conn, "Ace")

	first := readWorldUpdateWith(t, conn, playerID)
	var startRot float64
	for _, e := range first.Entities {
		if e.ID == playerID {
			startRot = e.Rot
		}
	}

	sendEnvelope(t, conn, MsgInput, InputPayload{Thrust: 1, Turn: 1})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		update := readWorldUpdateWith(t, conn, playerID)
		for _, e := range update.Entities {
			if e.ID == playerID && e.Rot > startRot+0.01 {
				return
			}
		}
	}
	t.Error("ship never turned in response to input")
}

func TestSessionTokenIdentity(t *testing.T) {
	_, wsURL, _ := startGameServer(t)
	conn := dialWS(t, wsURL)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256,
		jwt.MapClaims{"pid": 4242, "usr": "Maverick"}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sendEnvelope(t, conn, MsgJoin, JoinPayload{SessionToken: token})

	env := mustReadEnvelope(t, conn)
	if env.Type != MsgIdentity {
		t.Fatalf("expected Identity, got %s", env.Type)
	}
	var id IdentityPayload
	if err := json.Unmarshal(env.Data, &id); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if id.PlayerID != 4242 {
		t.Errorf("expected player id 4242 from token, got %d", id.PlayerID)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	_, wsURL, _ := startGameServer(t)
	conn := dialWS(t, wsURL)

	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256,
		jwt.MapClaims{"pid": 1}).SignedString([]byte("wrong-secret"))
	sendEnvelope(t, conn, MsgJoin, JoinPayload{SessionToken: token})

	_, err := readEnvelope(t, conn)
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("expected policy violation close, got %v", err)
	}
}

func TestUnknownLobbyRejected(t *testing.T) {
	_, wsURL, _ := startGameServer(t)
	conn := dialWS(t, wsURL)

	sendEnvelope(t, conn, MsgJoin, JoinPayload{LobbyID: "no-such-lobby"})

	_, err := readEnvelope(t, conn)
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("expected policy violation close, got %v", err)
	}
}

func TestFirstMessageMustBeJoin(t *testing.T) {
	_, wsURL, _ := startGameServer(t)
	conn := dialWS(t, wsURL)

	sendEnvelope(t, conn, MsgInput, InputPayload{Thrust: 1})

	_, err := readEnvelope(t, conn)
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("expected policy violation close, got %v", err)
	}
}

func TestPrivateLobbyPasscode(t *testing.T) {
	srv, wsURL, _ := startGameServer(t)

	resp, _ := postLobby(t, srv, `{"lobby_id":"vip","passcode":"hunter2"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create private lobby: %d", resp.StatusCode)
	}

	wrong := dialWS(t, wsURL)
	sendEnvelope(t, wrong, MsgJoin, JoinPayload{LobbyID: "vip", Passcode: "nope"})
	if _, err := readEnvelope(t, wrong); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("wrong passcode: expected policy violation close, got %v", err)
	}

	right := dialWS(t, wsURL)
	sendEnvelope(t, right, MsgJoin, JoinPayload{LobbyID: "vip", Passcode: "hunter2"})
	if env := mustReadEnvelope(t, right); env.Type != MsgIdentity {
		t.Errorf("correct passcode: expected Identity, got %s", env.Type)
	}
}

func TestSpectatorDoesNotSpawn(t *testing.T) {
	srv, wsURL, _ := startGameServer(t)

	resp, _ := postLobby(t, srv, `{"lobby_id":"invite","allowed_player_ids":[999]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create invite lobby: %d", resp.StatusCode)
	}

	conn := dialWS(t, wsURL)
	sendEnvelope(t, conn, MsgJoin, JoinPayload{LobbyID: "invite", DisplayName: "Watcher"})
	if env := mustReadEnvelope(t, conn); env.Type != MsgIdentity {
		t.Fatalf("spectator should still complete the handshake, got %s", env.Type)
	}
	if env := mustReadEnvelope(t, conn); env.Type != MsgGameState {
		t.Fatalf("expected GameState, got %s", env.Type)
	}

	// Snapshots arrive but never contain a ship for this connection.
	for i := 0; i < 20; i++ {
		env := mustReadEnvelope(t, conn)
		if env.Type != MsgWorldUpdate {
			continue
		}
		var update WorldUpdatePayload
		if err := json.Unmarshal(env.Data, &update); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(update.Entities) != 0 {
			t.Fatalf("spectator lobby has entities: %+v", update.Entities)
		}
	}
}

func TestBinaryModeSnapshots(t *testing.T) {
	_, wsURL, _ := startGameServer(t)
	conn := dialWS(t, wsURL)

	sendEnvelope(t, conn, MsgJoin, JoinPayload{DisplayName: "Bin", Binary: true})
	if env := mustReadEnvelope(t, conn); env.Type != MsgIdentity {
		t.Fatalf("expected Identity, got %s", env.Type)
	}
	if env := mustReadEnvelope(t, conn); env.Type != MsgGameState {
		t.Fatalf("expected GameState, got %s", env.Type)
	}

	// Steer with a binary input, then confirm snapshots arrive as binary
	// frames and decode.
	if err := conn.WriteMessage(websocket.BinaryMessage,
		EncodeBinaryInput(InputPayload{Thrust: 1, Turn: 1})); err != nil {
		t.Fatalf("write binary input: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 200; i++ {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		update, err := DecodeBinaryWorldUpdate(raw)
		if err != nil {
			t.Fatalf("decode binary snapshot: %v", err)
		}
		if len(update.Entities) > 0 {
			return
		}
	}
	t.Error("never received a binary snapshot with entities")
}
