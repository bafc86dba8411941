package main

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	joinWait          = 5 * time.Second
	maxMessageSize    = 4096
	maxMessagesPerSec = 120
	maxInvalidMsgs    = 10
	logThrottle       = 2 * time.Second
)

// Client is the per-connection adapter between one WebSocket and one lobby.
// It owns the handshake, the input forwarding path, and the snapshot relay.
// Nothing it does can block the lobby's world task.
type Client struct {
	conn     *websocket.Conn
	reg      *Registry
	verifier *Verifier
	cfg      *Config

	remoteAddr string

	lobby    *Lobby
	sub      *Subscriber
	identity Identity
	canSpawn bool
	binary   bool

	msgCount   int
	msgResetAt time.Time

	invalidMsgs      int
	lastInputFullLog time.Time
	lastLagLog       time.Time
	lastInvalidLog   time.Time
}

// ServeClient runs a connection for its whole lifetime: handshake, then the
// concurrent read and write loops. Blocks until the connection dies.
func ServeClient(conn *websocket.Conn, reg *Registry, verifier *Verifier, cfg *Config, remoteAddr, queryLobbyID string) {
	c := &Client{
		conn:       conn,
		reg:        reg,
		verifier:   verifier,
		cfg:        cfg,
		remoteAddr: remoteAddr,
	}

	if err := c.handshake(queryLobbyID); err != nil {
		log.Printf("conn %s: handshake rejected: %v", remoteAddr, err)
		conn.Close()
		return
	}
	log.Printf("conn %s: player %d connected to lobby %s (spawn=%v)",
		remoteAddr, c.identity.PlayerID, c.lobby.ID, c.canSpawn)

	go c.writePump()
	c.readPump()
	c.teardown()
}

// handshakeError closes the socket with a structured reason and returns an
// error for the caller's log line.
func (c *Client) handshakeError(code int, reason string) error {
	deadline := time.Now().Add(writeWait)
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return &websocket.CloseError{Code: code, Text: reason}
}

// handshake reads the Join message, resolves identity and lobby, registers
// the connection, and replies with Identity plus the current match state.
func (c *Client) handshake(queryLobbyID string) error {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(joinWait))

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}

	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != MsgJoin {
		return c.handshakeError(websocket.ClosePolicyViolation, "expected Join message")
	}
	var join JoinPayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &join); err != nil {
			return c.handshakeError(websocket.ClosePolicyViolation, "malformed Join payload")
		}
	}

	// Identity: verify the session token when present, otherwise a guest.
	if join.SessionToken != "" {
		identity, err := c.verifier.VerifyToken(join.SessionToken)
		if err != nil {
			return c.handshakeError(websocket.ClosePolicyViolation, "invalid session token")
		}
		c.identity = identity
	} else {
		c.identity = GuestIdentity(join.DisplayName)
	}

	// Lobby resolution: explicit ids must exist; only the absent case falls
	// back to the pinned default lobby.
	lobbyID := join.LobbyID
	if lobbyID == "" {
		lobbyID = queryLobbyID
	}
	if lobbyID == "" {
		lobbyID = c.cfg.DefaultLobbyID
	}
	lobby := c.reg.Get(lobbyID)
	if lobby == nil {
		return c.handshakeError(websocket.ClosePolicyViolation, "unknown lobby")
	}
	if err := lobby.CheckPasscode(join.Passcode); err != nil {
		return c.handshakeError(websocket.ClosePolicyViolation, "invalid lobby passcode")
	}

	c.lobby = lobby
	c.binary = join.Binary
	c.canSpawn = lobby.AllowsPlayer(c.identity.PlayerID)

	// Subscribe before Join so the first snapshot containing this ship is
	// never missed.
	c.sub = lobby.Broadcast.Subscribe()
	c.reg.MarkConnected(lobby)

	if c.canSpawn {
		if !lobby.SendEvent(GameEvent{Kind: evJoin, PlayerID: c.identity.PlayerID, Name: c.identity.Name}) {
			lobby.Broadcast.Unsubscribe(c.sub)
			c.reg.MarkDisconnected(lobby)
			return c.handshakeError(websocket.CloseGoingAway, "lobby closed")
		}
	}

	// From here on a failure must undo the registration, or the entity would
	// outlive the connection.
	if err := c.writeJSON(Envelope{Type: MsgIdentity, Data: IdentityPayload{PlayerID: c.identity.PlayerID}}); err != nil {
		c.teardown()
		return err
	}
	phase := lobby.Phase()
	if err := c.writeJSON(Envelope{Type: MsgGameState, Data: GameStateData(phase, c.cfg.CountdownSecs, nil)}); err != nil {
		c.teardown()
		return err
	}
	return nil
}

// writeJSON is only used during the handshake, before writePump owns the
// socket.
func (c *Client) writeJSON(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// teardown deregisters the connection. Removing the entity (not just killing
// it) makes the ship disappear from future snapshots.
func (c *Client) teardown() {
	if c.canSpawn {
		c.lobby.SendEvent(GameEvent{Kind: evLeave, PlayerID: c.identity.PlayerID})
	}
	c.lobby.Broadcast.Unsubscribe(c.sub)
	c.reg.MarkDisconnected(c.lobby)
	c.conn.Close()
	log.Printf("conn %s: player %d disconnected", c.remoteAddr, c.identity.PlayerID)
}

// readPump reads client messages until the connection dies. Malformed
// messages are discarded, counted, and only a sustained stream of garbage
// disconnects.
func (c *Client) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("conn %s: read error: %v", c.remoteAddr, err)
			}
			return
		}

		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("conn %s: message rate exceeded, disconnecting", c.remoteAddr)
			return
		}

		var ok bool
		if msgType == websocket.BinaryMessage {
			ok = c.handleBinary(raw)
		} else {
			ok = c.handleText(raw)
		}
		if !ok {
			return
		}
	}
}

func (c *Client) handleBinary(raw []byte) bool {
	in, err := DecodeBinaryInput(raw)
	if err != nil {
		return c.noteInvalid("binary input", err)
	}
	c.forwardInput(in)
	return true
}

func (c *Client) handleText(raw []byte) bool {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return c.noteInvalid("envelope", err)
	}

	switch env.Type {
	case MsgInput:
		var in InputPayload
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &in); err != nil {
				return c.noteInvalid("input payload", err)
			}
		}
		c.forwardInput(in)
	case MsgJoin:
		if c.shouldLog(&c.lastInvalidLog) {
			log.Printf("conn %s: duplicate Join ignored", c.remoteAddr)
		}
	default:
		if c.shouldLog(&c.lastInvalidLog) {
			log.Printf("conn %s: unknown message type %q", c.remoteAddr, env.Type)
		}
	}
	return true
}

// forwardInput validates and hands an input to the lobby. A full input
// channel drops the newest input rather than blocking the read loop.
func (c *Client) forwardInput(payload InputPayload) {
	in, valid := payload.Sanitize()
	if !valid {
		if c.shouldLog(&c.lastInvalidLog) {
			log.Printf("player %d: non-finite input values, dropping", c.identity.PlayerID)
		}
		return
	}
	if !c.canSpawn {
		if c.shouldLog(&c.lastInvalidLog) {
			log.Printf("player %d: spectator input ignored", c.identity.PlayerID)
		}
		return
	}
	if !c.lobby.TrySendEvent(GameEvent{Kind: evInput, PlayerID: c.identity.PlayerID, Input: in}) {
		if c.shouldLog(&c.lastInputFullLog) {
			log.Printf("lobby %s: input channel full, dropping input from player %d",
				c.lobby.ID, c.identity.PlayerID)
		}
	}
}

func (c *Client) noteInvalid(what string, err error) bool {
	c.invalidMsgs++
	if c.shouldLog(&c.lastInvalidLog) {
		log.Printf("conn %s: malformed %s: %v", c.remoteAddr, what, err)
	}
	if c.invalidMsgs > maxInvalidMsgs {
		log.Printf("conn %s: too many malformed messages, disconnecting", c.remoteAddr)
		return false
	}
	return true
}

func (c *Client) shouldLog(last *time.Time) bool {
	if time.Since(*last) >= logThrottle {
		*last = time.Now()
		return true
	}
	return false
}

// writePump relays frames from the lobby fan-out to the socket, in tick
// order. Frames this subscriber lost to backlog overflow show up as a lag
// count, not as blocking upstream.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.sub.C:
			if !ok {
				// Lobby torn down.
				deadline := time.Now().Add(writeWait)
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "lobby closed"), deadline)
				return
			}
			if n := c.sub.TakeLagged(); n > 0 && c.shouldLog(&c.lastLagLog) {
				log.Printf("player %d: lagged, skipped %d frames", c.identity.PlayerID, n)
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			var err error
			if c.binary && frame.Binary != nil {
				err = c.conn.WriteMessage(websocket.BinaryMessage, frame.Binary)
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, frame.JSON)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
