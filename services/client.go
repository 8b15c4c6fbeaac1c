package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"bingohall/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type connState int

const (
	stateConnecting connState = iota
	stateAuthenticated
	stateJoined
	stateDisconnected
)

// Client events.
const (
	actionAuthenticate = "authenticate"
	actionJoinGame     = "joinGame"
	actionLeaveGame    = "leaveGame"
	actionCallBingo    = "callBingo"
	actionCallNext     = "callNext"
	actionPing         = "ping"
)

type inboundFrame struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	AckID     json.RawMessage `json:"ackId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

type AckData struct {
	Status  string `json:"status"` // ok or error
	Message string `json:"message,omitempty"`
}

type ackFrame struct {
	Event EventName       `json:"event"`
	AckID json.RawMessage `json:"ackId"`
	Data  AckData         `json:"data"`
}

type authenticateData struct {
	Token string `json:"token"`
}

type joinGameData struct {
	ShopID  uint  `json:"shopId"`
	GameID  uint  `json:"gameId"`
	RoundID *uint `json:"roundId,omitempty"`
}

type callBingoData struct {
	GameID    uint    `json:"gameId"`
	RoundID   *uint   `json:"roundId,omitempty"`
	PatternID *uint   `json:"patternId,omitempty"`
	CardData  [][]int `json:"cardData"`
}

type callNextData struct {
	GameID  uint  `json:"gameId"`
	RoundID *uint `json:"roundId,omitempty"`
}

// Client is one websocket connection.
type Client struct {
	hub    *Hub
	id     string
	socket *websocket.Conn

	sendMu sync.Mutex
	send   chan []byte
	closed bool
	once   sync.Once

	// Routing state, written by the read loop and read by Publish.
	mu        sync.RWMutex
	state     connState
	tenantID  uint
	principal *Principal
	gameID    uint
	roundID   uint
}

func newClient(h *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		hub:    h,
		id:     id,
		socket: conn,
		send:   make(chan []byte, h.cfg.SendBuffer),
	}
}

func (c *Client) userID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.principal == nil {
		return ""
	}
	return c.principal.UserID
}

// wants reports whether ev belongs to this client's room or is addressed to it.
func (c *Client) wants(ev Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != stateJoined || c.tenantID != ev.TenantID || c.gameID != ev.GameID {
		return false
	}
	if ev.Recipient != "" && ev.Recipient != c.principal.UserID {
		return false
	}
	return c.roundID == 0 || ev.RoundID == 0 || c.roundID == ev.RoundID
}

// enqueue queues a frame without blocking. It reports false when the buffer is full.
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Close tears the connection down; the read loop then unregisters the client.
func (c *Client) Close() {
	c.once.Do(func() {
		c.socket.Close()
	})
}

// reject sends connect_error and closes with a policy violation. It is only
// used before the write pump starts.
func (c *Client) reject(message string) {
	defer c.Close()
	c.hub.log.Infow("connection rejected", "client_id", c.id, "reason", message)

	data, _ := json.Marshal(Envelope{
		Event:     EventConnectError,
		Status:    StatusError,
		Payload:   ErrorPayload{Code: "authentication_failed", Message: message},
		Timestamp: time.Now().UTC(),
	})
	deadline := time.Now().Add(writeWait)
	_ = c.socket.SetWriteDeadline(deadline)
	_ = c.socket.WriteMessage(websocket.TextMessage, data)
	_ = c.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
}

// run authenticates the connection and then serves it until it drops.
func (c *Client) run(tenantID uint, token string) {
	c.socket.SetReadLimit(c.hub.cfg.MaxMessageSize)

	principal, err := c.authenticate(token)
	if err != nil {
		c.reject("authentication failed")
		return
	}
	if principal.TenantID != tenantID {
		c.reject("token is not valid for this tenant")
		return
	}

	c.mu.Lock()
	c.state = stateAuthenticated
	c.tenantID = tenantID
	c.principal = principal
	c.mu.Unlock()

	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		c.Close()
		return
	}
	c.hub.log.Infow("client connected", "client_id", c.id, "tenant_id", tenantID, "user_id", principal.UserID)

	go c.writePump()
	c.readPump()
}

// authenticate uses the connect-time token or waits for an authenticate
// frame within the auth window.
func (c *Client) authenticate(token string) (*Principal, error) {
	if token == "" {
		_ = c.socket.SetReadDeadline(time.Now().Add(c.hub.cfg.AuthTimeout))
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("no credentials: %v: %w", err, ErrAuthenticationFailed)
		}
		var frame inboundFrame
		var data authenticateData
		if json.Unmarshal(message, &frame) != nil || frame.Event != actionAuthenticate || json.Unmarshal(frame.Data, &data) != nil {
			return nil, fmt.Errorf("expected authenticate frame: %w", ErrAuthenticationFailed)
		}
		token = data.Token
	}
	return c.hub.auth.Authenticate(token)
}

func (c *Client) readPump() {
	defer func() {
		c.mu.Lock()
		c.state = stateDisconnected
		c.mu.Unlock()

		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.Close()
	}()

	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Infow("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.sendError("", fmt.Errorf("malformed frame: %w", ErrInvalidRequest))
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(frame inboundFrame) {
	defer func() {
		if r := recover(); r != nil {
			c.hub.log.Errorw("client handler panicked", "client_id", c.id, "event", frame.Event, "panic", r)
			c.reply(frame, errors.New("internal error"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.hub.cfg.RequestTimeout)
	defer cancel()

	var err error
	switch frame.Event {
	case actionPing:
		if frame.AckID == nil {
			c.sendJSON(map[string]string{"event": "pong"})
			return
		}
	case actionJoinGame:
		err = c.joinGame(ctx, frame)
	case actionLeaveGame:
		c.leaveGame()
	case actionCallBingo:
		c.callBingo(ctx, frame)
		return
	case actionCallNext:
		err = c.callNext(ctx, frame)
	case actionAuthenticate:
		err = fmt.Errorf("already authenticated: %w", ErrInvalidRequest)
	default:
		err = fmt.Errorf("unknown event %q: %w", frame.Event, ErrInvalidRequest)
	}
	c.reply(frame, err)
}

// reply acks the frame when it carries an ack id; errors always also go out
// as system:error to this connection.
func (c *Client) reply(frame inboundFrame, err error) {
	if err != nil {
		c.sendError(frame.RequestID, err)
	}
	if frame.AckID == nil {
		return
	}
	data := AckData{Status: "ok"}
	if err != nil {
		data = AckData{Status: "error", Message: c.publicMessage(err)}
	}
	c.sendJSON(ackFrame{Event: EventAck, AckID: frame.AckID, Data: data})
}

func (c *Client) publicMessage(err error) string {
	if ErrorCode(err) == "internal_error" {
		return "internal error"
	}
	return err.Error()
}

func (c *Client) sendError(requestID string, err error) {
	code := ErrorCode(err)
	if code == "internal_error" {
		c.hub.log.Errorw("client request failed", "client_id", c.id, "request_id", requestID, "error", err)
	}
	c.sendEnvelope(Envelope{
		Event:     EventError,
		Status:    StatusError,
		Payload:   ErrorPayload{Code: code, Message: c.publicMessage(err)},
		RequestID: requestID,
	})
}

func (c *Client) sendEnvelope(env Envelope) {
	env.Timestamp = time.Now().UTC()
	c.sendJSON(env)
}

func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.hub.log.Errorw("failed to marshal frame", "client_id", c.id, "error", err)
		return
	}
	if !c.enqueue(data) {
		go c.Close()
	}
}

func decodeData(frame inboundFrame, v any) error {
	if len(frame.Data) == 0 {
		return fmt.Errorf("%s needs data: %w", frame.Event, ErrInvalidRequest)
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return fmt.Errorf("%s data: %v: %w", frame.Event, err, ErrInvalidRequest)
	}
	return nil
}

// game loads a game of the client's tenant.
func (c *Client) game(ctx context.Context, gameID uint) (*models.Game, *Principal, error) {
	c.mu.RLock()
	principal, tenantID := c.principal, c.tenantID
	c.mu.RUnlock()

	game, err := c.hub.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}
	if game.TenantID != tenantID {
		return nil, nil, fmt.Errorf("game %d: %w", gameID, ErrNotFound)
	}
	return game, principal, nil
}

// roundFor picks the requested round, the joined round, or the game's active round.
func (c *Client) roundFor(ctx context.Context, gameID uint, requested *uint) (uint, error) {
	if requested != nil {
		return *requested, nil
	}
	c.mu.RLock()
	joined := c.roundID
	if c.gameID != gameID {
		joined = 0
	}
	c.mu.RUnlock()
	if joined != 0 {
		return joined, nil
	}

	active, err := c.hub.coordinator.GetActiveRound(ctx, gameID)
	if err != nil {
		return 0, err
	}
	if active == nil {
		return 0, fmt.Errorf("game %d has no active round: %w", gameID, ErrInvalidTransition)
	}
	return active.ID, nil
}

func (c *Client) joinGame(ctx context.Context, frame inboundFrame) error {
	var data joinGameData
	if err := decodeData(frame, &data); err != nil {
		return err
	}
	game, principal, err := c.game(ctx, data.GameID)
	if err != nil {
		return err
	}
	if game.ShopID != data.ShopID {
		return fmt.Errorf("game %d is not run by shop %d: %w", game.ID, data.ShopID, ErrPermissionDenied)
	}
	if err := c.hub.authorizer.CanJoin(principal, game); err != nil {
		return err
	}

	roundID := uint(0)
	if data.RoundID != nil {
		roundID = *data.RoundID
	}

	// Join before reading the snapshot: a call committed in between then
	// arrives twice rather than not at all, and clients drop it by sequence.
	c.mu.Lock()
	prevState, prevGame, prevRound := c.state, c.gameID, c.roundID
	c.state = stateJoined
	c.gameID = game.ID
	c.roundID = roundID
	c.mu.Unlock()

	var snapshot *RoundStatusPayload
	if roundID != 0 {
		if snapshot, err = c.hub.coordinator.RoundSnapshot(ctx, game.ID, roundID); err != nil {
			c.mu.Lock()
			if c.state == stateJoined && c.gameID == game.ID && c.roundID == roundID {
				c.state, c.gameID, c.roundID = prevState, prevGame, prevRound
			}
			c.mu.Unlock()
			return err
		}
	}
	c.hub.log.Infow("client joined game", "client_id", c.id, "user_id", principal.UserID, "game_id", game.ID, "round_id", roundID)

	if snapshot == nil {
		active, err := c.hub.coordinator.GetActiveRound(ctx, game.ID)
		if err != nil {
			return err
		}
		if active != nil {
			if snapshot, err = c.hub.coordinator.RoundSnapshot(ctx, game.ID, active.ID); err != nil {
				return err
			}
		}
	}
	if snapshot != nil {
		c.sendEnvelope(Envelope{
			Event:     EventRoundStatus,
			Status:    StatusInfo,
			Payload:   snapshot,
			Entity:    "round",
			RequestID: frame.RequestID,
		})
	}
	return nil
}

func (c *Client) leaveGame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateJoined {
		c.state = stateAuthenticated
	}
	c.gameID = 0
	c.roundID = 0
}

// callBingo acks once the claim is registered. The outcome reaches the room
// as winner:verified or this client as a claim_rejected error.
func (c *Client) callBingo(ctx context.Context, frame inboundFrame) {
	claim, req, err := c.registerClaim(ctx, frame)
	c.reply(frame, err)
	if err != nil {
		return
	}
	if _, err := c.hub.coordinator.VerifyClaim(ctx, req.GameID, req.RoundID, claim.ID); err != nil {
		c.sendError(frame.RequestID, err)
	}
}

func (c *Client) registerClaim(ctx context.Context, frame inboundFrame) (*models.WinnerClaim, ClaimRequest, error) {
	var data callBingoData
	if err := decodeData(frame, &data); err != nil {
		return nil, ClaimRequest{}, err
	}

	c.mu.RLock()
	joined := c.state == stateJoined && c.gameID == data.GameID
	principal := c.principal
	c.mu.RUnlock()
	if !joined {
		return nil, ClaimRequest{}, fmt.Errorf("join game %d before calling bingo: %w", data.GameID, ErrPermissionDenied)
	}

	roundID, err := c.roundFor(ctx, data.GameID, data.RoundID)
	if err != nil {
		return nil, ClaimRequest{}, err
	}
	req := ClaimRequest{
		GameID:        data.GameID,
		RoundID:       roundID,
		ParticipantID: principal.UserID,
		PatternID:     data.PatternID,
		Card:          data.CardData,
	}
	claim, err := c.hub.coordinator.RegisterClaim(ctx, req)
	return claim, req, err
}

func (c *Client) callNext(ctx context.Context, frame inboundFrame) error {
	var data callNextData
	if err := decodeData(frame, &data); err != nil {
		return err
	}
	game, principal, err := c.game(ctx, data.GameID)
	if err != nil {
		return err
	}
	if err := c.hub.authorizer.CanOperate(principal, game); err != nil {
		return err
	}
	roundID, err := c.roundFor(ctx, game.ID, data.RoundID)
	if err != nil {
		return err
	}
	_, err = c.hub.coordinator.CallNext(ctx, game.ID, roundID)
	return err
}
