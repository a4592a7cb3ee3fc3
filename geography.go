// Mapquiz Geography Game
//
// One player (or a few people crowded around one session) names as many
// countries as they can before the clock runs out.
//
// Features:
// - WebSockets per game ID: /path/:gameid and /path/:gameid/ws
// - Every connection to a game shares the same round and sees the same map
// - The server owns the clock; clients only render the ticks they are sent
// - Start, pause/resume, reset and round length are shared controls
// - Correct guesses are broadcast so every client can light up the country
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"crypto/rand"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/mapquiz/quiz"
)

// Messages coming from clients
type ClientMessage struct {
	Type    string `json:"type"`              // "guess", "input", "start", "pause", "reset", "set_duration"
	Text    string `json:"text,omitempty"`    // guess, input
	Minutes int    `json:"minutes,omitempty"` // set_duration
}

// SessionInfoMessage is sent on connect, and whenever the round settings
// change, so the client can redraw everything from scratch.
type SessionInfoMessage struct {
	Type           string        `json:"type"` // "session_info"
	State          string        `json:"state"`
	Reason         string        `json:"reason,omitempty"`
	Remaining      int           `json:"remaining"`
	Clock          string        `json:"clock"`
	DefaultMinutes int           `json:"default_minutes"`
	Total          int           `json:"total"`
	Found          []quiz.Entity `json:"found"`
	Warned         bool          `json:"warned,omitempty"`
	Dangered       bool          `json:"dangered,omitempty"`
	Loading        bool          `json:"loading,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// FeedbackMessage is the transient text shown under the guess box.
type FeedbackMessage struct {
	Type    string            `json:"type"` // "feedback"
	Message string            `json:"message"`
	Kind    quiz.FeedbackKind `json:"kind"`
}

// CorrectMessage tells clients which country to highlight.
type CorrectMessage struct {
	Type    string      `json:"type"` // "correct"
	Country quiz.Entity `json:"country"`
}

// TickMessage carries one second of the countdown.
type TickMessage struct {
	Type      string `json:"type"` // "tick"
	Remaining int    `json:"remaining"`
	Clock     string `json:"clock"`
	Warning   bool   `json:"warning,omitempty"`
	Danger    bool   `json:"danger,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
}

// StateMessage is broadcast on every state transition.
type StateMessage struct {
	Type   string `json:"type"` // "state"
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
	quiz.Score
}

// SimpleMessage is for generic notifications ("reset", "invalid_config", etc.)
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type Client struct {
	conn *websocket.Conn
	send chan any
}

type command struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id    string
	cfg   *Config
	atlas *Atlas

	clients map[*Client]bool
	session *quiz.Session

	// loading is the atlas ready channel until it fires, then nil.
	loading <-chan struct{}

	register chan *Client
	unreg    chan *Client
	commands chan command
	quit     chan struct{}
	stop     sync.Once

	interval time.Duration
	ticker   *time.Ticker
	tick     <-chan time.Time

	mu         sync.RWMutex
	createdAt  time.Time
	lastActive time.Time
}

func newHub(cfg *Config, atlas *Atlas, gameID string) *Hub {
	now := time.Now()
	return &Hub{
		id:         gameID,
		cfg:        cfg,
		atlas:      atlas,
		clients:    make(map[*Client]bool),
		loading:    atlas.ready,
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		commands:   make(chan command),
		quit:       make(chan struct{}),
		interval:   time.Second,
		createdAt:  now,
		lastActive: now,
	}
}

// run owns the session: every guess, control and clock tick for this game
// is applied here, one at a time.
func (h *Hub) run() {
	defer h.shutdown()

	for {
		select {
		case c := <-h.register:
			h.touch()
			h.clients[c] = true
			h.sendTo(c, h.sessionInfo())

		case c := <-h.unreg:
			h.touch()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case cmd := <-h.commands:
			h.touch()
			h.handleCommand(cmd)
			h.syncClock()

		case <-h.loading:
			h.mapLoaded()

		case <-h.tick:
			if h.session != nil {
				h.session.Tick()
			}
			h.syncClock()

		case <-h.quit:
			return
		}
	}
}

// mapLoaded tells clients that connected while the atlas was still loading
// what they can do now.
func (h *Hub) mapLoaded() {
	h.loading = nil
	h.broadcast(h.sessionInfo())
}

func (h *Hub) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

func (h *Hub) idleSince() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.lastActive
}

// close asks the run loop to exit; safe to call more than once.
func (h *Hub) close() {
	h.stop.Do(func() {
		close(h.quit)
	})
}

func (h *Hub) shutdown() {
	h.stopClock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

// syncClock runs the ticker exactly while the session is running, so a
// paused, reset or finished round never sees another tick.
func (h *Hub) syncClock() {
	running := h.session != nil && h.session.State() == quiz.Running

	switch {
	case running && h.ticker == nil:
		h.ticker = time.NewTicker(h.interval)
		h.tick = h.ticker.C
	case !running && h.ticker != nil:
		h.stopClock()
	}
}

func (h *Hub) stopClock() {
	if h.ticker == nil {
		return
	}

	h.ticker.Stop()
	h.ticker = nil
	h.tick = nil
}

// ensureSession creates the round the first time it is needed after the
// atlas has finished loading.
func (h *Hub) ensureSession() (*quiz.Session, error) {
	if h.session != nil {
		return h.session, nil
	}

	resolver, err := h.atlas.Resolver()
	if err != nil {
		return nil, err
	}

	s := quiz.NewSession(resolver, h)
	if err := s.SetDefaultDuration(h.cfg.duration); err != nil {
		return nil, err
	}

	h.session = s

	return s, nil
}

func (h *Hub) sessionInfo() SessionInfoMessage {
	s, err := h.ensureSession()
	if err != nil {
		return SessionInfoMessage{
			Type:           "session_info",
			State:          quiz.Idle.String(),
			Remaining:      h.cfg.duration * 60,
			Clock:          quiz.FormatClock(h.cfg.duration * 60),
			DefaultMinutes: h.cfg.duration,
			Found:          []quiz.Entity{},
			Loading:        errors.Is(err, errAtlasLoading),
			Error:          err.Error(),
		}
	}

	st := s.Status()
	warned, dangered := s.Thresholds()

	return SessionInfoMessage{
		Type:           "session_info",
		State:          st.State.String(),
		Reason:         st.Reason.String(),
		Remaining:      s.Remaining(),
		Clock:          quiz.FormatClock(s.Remaining()),
		DefaultMinutes: s.DefaultSeconds() / 60,
		Total:          s.Total(),
		Found:          s.Found(),
		Warned:         warned,
		Dangered:       dangered,
	}
}

func (h *Hub) handleCommand(cmd command) {
	c := cmd.client
	msg := cmd.msg

	s, err := h.ensureSession()
	if err != nil {
		h.sendTo(c, SimpleMessage{
			Type:    "load_failure",
			Message: err.Error(),
		})
		return
	}

	switch msg.Type {
	case "guess":
		out := s.SubmitGuess(msg.Text)
		if out.Result == quiz.Correct {
			logf(h.cfg, "GAMES: Found %q in %s (%d/%d)", out.Entity.DisplayName, h.id, out.Found, s.Total())
		}

	case "input":
		if out, ok := s.SubmitIfKnown(msg.Text); ok && out.Result == quiz.Correct {
			logf(h.cfg, "GAMES: Found %q in %s (%d/%d)", out.Entity.DisplayName, h.id, out.Found, s.Total())
		}

	case "start":
		if s.Start() {
			logf(h.cfg, "GAMES: Started %s with %s on the clock", h.id, quiz.FormatClock(s.Remaining()))
		}

	case "pause":
		s.TogglePause()

	case "reset":
		s.Reset()

	case "set_duration":
		if err := s.SetDefaultDuration(msg.Minutes); err != nil {
			h.sendTo(c, SimpleMessage{
				Type:    "invalid_config",
				Message: err.Error(),
			})
			return
		}
		h.broadcast(h.sessionInfo())
	}
}

func (h *Hub) OnCorrect(e quiz.Entity) {
	h.broadcast(CorrectMessage{
		Type:    "correct",
		Country: e,
	})
}

func (h *Hub) OnFeedback(message string, kind quiz.FeedbackKind) {
	h.broadcast(FeedbackMessage{
		Type:    "feedback",
		Message: message,
		Kind:    kind,
	})
}

func (h *Hub) OnTick(sig quiz.TimeSignal) {
	h.broadcast(TickMessage{
		Type:      "tick",
		Remaining: sig.Remaining,
		Clock:     quiz.FormatClock(sig.Remaining),
		Warning:   sig.Warning,
		Danger:    sig.Danger,
		TimedOut:  sig.TimedOut,
	})
}

func (h *Hub) OnStateChange(st quiz.Status) {
	msg := StateMessage{
		Type:   "state",
		State:  st.State.String(),
		Reason: st.Reason.String(),
	}
	if h.session != nil {
		msg.Score = h.session.Score()
	}

	if st.State == quiz.Ended {
		logf(h.cfg, "GAMES: Ended %s (%s) with %d/%d found", h.id, st.Reason, msg.Found, msg.Total)
	}

	h.broadcast(msg)
}

func (h *Hub) OnReset() {
	h.broadcast(SimpleMessage{Type: "reset"})
	h.broadcast(h.sessionInfo())
}

func (h *Hub) sendTo(c *Client, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(msg any) {
	for client := range h.clients {
		h.sendTo(client, msg)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated session.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	atlas       *Atlas
	idleTimeout time.Duration
}

func newGameManager(atlas *Atlas, idleTimeout time.Duration) *GameManager {
	return &GameManager{
		hubs:        make(map[string]*Hub),
		atlas:       atlas,
		idleTimeout: idleTimeout,
	}
}

func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(cfg, gm.atlas, gameID)
	gm.hubs[gameID] = hub
	go hub.run()
	return hub
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reap removes hubs that have been idle since before cutoff.
func (gm *GameManager) reap(cfg *Config, cutoff time.Time) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	for id, hub := range gm.hubs {
		if hub.idleSince().Before(cutoff) {
			delete(gm.hubs, id)
			hub.close()
			logf(cfg, "GAMES: Reaped idle game %s after %s", id, time.Since(hub.createdAt).Round(time.Second))
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than
// idleTimeout, until ctx is done.
func (gm *GameManager) reaperLoop(cfg *Config, done <-chan struct{}) {
	if gm.idleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(gm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gm.reap(cfg, time.Now().Add(-gm.idleTimeout))
		case <-done:
			return
		}
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		hub := gm.getHub(cfg, gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 16),
		}

		select {
		case hub.register <- client:
		case <-hub.quit:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.quit:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "guess", "input", "start", "pause", "reset", "set_duration":
			select {
			case h.commands <- command{client: c, msg: msg}:
			case <-h.quit:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerGeographyGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerGeographyGame(cfg *Config, path string, mux *httprouter.Router, atlas *Atlas, done <-chan struct{}, errs chan<- error) *GameManager {
	gm := newGameManager(atlas, cfg.sessionTimeout)
	go gm.reaperLoop(cfg, done)

	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:gameid", serveGamePage(cfg, errs))

	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)

	mux.GET(cfg.prefix+"/data/countries.geojson", serveDataset(cfg, atlas, errs))
	mux.GET(cfg.prefix+"/data/countries.json", serveCountries(cfg, atlas, errs))

	return gm
}
