package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/mapquiz/quiz"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()

	cfg := validConfig()
	cfg.dataset = writeDataset(t, testDataset)

	h := newHub(cfg, loadTestAtlas(t, cfg), "testgame")
	t.Cleanup(h.stopClock)

	return h
}

func addTestClient(h *Hub) *Client {
	c := &Client{send: make(chan any, 128)}
	h.clients[c] = true

	return c
}

func drain(c *Client) []any {
	var msgs []any
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func apply(h *Hub, c *Client, msg ClientMessage) {
	h.handleCommand(command{client: c, msg: msg})
	h.syncClock()
}

func TestHubClockFollowsSession(t *testing.T) {
	h := newTestHub(t)
	c := addTestClient(h)

	apply(h, c, ClientMessage{Type: "start"})
	require.Equal(t, quiz.Running, h.session.State())
	require.NotNil(t, h.tick)

	apply(h, c, ClientMessage{Type: "pause"})
	require.Equal(t, quiz.Paused, h.session.State())
	require.Nil(t, h.tick)

	apply(h, c, ClientMessage{Type: "pause"})
	require.Equal(t, quiz.Running, h.session.State())
	require.NotNil(t, h.tick)

	apply(h, c, ClientMessage{Type: "pause"})
	apply(h, c, ClientMessage{Type: "reset"})
	require.Equal(t, quiz.Idle, h.session.State())
	require.Nil(t, h.tick)

	// A tick that was already in flight when the round was reset is ignored.
	_, ok := h.session.Tick()
	require.False(t, ok)
	require.Equal(t, h.cfg.duration*60, h.session.Remaining())
}

func TestHubBroadcastsGuesses(t *testing.T) {
	h := newTestHub(t)
	c := addTestClient(h)

	apply(h, c, ClientMessage{Type: "start"})
	drain(c)

	apply(h, c, ClientMessage{Type: "guess", Text: "USA"})
	msgs := drain(c)
	require.Len(t, msgs, 2)

	correct, ok := msgs[0].(CorrectMessage)
	require.True(t, ok)
	require.Equal(t, "United States of America", correct.Country.DisplayName)

	feedback, ok := msgs[1].(FeedbackMessage)
	require.True(t, ok)
	require.Equal(t, quiz.FeedbackCorrect, feedback.Kind)

	apply(h, c, ClientMessage{Type: "guess", Text: "usa"})
	msgs = drain(c)
	require.Len(t, msgs, 1)
	require.Equal(t, quiz.FeedbackDuplicate, msgs[0].(FeedbackMessage).Kind)

	apply(h, c, ClientMessage{Type: "guess", Text: "france"})
	apply(h, c, ClientMessage{Type: "guess", Text: "gambia"})
	msgs = drain(c)

	state, ok := msgs[len(msgs)-1].(StateMessage)
	require.True(t, ok)
	require.Equal(t, "ended", state.State)
	require.Equal(t, "completed", state.Reason)
	require.Equal(t, quiz.Score{Found: 3, Total: 3, Percentage: 100}, state.Score)
	require.Nil(t, h.tick)
}

func TestHubRejectsInvalidDuration(t *testing.T) {
	h := newTestHub(t)
	c := addTestClient(h)

	apply(h, c, ClientMessage{Type: "set_duration", Minutes: 500})
	msgs := drain(c)
	require.Len(t, msgs, 1)
	require.Equal(t, "invalid_config", msgs[0].(SimpleMessage).Type)
	require.Equal(t, h.cfg.duration*60, h.session.Remaining())

	apply(h, c, ClientMessage{Type: "set_duration", Minutes: 3})
	msgs = drain(c)
	require.Len(t, msgs, 1)
	info := msgs[0].(SessionInfoMessage)
	require.Equal(t, 3, info.DefaultMinutes)
	require.Equal(t, "03:00", info.Clock)
}

func TestHubWithoutMapData(t *testing.T) {
	cfg := validConfig()
	h := newHub(cfg, newAtlas(), "loading")
	c := addTestClient(h)

	info := h.sessionInfo()
	require.True(t, info.Loading)
	require.NotEmpty(t, info.Error)

	apply(h, c, ClientMessage{Type: "start"})
	msgs := drain(c)
	require.Len(t, msgs, 1)
	require.Equal(t, "load_failure", msgs[0].(SimpleMessage).Type)
	require.Nil(t, h.session)
	require.Nil(t, h.tick)
}

func TestHubResendsInfoOnceMapLoads(t *testing.T) {
	cfg := validConfig()
	cfg.dataset = writeDataset(t, testDataset)

	atlas := newAtlas()
	h := newHub(cfg, atlas, "early")
	t.Cleanup(h.stopClock)
	c := addTestClient(h)

	h.sendTo(c, h.sessionInfo())
	atlas.load(context.Background(), cfg)

	select {
	case <-h.loading:
	default:
		t.Fatal("atlas ready channel did not fire")
	}
	h.mapLoaded()
	require.Nil(t, h.loading)

	msgs := drain(c)
	require.Len(t, msgs, 2)
	require.True(t, msgs[0].(SessionInfoMessage).Loading)

	info := msgs[1].(SessionInfoMessage)
	require.False(t, info.Loading)
	require.Empty(t, info.Error)
	require.Equal(t, 3, info.Total)

	apply(h, c, ClientMessage{Type: "start"})
	require.Equal(t, quiz.Running, h.session.State())
}

func TestHubTypeAhead(t *testing.T) {
	h := newTestHub(t)
	c := addTestClient(h)

	apply(h, c, ClientMessage{Type: "start"})
	drain(c)

	for _, partial := range []string{"f", "fr", "fra", "atlantis"} {
		apply(h, c, ClientMessage{Type: "input", Text: partial})
	}
	require.Empty(t, drain(c))
	require.Empty(t, h.session.Found())

	apply(h, c, ClientMessage{Type: "input", Text: "France"})
	msgs := drain(c)
	require.Len(t, msgs, 2)
	require.Equal(t, "France", msgs[0].(CorrectMessage).Country.DisplayName)
	require.Equal(t, quiz.FeedbackCorrect, msgs[1].(FeedbackMessage).Kind)

	// Still typing the same name after it was found says nothing.
	apply(h, c, ClientMessage{Type: "input", Text: "france"})
	require.Empty(t, drain(c))

	// An explicit guess of the same name still reports the duplicate.
	apply(h, c, ClientMessage{Type: "guess", Text: "france"})
	msgs = drain(c)
	require.Len(t, msgs, 1)
	require.Equal(t, quiz.FeedbackDuplicate, msgs[0].(FeedbackMessage).Kind)
}

func TestSessionInfoCarriesThresholds(t *testing.T) {
	h := newTestHub(t)
	c := addTestClient(h)

	apply(h, c, ClientMessage{Type: "set_duration", Minutes: 6})
	apply(h, c, ClientMessage{Type: "start"})

	info := h.sessionInfo()
	require.False(t, info.Warned)
	require.False(t, info.Dangered)

	for i := 0; i < 60; i++ {
		h.session.Tick()
	}

	info = h.sessionInfo()
	require.Equal(t, "05:00", info.Clock)
	require.True(t, info.Warned)
	require.False(t, info.Dangered)

	apply(h, c, ClientMessage{Type: "reset"})
	require.False(t, h.sessionInfo().Warned)
}

func TestHubTimesOut(t *testing.T) {
	h := newTestHub(t)
	c := addTestClient(h)

	apply(h, c, ClientMessage{Type: "set_duration", Minutes: 1})
	apply(h, c, ClientMessage{Type: "start"})

	for i := 0; i < 60; i++ {
		h.session.Tick()
	}
	h.syncClock()

	require.Equal(t, quiz.Status{State: quiz.Ended, Reason: quiz.TimedOut}, h.session.Status())
	require.Nil(t, h.tick)

	var last TickMessage
	for _, msg := range drain(c) {
		if tick, ok := msg.(TickMessage); ok {
			last = tick
		}
	}
	require.True(t, last.TimedOut)
	require.Equal(t, "00:00", last.Clock)
}

func TestReapClosesIdleGames(t *testing.T) {
	cfg := validConfig()
	gm := newGameManager(newAtlas(), time.Minute)

	hub := gm.getHub(cfg, "idle")
	require.Same(t, hub, gm.getHub(cfg, "idle"))

	gm.reap(cfg, time.Now().Add(-time.Hour))
	require.Len(t, gm.hubs, 1)

	gm.reap(cfg, time.Now().Add(time.Hour))
	require.Empty(t, gm.hubs)

	select {
	case <-hub.quit:
	default:
		t.Fatal("reaped hub was not closed")
	}
}

func TestNewGameID(t *testing.T) {
	gm := newGameManager(newAtlas(), 0)

	id := gm.newGameID()
	require.Len(t, id, 8)
	require.NotEqual(t, id, gm.newGameID())
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := validConfig()
	cfg.dataset = writeDataset(t, testDataset)

	done := make(chan struct{})
	errs := make(chan error, 64)

	mux, gm := newRouter(cfg, loadTestAtlas(t, cfg), done, errs)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		gm.reap(cfg, time.Now().Add(time.Hour))
		close(done)
	})

	return srv
}

func readUntil(t *testing.T, conn *websocket.Conn, kind string) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))

		if msg["type"] == kind {
			return msg
		}
	}
}

func TestWebSocketRound(t *testing.T) {
	srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/geography/abcd1234/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	info := readUntil(t, conn, "session_info")
	require.Equal(t, "idle", info["state"])
	require.EqualValues(t, 3, info["total"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "start"}))
	state := readUntil(t, conn, "state")
	require.Equal(t, "running", state["state"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "guess", Text: "  USA "}))
	correct := readUntil(t, conn, "correct")
	country := correct["country"].(map[string]any)
	require.Equal(t, "united states of america", country["canonical"])
	require.Equal(t, "0", country["geometry"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "guess", Text: "atlantis"}))
	feedback := readUntil(t, conn, "feedback")
	require.Equal(t, "incorrect", feedback["kind"])

	// A second viewer joining mid-round sees the progress so far.
	other, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer other.Close()

	info = readUntil(t, other, "session_info")
	require.Equal(t, "running", info["state"])
	require.Len(t, info["found"], 1)
}

func TestWebSocketBeforeMapLoads(t *testing.T) {
	cfg := validConfig()
	cfg.dataset = writeDataset(t, testDataset)

	atlas := newAtlas()
	done := make(chan struct{})
	errs := make(chan error, 64)

	mux, gm := newRouter(cfg, atlas, done, errs)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		gm.reap(cfg, time.Now().Add(time.Hour))
		close(done)
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/geography/early123/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	info := readUntil(t, conn, "session_info")
	require.Equal(t, true, info["loading"])

	countries := make(chan int, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/data/countries.json")
		if err != nil {
			countries <- 0
			return
		}
		resp.Body.Close()
		countries <- resp.StatusCode
	}()

	go atlas.load(context.Background(), cfg)

	info = readUntil(t, conn, "session_info")
	require.Nil(t, info["loading"])
	require.EqualValues(t, 3, info["total"])

	require.Equal(t, http.StatusOK, <-countries)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "start"}))
	state := readUntil(t, conn, "state")
	require.Equal(t, "running", state["state"])
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(srv.URL + "/geography")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	location := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(location, "/geography/"))
	require.Len(t, strings.TrimPrefix(location, "/geography/"), 8)

	resp, err = client.Get(srv.URL + "/data/countries.json")
	require.NoError(t, err)
	var countries CountriesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&countries))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, countries.Total)
	require.Equal(t, "france", countries.Countries[0].CanonicalName)

	resp, err = client.Get(srv.URL + "/data/countries.geojson")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))

	resp, err = client.Get(srv.URL + "/geography/abcd1234")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Security-Policy"), "https://unpkg.com")

	resp, err = client.Get(srv.URL + "/geography/abcd1234/qr")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	resp, err = client.Get(srv.URL + "/assets/geography/app.js")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
