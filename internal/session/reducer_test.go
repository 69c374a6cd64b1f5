package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Darkweaver2535/scrapewatch/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func event(typ client.EventType, msg string, data interface{}) client.Event {
	ev := client.Event{Type: typ, Message: msg, Timestamp: t0}
	if data != nil {
		raw, _ := json.Marshal(data)
		ev.Data = raw
	}
	return ev
}

func running() Session {
	return Session{Status: Running, SessionID: "S1", Items: []ItemProgress{}, Log: []client.Event{}}
}

func withItem(s Session) Session {
	s.Items = []ItemProgress{{ID: "1", Description: "v1", SubItemsExpected: 10}}
	return s
}

func stats(itemsTotal, processed, subTotal, extracted int) map[string]int {
	return map[string]int{
		"items_total":         itemsTotal,
		"items_processed":     processed,
		"sub_items_total":     subTotal,
		"sub_items_extracted": extracted,
		"errors":              0,
	}
}

func TestReduceStartedMovesStartingToRunning(t *testing.T) {
	s := Session{Status: Starting, SessionID: "S1"}
	next := Reduce(s, event(client.EventStarted, "", nil))
	assert.Equal(t, Running, next.Status)
	assert.Len(t, next.Log, 1)

	// A second started is only logged.
	again := Reduce(next, event(client.EventStarted, "", nil))
	assert.Equal(t, Running, again.Status)
	assert.Len(t, again.Log, 2)
}

func TestReduceBrowserOpeningDiscoversItems(t *testing.T) {
	s := Reduce(running(), event(client.EventBrowserOpening, "", map[string]interface{}{
		"items_info": []map[string]interface{}{{"id": 1, "description": "v1", "expected_count": 10}},
	}))
	require.Len(t, s.Items, 1)
	assert.Equal(t, ItemProgress{ID: "1", Description: "v1", SubItemsExpected: 10}, s.Items[0])
}

func TestReduceBrowserOpeningMergesKnownItems(t *testing.T) {
	s := withItem(running())
	s.Items[0].SubItemsExtracted = 3

	next := Reduce(s, event(client.EventBrowserOpening, "", map[string]interface{}{
		"items_info": []map[string]interface{}{
			{"id": "2", "description": "v2", "expected_count": 5},
			{"id": 1, "description": "v1 renamed", "expected_count": 12},
			{"description": "no id"},
		},
	}))
	require.Len(t, next.Items, 2)
	assert.Equal(t, ItemProgress{ID: "1", Description: "v1 renamed", SubItemsExpected: 12, SubItemsExtracted: 3}, next.Items[0])
	assert.Equal(t, client.ItemID("2"), next.Items[1].ID)

	// The input is untouched.
	assert.Equal(t, "v1", s.Items[0].Description)
	assert.Len(t, s.Items, 1)
}

func TestReduceItemCompleted(t *testing.T) {
	tests := []struct {
		name          string
		data          map[string]interface{}
		wantExtracted int
		wantStats     Stats
	}{
		{
			name:          "known item gets delta and stats",
			data:          map[string]interface{}{"item_id": 1, "extracted_delta": 4, "stats": stats(1, 0, 10, 4)},
			wantExtracted: 4,
			wantStats:     Stats{ItemsTotal: 1, SubItemsTotal: 10, SubItemsExtracted: 4},
		},
		{
			name:          "string id matches numeric id",
			data:          map[string]interface{}{"item_id": "1", "extracted_delta": 2},
			wantExtracted: 2,
		},
		{
			name:          "unknown item only updates stats",
			data:          map[string]interface{}{"item_id": 99, "extracted_delta": 4, "stats": stats(1, 1, 10, 4)},
			wantExtracted: 0,
			wantStats:     Stats{ItemsTotal: 1, ItemsProcessed: 1, SubItemsTotal: 10, SubItemsExtracted: 4},
		},
		{
			name:          "missing delta",
			data:          map[string]interface{}{"item_id": 1, "stats": stats(1, 0, 10, 4)},
			wantExtracted: 0,
			wantStats:     Stats{ItemsTotal: 1, SubItemsTotal: 10, SubItemsExtracted: 4},
		},
		{
			name:          "negative delta ignored",
			data:          map[string]interface{}{"item_id": 1, "extracted_delta": -3},
			wantExtracted: 0,
		},
		{
			name:          "legacy stat names",
			data:          map[string]interface{}{"stats": map[string]int{"total_videos": 3, "extracted_comments": 7}},
			wantExtracted: 0,
			wantStats:     Stats{ItemsTotal: 3, SubItemsExtracted: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := Reduce(withItem(running()), event(client.EventVideoCompleted, "", tt.data))
			assert.Equal(t, Running, next.Status)
			require.Len(t, next.Items, 1)
			assert.Equal(t, tt.wantExtracted, next.Items[0].SubItemsExtracted)
			assert.Equal(t, tt.wantStats, next.Stats)
		})
	}
}

func TestReduceItemCompletedToleratesFloatsAndBadFields(t *testing.T) {
	tests := []struct {
		name          string
		data          string
		wantExtracted int
		wantStats     Stats
	}{
		{
			name:          "float delta",
			data:          `{"item_id":1,"extracted_delta":4.0,"stats":{"sub_items_extracted":4}}`,
			wantExtracted: 4,
			wantStats:     Stats{SubItemsExtracted: 4},
		},
		{
			name:          "float item id",
			data:          `{"item_id":1.0,"extracted_delta":4}`,
			wantExtracted: 4,
		},
		{
			name:          "bad delta still merges stats",
			data:          `{"item_id":1,"extracted_delta":"lots","stats":{"items_processed":1}}`,
			wantExtracted: 0,
			wantStats:     Stats{ItemsProcessed: 1},
		},
		{
			name:          "bad stats still applies delta",
			data:          `{"item_id":"1","extracted_delta":3,"stats":"n/a"}`,
			wantExtracted: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := event(client.EventVideoCompleted, "", nil)
			ev.Data = json.RawMessage(tt.data)
			next := Reduce(withItem(running()), ev)
			require.Len(t, next.Items, 1)
			assert.Equal(t, tt.wantExtracted, next.Items[0].SubItemsExtracted)
			assert.Equal(t, tt.wantStats, next.Stats)
		})
	}
}

func TestReduceItemCompletedDoesNotAliasInput(t *testing.T) {
	s := withItem(running())
	next := Reduce(s, event(client.EventItemCompleted, "", map[string]interface{}{"item_id": 1, "extracted_delta": 5}))
	assert.Equal(t, 5, next.Items[0].SubItemsExtracted)
	assert.Equal(t, 0, s.Items[0].SubItemsExtracted)
}

func TestReduceStatsNeverDecrease(t *testing.T) {
	s := running()
	s.Stats = Stats{ItemsTotal: 3, ItemsProcessed: 2, SubItemsExtracted: 20}
	next := Reduce(s, event(client.EventVideoCompleted, "", map[string]interface{}{
		"stats": map[string]int{"items_processed": 1, "sub_items_extracted": 25},
	}))
	assert.Equal(t, Stats{ItemsTotal: 3, ItemsProcessed: 2, SubItemsExtracted: 25}, next.Stats)
}

func TestReduceCheckpointRoundTrip(t *testing.T) {
	s := Reduce(running(), event(client.EventCaptchaDetected, "Solve the captcha", nil))
	assert.Equal(t, WaitingForCheckpoint, s.Status)
	assert.Equal(t, "Solve the captcha", s.CheckpointMessage)

	// Progress keeps flowing while paused.
	s = Reduce(s, event(client.EventVideoStarted, "", map[string]int{"item_index": 2}))
	assert.Equal(t, WaitingForCheckpoint, s.Status)
	assert.Equal(t, 2, s.ActiveItem)

	s = Reduce(s, event(client.EventCaptchaResolved, "", nil))
	assert.Equal(t, Running, s.Status)
	assert.Empty(t, s.CheckpointMessage)

	s = Reduce(s, event(client.EventWaitingUser, "Log in please", nil))
	assert.Equal(t, WaitingForCheckpoint, s.Status)
	assert.Equal(t, "Log in please", s.CheckpointMessage)
}

func TestReduceItemStartedIgnoresZeroIndex(t *testing.T) {
	s := running()
	s.ActiveItem = 1
	next := Reduce(s, event(client.EventItemStarted, "", map[string]int{"item_index": 0}))
	assert.Equal(t, 1, next.ActiveItem)
}

func TestReduceCompleted(t *testing.T) {
	s := withItem(running())
	s.CheckpointMessage = "stale"
	next := Reduce(s, event(client.EventCompleted, "done", map[string]interface{}{"stats": stats(1, 1, 10, 10)}))
	assert.Equal(t, Complete, next.Status)
	assert.Equal(t, Stats{ItemsTotal: 1, ItemsProcessed: 1, SubItemsTotal: 10, SubItemsExtracted: 10}, next.Stats)
	assert.Empty(t, next.CheckpointMessage)
	require.NotNil(t, next.FinishedAt)
	assert.True(t, t0.Equal(*next.FinishedAt))
}

func TestReduceError(t *testing.T) {
	tests := []struct {
		name       string
		msg        string
		wantStatus Status
		wantMsg    string
	}{
		{name: "failure", msg: "Browser crashed", wantStatus: Error, wantMsg: "Browser crashed"},
		{name: "empty message", msg: "", wantStatus: Error, wantMsg: defaultErrorMessage},
		{name: "cancel ack", msg: "Scraping cancelled by user", wantStatus: Idle},
		{name: "cancel ack any case", msg: "CANCELADO por el usuario", wantStatus: Idle},
		{name: "context canceled is a failure", msg: "Navigation failed: context canceled by timeout", wantStatus: Error, wantMsg: "Navigation failed: context canceled by timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := running()
			s.CheckpointMessage = "x"
			next := Reduce(s, event(client.EventError, tt.msg, nil))
			assert.Equal(t, tt.wantStatus, next.Status)
			assert.Equal(t, tt.wantMsg, next.ErrorMessage)
			assert.Empty(t, next.CheckpointMessage)
		})
	}
}

func TestReduceProgressBeforeStartedIsLoggedOnly(t *testing.T) {
	s := Session{Status: Starting}
	for _, ev := range []client.Event{
		event(client.EventBrowserOpening, "", map[string]interface{}{"items_info": []map[string]interface{}{{"id": 1}}}),
		event(client.EventCaptchaDetected, "early", nil),
		event(client.EventVideoCompleted, "", map[string]interface{}{"stats": stats(1, 1, 1, 1)}),
	} {
		s = Reduce(s, ev)
	}
	assert.Equal(t, Starting, s.Status)
	assert.Empty(t, s.Items)
	assert.Equal(t, Stats{}, s.Stats)
	assert.Len(t, s.Log, 3)
}

func TestReduceTerminalEventsFromStarting(t *testing.T) {
	s := Reduce(Session{Status: Starting}, event(client.EventError, "bad resource", nil))
	assert.Equal(t, Error, s.Status)

	s = Reduce(Session{Status: Starting}, event(client.EventCompleted, "", nil))
	assert.Equal(t, Complete, s.Status)
}

func TestReduceInactiveIsNoop(t *testing.T) {
	for _, st := range []Status{Idle, Complete, Error} {
		s := Session{Status: st, ErrorMessage: "keep"}
		next := Reduce(s, event(client.EventStarted, "", nil))
		assert.Equal(t, s, next, st.String())
	}
}

func TestReduceUnknownTypeLogged(t *testing.T) {
	s := Reduce(running(), event(client.EventType("screenshot_taken"), "", nil))
	assert.Equal(t, Running, s.Status)
	require.Len(t, s.Log, 1)
	assert.Equal(t, client.EventType("screenshot_taken"), s.Log[0].Type)
}

func TestReduceLogDoesNotShareBacking(t *testing.T) {
	base := running()
	base.Log = make([]client.Event, 1, 8)
	a := Reduce(base, event(client.EventBrowserReady, "a", nil))
	b := Reduce(base, event(client.EventBrowserReady, "b", nil))
	assert.Equal(t, "a", a.Log[1].Message)
	assert.Equal(t, "b", b.Log[1].Message)
}

func TestConnectionLost(t *testing.T) {
	now := t0.Add(time.Minute)
	s := running()
	s.CheckpointMessage = "x"
	next := ConnectionLost(s, now)
	assert.Equal(t, Error, next.Status)
	assert.Equal(t, ConnectionLostMessage, next.ErrorMessage)
	assert.Empty(t, next.CheckpointMessage)

	done := Session{Status: Complete}
	assert.Equal(t, done, ConnectionLost(done, now))
}

func TestIsCancellation(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"Scraping cancelled by user", true},
		{"Job canceled by user", true},
		{"Scraping cancelado por el usuario", true},
		{"Browser crashed", false},
		{"Navigation failed: context canceled by timeout", false},
		{"Cancel requested", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsCancellation(tt.msg), tt.msg)
	}
}
