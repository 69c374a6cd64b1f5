package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr bool
		want    EventType
	}{
		{name: "started", frame: `{"type":"started","message":"go","data":{},"timestamp":"2024-05-01T10:00:00.123456"}`, want: EventStarted},
		{name: "unknown type kept", frame: `{"type":"heartbeat_v2"}`, want: EventType("heartbeat_v2")},
		{name: "leading whitespace", frame: "  \t{\"type\":\"completed\"}\n", want: EventCompleted},
		{name: "empty object", frame: `{}`, wantErr: true},
		{name: "empty type", frame: `{"type":""}`, wantErr: true},
		{name: "not json", frame: `ping`, wantErr: true},
		{name: "array", frame: `[1,2]`, wantErr: true},
		{name: "truncated", frame: `{"type":"started"`, wantErr: true},
		{name: "blank", frame: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.frame))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Type)
		})
	}
}

func TestDecodeEventTimestamps(t *testing.T) {
	tests := []struct {
		name string
		ts   string
		want time.Time
	}{
		{name: "naive microseconds", ts: "2024-05-01T10:00:00.123456", want: time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)},
		{name: "rfc3339 with zone", ts: "2024-05-01T10:00:00Z", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{name: "space separator", ts: "2024-05-01 10:00:00", want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{name: "garbage", ts: "yesterday", want: time.Time{}},
		{name: "missing", ts: "", want: time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, _ := json.Marshal(map[string]string{"type": "started", "timestamp": tt.ts})
			ev, err := DecodeEvent(frame)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(ev.Timestamp), "Timestamp = %v, want %v", ev.Timestamp, tt.want)
		})
	}
}

func TestDecodeEventNullData(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"browser_ready","data":null}`))
	require.NoError(t, err)
	assert.Nil(t, ev.Data)

	var p BrowserOpeningPayload
	assert.NoError(t, ev.DecodeData(&p))
	assert.Empty(t, p.ItemsInfo)
}

func TestItemIDAcceptsNumbersAndStrings(t *testing.T) {
	var p BrowserOpeningPayload
	err := json.Unmarshal([]byte(`{"items_info":[
		{"id":101,"description":"a","expected_count":3},
		{"id":"abc","description":"b","expected_count":0},
		{"id":"101","description":"dup"}
	]}`), &p)
	require.NoError(t, err)
	require.Len(t, p.ItemsInfo, 3)
	assert.Equal(t, ItemID("101"), p.ItemsInfo[0].ID)
	assert.Equal(t, ItemID("abc"), p.ItemsInfo[1].ID)
	assert.Equal(t, p.ItemsInfo[0].ID, p.ItemsInfo[2].ID)
	assert.Equal(t, 3, p.ItemsInfo[0].ExpectedCount)
}

func TestItemIDMarshal(t *testing.T) {
	tests := []struct {
		id   ItemID
		want string
	}{
		{"101", `101`},
		{"-4", `-4`},
		{"007", `"007"`},
		{"abc", `"abc"`},
		{"", `""`},
	}
	for _, tt := range tests {
		got, err := json.Marshal(tt.id)
		require.NoError(t, err)
		if string(got) != tt.want {
			t.Errorf("Marshal(%q) = %s, want %s", tt.id, got, tt.want)
		}
	}
}

func TestStatsPayloadAliases(t *testing.T) {
	var p ItemCompletedPayload
	err := json.Unmarshal([]byte(`{"item_id":7,"extracted_delta":4,"stats":{
		"total_videos":3,"processed_videos":1,"total_comments":25,"extracted_comments":9.0,"unknown":5
	}}`), &p)
	require.NoError(t, err)
	require.NotNil(t, p.Stats)
	require.NotNil(t, p.ItemID)
	assert.Equal(t, ItemID("7"), *p.ItemID)
	require.NotNil(t, p.ExtractedDelta)
	assert.Equal(t, 4, *p.ExtractedDelta)

	require.NotNil(t, p.Stats.ItemsTotal)
	assert.Equal(t, 3, *p.Stats.ItemsTotal)
	assert.Equal(t, 1, *p.Stats.ItemsProcessed)
	assert.Equal(t, 25, *p.Stats.SubItemsTotal)
	assert.Equal(t, 9, *p.Stats.SubItemsExtracted)
	assert.Nil(t, p.Stats.Errors)
}

func TestItemCompletedPayloadOmittedFields(t *testing.T) {
	var p ItemCompletedPayload
	require.NoError(t, json.Unmarshal([]byte(`{"stats":{"items_processed":2}}`), &p))
	assert.Nil(t, p.ItemID)
	assert.Nil(t, p.ExtractedDelta)
	require.NotNil(t, p.Stats)
	assert.Nil(t, p.Stats.ItemsTotal)
	assert.Equal(t, 2, *p.Stats.ItemsProcessed)
}

func TestItemCompletedPayloadFloatsAndBadFields(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantID    string
		wantDelta int
		wantStats bool
	}{
		{"float delta", `{"item_id":1,"extracted_delta":4.0,"stats":{"sub_items_extracted":4}}`, "1", 4, true},
		{"float id", `{"item_id":1.0,"extracted_delta":4}`, "1", 4, false},
		{"bad delta keeps id and stats", `{"item_id":"a","extracted_delta":"four","stats":{"errors":1}}`, "a", -1, true},
		{"bad id keeps delta", `{"item_id":{"x":1},"extracted_delta":2}`, "", 2, false},
		{"bad stats keeps id", `{"item_id":3,"stats":[1,2]}`, "3", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p ItemCompletedPayload
			require.NoError(t, json.Unmarshal([]byte(tt.body), &p))
			if tt.wantID == "" {
				assert.Nil(t, p.ItemID)
			} else {
				require.NotNil(t, p.ItemID)
				assert.Equal(t, ItemID(tt.wantID), *p.ItemID)
			}
			if tt.wantDelta < 0 {
				assert.Nil(t, p.ExtractedDelta)
			} else {
				require.NotNil(t, p.ExtractedDelta)
				assert.Equal(t, tt.wantDelta, *p.ExtractedDelta)
			}
			assert.Equal(t, tt.wantStats, p.Stats != nil)
		})
	}
}

func TestItemIDCanonicalNumbers(t *testing.T) {
	tests := []struct {
		raw  string
		want ItemID
	}{
		{`1`, "1"},
		{`1.0`, "1"},
		{`1e2`, "100"},
		{`-3.00`, "-3"},
		{`1.5`, "1.5"},
		{`"1.0"`, "1.0"},
	}
	for _, tt := range tests {
		var id ItemID
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &id))
		if id != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.raw, id, tt.want)
		}
	}
}

func TestStartResponseSessionID(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"session_id":"a1b2"}`, "a1b2"},
		{`{"session_id":42}`, "42"},
		{`{}`, ""},
	}
	for _, tt := range tests {
		var r StartResponse
		require.NoError(t, json.Unmarshal([]byte(tt.body), &r))
		assert.Equal(t, tt.want, r.SessionID, tt.body)
	}
}
