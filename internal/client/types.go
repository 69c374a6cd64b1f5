// Package client provides the stream and HTTP clients for the scraping job API.
// Types mirror the server wire protocol without importing server packages.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// EventType identifies the kind of stream event. The set is open: unknown
// types are still delivered and logged by the controller.
type EventType string

const (
	EventStarted         EventType = "started"
	EventBrowserOpening  EventType = "browser_opening"
	EventBrowserReady    EventType = "browser_ready"
	EventCaptchaDetected EventType = "captcha_detected"
	EventWaitingUser     EventType = "waiting_user"
	EventCaptchaResolved EventType = "captcha_resolved"
	EventVideoStarted    EventType = "video_started"
	EventItemStarted     EventType = "item_started"
	EventVideoCompleted  EventType = "video_completed"
	EventItemCompleted   EventType = "item_completed"
	EventCompleted       EventType = "completed"
	EventError           EventType = "error"
)

// Event is one frame delivered over the session stream.
type Event struct {
	Type      EventType       `json:"type" yaml:"type"`
	Message   string          `json:"message,omitempty" yaml:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty" yaml:"-"`
	Timestamp time.Time       `json:"timestamp" yaml:"timestamp"`
}

// wireEvent is the frame as sent by the server. The timestamp is kept as a
// string because the server emits ISO 8601 without a zone offset.
type wireEvent struct {
	Type      EventType       `json:"type"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// DecodeEvent parses a raw frame. It returns an error for anything that is
// not a JSON object with a non-empty type; callers treat that as a heartbeat.
func DecodeEvent(frame []byte) (Event, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || frame[0] != '{' {
		return Event{}, fmt.Errorf("not a json object")
	}
	var w wireEvent
	if err := json.Unmarshal(frame, &w); err != nil {
		return Event{}, fmt.Errorf("decoding frame: %w", err)
	}
	if w.Type == "" {
		return Event{}, fmt.Errorf("frame has no type")
	}
	ev := Event{Type: w.Type, Message: w.Message, Timestamp: parseTimestamp(w.Timestamp)}
	if len(w.Data) > 0 && !bytes.Equal(w.Data, []byte("null")) {
		ev.Data = w.Data
	}
	return ev, nil
}

// parseTimestamp returns the zero time if the value cannot be parsed; a bad
// timestamp does not make an otherwise valid frame malformed.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ItemID is an external item identifier. The server sends numbers for some
// resources and strings for others, so both decode to the same canonical form.
type ItemID string

func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ItemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("item id: %w", err)
	}
	// 1 and 1.0 name the same item.
	if f, err := n.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		*id = ItemID(strconv.FormatInt(int64(f), 10))
		return nil
	}
	*id = ItemID(n.String())
	return nil
}

// MarshalJSON emits numeric ids as numbers so recorded logs round-trip.
func (id ItemID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// --- Event payloads ---

// ItemInfo describes one discovered item in a browser_opening payload.
type ItemInfo struct {
	ID            ItemID `json:"id"`
	Description   string `json:"description"`
	ExpectedCount int    `json:"expected_count"`
}

// BrowserOpeningPayload lists the items discovered for the session.
type BrowserOpeningPayload struct {
	ItemsInfo []ItemInfo `json:"items_info"`
}

// ItemStartedPayload marks the item currently being processed.
type ItemStartedPayload struct {
	ItemIndex int `json:"item_index"` // 1-based
}

// ItemCompletedPayload reports extraction progress for one item. Pointer
// fields are nil when the server omitted them or sent a value that does not
// decode; a bad field never hides the others.
type ItemCompletedPayload struct {
	Stats          *StatsPayload `json:"stats,omitempty"`
	ItemID         *ItemID       `json:"item_id,omitempty"`
	ExtractedDelta *int          `json:"extracted_delta,omitempty"`
}

func (p *ItemCompletedPayload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["stats"]; ok {
		var stats StatsPayload
		if json.Unmarshal(v, &stats) == nil {
			p.Stats = &stats
		}
	}
	if v, ok := raw["item_id"]; ok {
		var id ItemID
		if json.Unmarshal(v, &id) == nil && id != "" {
			p.ItemID = &id
		}
	}
	if v, ok := raw["extracted_delta"]; ok {
		if n, ok := decodeCount(v); ok {
			p.ExtractedDelta = &n
		}
	}
	return nil
}

// CompletedPayload carries the final aggregate snapshot.
type CompletedPayload struct {
	Stats *StatsPayload `json:"stats,omitempty"`
}

// StatsPayload is an aggregate counter snapshot as sent by the server.
// Absent counters stay nil so they never overwrite known values.
type StatsPayload struct {
	ItemsTotal        *int `json:"items_total,omitempty"`
	ItemsProcessed    *int `json:"items_processed,omitempty"`
	SubItemsTotal     *int `json:"sub_items_total,omitempty"`
	SubItemsExtracted *int `json:"sub_items_extracted,omitempty"`
	Errors            *int `json:"errors,omitempty"`
}

// legacyStatsAliases maps the video/comment counter names used by older
// servers onto the generic ones.
var legacyStatsAliases = map[string]string{
	"total_videos":       "items_total",
	"processed_videos":   "items_processed",
	"total_comments":     "sub_items_total",
	"extracted_comments": "sub_items_extracted",
	"error_count":        "errors",
}

func (p *StatsPayload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fields := map[string]**int{
		"items_total":         &p.ItemsTotal,
		"items_processed":     &p.ItemsProcessed,
		"sub_items_total":     &p.SubItemsTotal,
		"sub_items_extracted": &p.SubItemsExtracted,
		"errors":              &p.Errors,
	}
	for key, value := range raw {
		name := strings.ToLower(key)
		if alias, ok := legacyStatsAliases[name]; ok {
			name = alias
		}
		dst, ok := fields[name]
		if !ok {
			continue
		}
		if n, ok := decodeCount(value); ok {
			*dst = &n
		}
	}
	return nil
}

// decodeCount reads a JSON number as an int, truncating fractional values.
// Floats show up when the server computes counters in Python.
func decodeCount(value json.RawMessage) (int, bool) {
	var n json.Number
	if err := json.Unmarshal(value, &n); err != nil {
		return 0, false
	}
	v, ok := numberToInt(n)
	return int(v), ok
}

func numberToInt(n json.Number) (int64, bool) {
	if v, err := n.Int64(); err == nil {
		return v, true
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return int64(f), true
}


// DecodeData unmarshals the event payload into out. An event without data
// leaves out untouched and returns nil.
func (e Event) DecodeData(out interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, out)
}

// --- HTTP response types ---

// StartResponse is returned by POST /scraping/start/{resourceId}.
type StartResponse struct {
	SessionID string `json:"session_id"`
}

func (r *StartResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		SessionID ItemID `json:"session_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.SessionID = string(raw.SessionID)
	return nil
}
