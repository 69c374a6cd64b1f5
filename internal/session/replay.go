package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Darkweaver2535/scrapewatch/internal/client"
)

// Replay rebuilds the state a controller would reach for a session whose
// create call succeeded and whose stream then delivered events in order.
func Replay(sessionID string, events []client.Event) Session {
	s := Session{
		Status:    Starting,
		SessionID: sessionID,
		Items:     []ItemProgress{},
		Log:       []client.Event{},
	}
	if len(events) > 0 {
		s.StartedAt = events[0].Timestamp
	}
	for _, ev := range events {
		s = Reduce(s, ev)
	}
	return s
}

// WriteLog records events as NDJSON, one frame per line, in the same shape
// the stream delivers them.
func WriteLog(w io.Writer, events []client.Event) error {
	enc := json.NewEncoder(w)
	for i, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("writing event %d: %w", i, err)
		}
	}
	return nil
}

// ReadLog reads an NDJSON event log. Lines that do not decode as events are
// skipped, exactly as the stream client skips them.
func ReadLog(r io.Reader) ([]client.Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var events []client.Event
	for scanner.Scan() {
		ev, err := client.DecodeEvent(scanner.Bytes())
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	return events, nil
}
