package session

import (
	"encoding/json"
	"time"

	"github.com/Darkweaver2535/scrapewatch/internal/client"
)

type Status int

const (
	Idle Status = iota
	Starting
	Running
	WaitingForCheckpoint
	Complete
	Error
)

var statusNames = map[Status]string{
	Idle:                 "idle",
	Starting:             "starting",
	Running:              "running",
	WaitingForCheckpoint: "waiting_for_checkpoint",
	Complete:             "complete",
	Error:                "error",
}

var statusFromName = map[string]Status{
	"idle":                   Idle,
	"starting":               Starting,
	"running":                Running,
	"waiting_for_checkpoint": WaitingForCheckpoint,
	"complete":               Complete,
	"error":                  Error,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := statusFromName[n]; ok {
		*s = v
	}
	return nil
}

func (s Status) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// IsTerminal reports whether the session instance is over. Idle is not
// terminal: it is both the initial state and the cancel outcome.
func (s Status) IsTerminal() bool {
	return s == Complete || s == Error
}

// IsActive reports whether a stream is expected to be open.
func (s Status) IsActive() bool {
	return s == Starting || s == Running || s == WaitingForCheckpoint
}

// Stats are the aggregate counters of a session. Every field only grows
// between two Start calls.
type Stats struct {
	ItemsTotal        int `json:"itemsTotal" yaml:"items_total"`
	ItemsProcessed    int `json:"itemsProcessed" yaml:"items_processed"`
	SubItemsTotal     int `json:"subItemsTotal" yaml:"sub_items_total"`
	SubItemsExtracted int `json:"subItemsExtracted" yaml:"sub_items_extracted"`
	Errors            int `json:"errors" yaml:"errors"`
}

// Merge folds a server snapshot into s. Counters the server omitted keep
// their value, and no counter moves backwards.
func (s Stats) Merge(p *client.StatsPayload) Stats {
	if p == nil {
		return s
	}
	s.ItemsTotal = mergeCounter(s.ItemsTotal, p.ItemsTotal)
	s.ItemsProcessed = mergeCounter(s.ItemsProcessed, p.ItemsProcessed)
	s.SubItemsTotal = mergeCounter(s.SubItemsTotal, p.SubItemsTotal)
	s.SubItemsExtracted = mergeCounter(s.SubItemsExtracted, p.SubItemsExtracted)
	s.Errors = mergeCounter(s.Errors, p.Errors)
	return s
}

func mergeCounter(cur int, next *int) int {
	if next == nil || *next < cur {
		return cur
	}
	return *next
}

// ItemProgress is one discovered unit of work (a video, a page).
type ItemProgress struct {
	ID                client.ItemID `json:"id" yaml:"id"`
	Description       string        `json:"description" yaml:"description"`
	SubItemsExpected  int           `json:"subItemsExpected" yaml:"sub_items_expected"`
	SubItemsExtracted int           `json:"subItemsExtracted" yaml:"sub_items_extracted"`
}

// Session is the aggregate root owned by the Controller. Values handed to
// observers are deep copies.
type Session struct {
	Status            Status         `json:"status" yaml:"status"`
	SessionID         string         `json:"sessionId,omitempty" yaml:"session_id,omitempty"`
	ResourceID        string         `json:"resourceId,omitempty" yaml:"resource_id,omitempty"`
	Stats             Stats          `json:"stats" yaml:"stats"`
	Items             []ItemProgress `json:"items" yaml:"items"`
	ActiveItem        int            `json:"activeItem,omitempty" yaml:"active_item,omitempty"` // 1-based, 0 = none
	Log               []client.Event `json:"log" yaml:"-"`
	CheckpointMessage string         `json:"checkpointMessage,omitempty" yaml:"checkpoint_message,omitempty"`
	ErrorMessage      string         `json:"errorMessage,omitempty" yaml:"error_message,omitempty"`
	StartedAt         time.Time      `json:"startedAt,omitempty" yaml:"started_at,omitempty"`
	UpdatedAt         time.Time      `json:"updatedAt,omitempty" yaml:"updated_at,omitempty"`
	FinishedAt        *time.Time     `json:"finishedAt,omitempty" yaml:"finished_at,omitempty"`
}

// Clone returns a deep copy of the Session, duplicating slice and pointer
// fields so the copy can be read while the original keeps changing.
func (s Session) Clone() Session {
	c := s
	if s.Items != nil {
		c.Items = make([]ItemProgress, len(s.Items))
		copy(c.Items, s.Items)
	}
	if s.Log != nil {
		c.Log = make([]client.Event, len(s.Log))
		for i, ev := range s.Log {
			if ev.Data != nil {
				ev.Data = append([]byte(nil), ev.Data...)
			}
			c.Log[i] = ev
		}
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// ItemIndex returns the position of id in Items, or -1.
func (s Session) ItemIndex(id client.ItemID) int {
	for i, it := range s.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// Progress returns extracted/total sub-items in [0,1], or 0 when unknown.
func (s Session) Progress() float64 {
	if s.Stats.SubItemsTotal <= 0 {
		return 0
	}
	p := float64(s.Stats.SubItemsExtracted) / float64(s.Stats.SubItemsTotal)
	if p > 1 {
		p = 1
	}
	return p
}
