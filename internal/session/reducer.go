package session

import (
	"strings"
	"time"

	"github.com/Darkweaver2535/scrapewatch/internal/client"
)

// ConnectionLostMessage is the error shown when the stream drops mid-session.
const ConnectionLostMessage = "connection lost"

// defaultErrorMessage is used when an error event carries no text.
const defaultErrorMessage = "scraping failed"

// cancellationMarkers identify an error event that acknowledges a user cancel
// ("Scraping cancelled by user", "Scraping cancelado por el usuario"). A bare
// "cancel" would also match failures such as "context canceled".
var cancellationMarkers = []string{
	"cancelled by user",
	"canceled by user",
	"cancelado",
}

// IsCancellation reports whether an error message acknowledges a user cancel.
func IsCancellation(message string) bool {
	m := strings.ToLower(message)
	for _, marker := range cancellationMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}

// Reduce applies one stream event to s and returns the next state. It is pure:
// s is not modified and the result shares no mutable memory that s can see.
//
// Events only apply while the session is active. Every applied event is
// appended to the log, including unknown types and events that cannot change
// anything in the current status.
func Reduce(s Session, ev client.Event) Session {
	if !s.Status.IsActive() {
		return s
	}

	next := s
	next.Log = append(s.Log[:len(s.Log):len(s.Log)], ev)
	if !ev.Timestamp.IsZero() {
		next.UpdatedAt = ev.Timestamp
	}

	switch ev.Type {
	case client.EventStarted:
		if s.Status == Starting {
			next.Status = Running
		}

	case client.EventBrowserOpening:
		if !s.Status.acceptsProgress() {
			break
		}
		var p client.BrowserOpeningPayload
		if ev.DecodeData(&p) != nil {
			break
		}
		next.Items = discoverItems(s.Items, p.ItemsInfo)

	case client.EventCaptchaDetected, client.EventWaitingUser:
		if !s.Status.acceptsProgress() {
			break
		}
		next.Status = WaitingForCheckpoint
		next.CheckpointMessage = ev.Message

	case client.EventCaptchaResolved:
		if !s.Status.acceptsProgress() {
			break
		}
		next.Status = Running
		next.CheckpointMessage = ""

	case client.EventVideoStarted, client.EventItemStarted:
		if !s.Status.acceptsProgress() {
			break
		}
		var p client.ItemStartedPayload
		if ev.DecodeData(&p) == nil && p.ItemIndex > 0 {
			next.ActiveItem = p.ItemIndex
		}

	case client.EventVideoCompleted, client.EventItemCompleted:
		if !s.Status.acceptsProgress() {
			break
		}
		var p client.ItemCompletedPayload
		if ev.DecodeData(&p) != nil {
			break
		}
		next.Stats = s.Stats.Merge(p.Stats)
		if p.ItemID != nil && p.ExtractedDelta != nil && *p.ExtractedDelta > 0 {
			if i := s.ItemIndex(*p.ItemID); i >= 0 {
				next.Items = append([]ItemProgress(nil), s.Items...)
				next.Items[i].SubItemsExtracted += *p.ExtractedDelta
			}
		}

	case client.EventCompleted:
		var p client.CompletedPayload
		if ev.DecodeData(&p) == nil {
			next.Stats = s.Stats.Merge(p.Stats)
		}
		next.Status = Complete
		next.CheckpointMessage = ""
		next.FinishedAt = finishedAt(ev.Timestamp)

	case client.EventError:
		next.CheckpointMessage = ""
		if IsCancellation(ev.Message) {
			next.Status = Idle
			next.ErrorMessage = ""
			break
		}
		next.Status = Error
		next.ErrorMessage = ev.Message
		if next.ErrorMessage == "" {
			next.ErrorMessage = defaultErrorMessage
		}
		next.FinishedAt = finishedAt(ev.Timestamp)
	}

	return next
}

// ConnectionLost is the transition for a stream that dropped while the
// session was still active. It is a no-op for inactive sessions, which covers
// the server closing the stream right after a terminal event.
func ConnectionLost(s Session, now time.Time) Session {
	if !s.Status.IsActive() {
		return s
	}
	s.Status = Error
	s.ErrorMessage = ConnectionLostMessage
	s.CheckpointMessage = ""
	s.UpdatedAt = now
	s.FinishedAt = finishedAt(now)
	return s
}

// acceptsProgress reports whether item, stats and checkpoint events apply.
// Before "started" they are logged but ignored.
func (s Status) acceptsProgress() bool {
	return s == Running || s == WaitingForCheckpoint
}

// discoverItems merges a discovery listing into the known items. New ids are
// appended in listing order; known ids get their description and expected
// count refreshed but keep their progress. Items are never removed.
func discoverItems(items []ItemProgress, infos []client.ItemInfo) []ItemProgress {
	out := make([]ItemProgress, len(items), len(items)+len(infos))
	copy(out, items)
	for _, info := range infos {
		if info.ID == "" {
			continue
		}
		found := false
		for i := range out {
			if out[i].ID == info.ID {
				out[i].Description = info.Description
				out[i].SubItemsExpected = info.ExpectedCount
				found = true
				break
			}
		}
		if !found {
			out = append(out, ItemProgress{
				ID:               info.ID,
				Description:      info.Description,
				SubItemsExpected: info.ExpectedCount,
			})
		}
	}
	return out
}

func finishedAt(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
