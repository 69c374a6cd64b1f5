package mock

import (
	"encoding/json"
	"fmt"

	"github.com/Darkweaver2535/scrapewatch/internal/client"
)

type Scenario string

const (
	// ScenarioCheckpoint pauses for a CAPTCHA before extracting.
	ScenarioCheckpoint Scenario = "checkpoint"
	// ScenarioHappy runs straight through to completed.
	ScenarioHappy Scenario = "happy"
	// ScenarioFailure fails halfway through the second item.
	ScenarioFailure Scenario = "failure"
)

// ParseScenario defaults unknown names to ScenarioCheckpoint.
func ParseScenario(s string) Scenario {
	switch Scenario(s) {
	case ScenarioHappy, ScenarioFailure:
		return Scenario(s)
	default:
		return ScenarioCheckpoint
	}
}

type mockItem struct {
	id       int
	desc     string
	expected int
	batches  []int // extracted per completion event
}

// step is one scripted action: emit an event, or block on the checkpoint.
type step struct {
	event      client.Event
	checkpoint bool
	// malformed frames are written raw to exercise client-side dropping.
	malformed string
}

var defaultItems = []mockItem{
	{id: 101, desc: "Inauguración del nuevo campus", expected: 12, batches: []int{5, 4, 3}},
	{id: 102, desc: "Convocatoria de admisión 2025", expected: 8, batches: []int{6, 2}},
	{id: 103, desc: "Entrevista al rector", expected: 5, batches: []int{5}},
}

type counters struct {
	itemsTotal, itemsProcessed, subTotal, subExtracted, errors int
}

func (c counters) payload() map[string]int {
	return map[string]int{
		"items_total":         c.itemsTotal,
		"items_processed":     c.itemsProcessed,
		"sub_items_total":     c.subTotal,
		"sub_items_extracted": c.subExtracted,
		"errors":              c.errors,
	}
}

func buildScript(scenario Scenario, resourceID string) []step {
	var steps []step
	ev := func(t client.EventType, msg string, data interface{}) {
		e := client.Event{Type: t, Message: msg}
		if data != nil {
			raw, _ := json.Marshal(data)
			e.Data = raw
		}
		steps = append(steps, step{event: e})
	}

	var c counters
	c.itemsTotal = len(defaultItems)
	infos := make([]map[string]interface{}, 0, len(defaultItems))
	for _, it := range defaultItems {
		c.subTotal += it.expected
		infos = append(infos, map[string]interface{}{
			"id":             it.id,
			"description":    it.desc,
			"expected_count": it.expected,
		})
	}

	ev(client.EventStarted, fmt.Sprintf("Scraping started for resource %s", resourceID), nil)
	steps = append(steps, step{malformed: "{}"})
	ev(client.EventBrowserOpening, "Opening browser", map[string]interface{}{"items_info": infos})
	ev(client.EventBrowserReady, "Browser ready", nil)

	if scenario == ScenarioCheckpoint {
		ev(client.EventCaptchaDetected, "Solve the captcha in the browser window, then press continue", nil)
		steps = append(steps, step{checkpoint: true})
		ev(client.EventCaptchaResolved, "Captcha resolved, resuming", nil)
	}

	for i, it := range defaultItems {
		ev(client.EventVideoStarted, fmt.Sprintf("Processing %s", it.desc), map[string]interface{}{"item_index": i + 1})
		for j, n := range it.batches {
			if scenario == ScenarioFailure && i == 1 && j == 1 {
				c.errors++
				ev(client.EventError, "Browser crashed while loading comments", nil)
				return steps
			}
			c.subExtracted += n
			if j == len(it.batches)-1 {
				c.itemsProcessed++
			}
			ev(client.EventVideoCompleted, fmt.Sprintf("Extracted %d comments", n), map[string]interface{}{
				"item_id":         it.id,
				"extracted_delta": n,
				"stats":           c.payload(),
			})
		}
	}
	ev(client.EventCompleted, "Scraping completed", map[string]interface{}{"stats": c.payload()})
	return steps
}
