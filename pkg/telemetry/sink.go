package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/mdao/pkg/stores"
)

// StoreSink returns a subscriber that appends events to the store's event
// log. Events without a run are stored with a null run.
func StoreSink(store stores.Store, timeout time.Duration) EventSubscriber {
	return func(event Event) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		rec := &stores.Event{
			Level:     stores.EventLevel(event.Level),
			Message:   event.Message,
			Timestamp: event.Timestamp,
		}
		if event.RunID != "" {
			runID := event.RunID
			rec.RunID = &runID
		}

		details := map[string]interface{}{
			"id":   event.ID,
			"type": event.Type,
		}
		if event.CaseID != "" {
			details["case_id"] = event.CaseID
		}
		if event.Component != "" {
			details["component"] = event.Component
		}
		for k, v := range event.Data {
			details[k] = v
		}
		if data, err := json.Marshal(details); err == nil {
			d := string(data)
			rec.Details = &d
		}

		if err := store.AppendEvent(ctx, rec); err != nil {
			log.Warn().Err(err).Str("event_type", event.Type).Msg("Failed to store event")
		}
	}
}
