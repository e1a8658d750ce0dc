package notifier

import (
	"time"

	kit "craftybot/internal/transport"
)

// Config controls fan-out and pacing.
type Config struct {
	Workers        int
	RatePerSec     float64 // <=0 disables pacing
	Burst          int
	SendTimeout    time.Duration
	PersistTimeout time.Duration
	SendOptions    kit.SendOptions
}

// Action is what happened to one recipient during a delivery.
type Action string

const (
	ActionSent      Action = "sent"      // first message sent
	ActionEdited    Action = "edited"    // live message edited in place
	ActionResent    Action = "resent"    // edit target invalid, new message sent
	ActionFailed    Action = "failed"    // state left unchanged
	ActionCancelled Action = "cancelled" // context ended before the recipient was served
)

// Outcome is the per-recipient result of Deliver or Announce.
type Outcome struct {
	ChatID        int64
	Action        Action
	PrevMessageID int
	MessageID     int
	// Persisted is false when the store write failed or the recipient
	// unsubscribed while the delivery was in flight.
	Persisted bool
	Err       error
}

// Summary aggregates outcomes.
type Summary struct {
	Recipients int `json:"recipients"`
	Sent       int `json:"sent"`
	Edited     int `json:"edited"`
	Resent     int `json:"resent"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

func Summarize(outcomes []Outcome) Summary {
	s := Summary{Recipients: len(outcomes)}
	for _, o := range outcomes {
		switch o.Action {
		case ActionSent:
			s.Sent++
		case ActionEdited:
			s.Edited++
		case ActionResent:
			s.Resent++
		case ActionFailed:
			s.Failed++
		case ActionCancelled:
			s.Cancelled++
		}
	}
	return s
}
