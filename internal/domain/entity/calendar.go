package entity

import (
	"fmt"
	"time"
)

// EventKind is the closed set of calendar event kinds.
type EventKind string

// Event kinds.
const (
	KindCouncilElection    EventKind = "councilElection"
	KindCouncilMotion      EventKind = "councilMotion"
	KindDemocracyDispatch  EventKind = "democracyDispatch"
	KindDemocracyLaunch    EventKind = "democracyLaunch"
	KindParachainAuction   EventKind = "parachainAuction"
	KindParachainLease     EventKind = "parachainLease"
	KindReferendumDispatch EventKind = "referendumDispatch"
	KindReferendumVote     EventKind = "referendumVote"
	KindScheduler          EventKind = "scheduler"
	KindStakingEpoch       EventKind = "stakingEpoch"
	KindStakingEra         EventKind = "stakingEra"
	KindStakingSlash       EventKind = "stakingSlash"
	KindTreasurySpend      EventKind = "treasurySpend"
	KindSocietyChallenge   EventKind = "societyChallenge"
	KindSocietyRotate      EventKind = "societyRotate"
)

// Category groups event kinds for visibility filtering.
type Category struct {
	Name  string
	Label string
	Kinds []EventKind
}

// Categories lists every category in display order.
var Categories = []Category{
	{Name: "staking", Label: "Staking", Kinds: []EventKind{KindStakingEra, KindStakingEpoch, KindStakingSlash}},
	{Name: "schedule", Label: "Schedule", Kinds: []EventKind{KindScheduler}},
	{Name: "democracy", Label: "Democracy", Kinds: []EventKind{KindDemocracyDispatch, KindReferendumDispatch, KindReferendumVote, KindDemocracyLaunch}},
	{Name: "parachains", Label: "Parachains", Kinds: []EventKind{KindParachainAuction, KindParachainLease}},
	{Name: "council", Label: "Council", Kinds: []EventKind{KindCouncilMotion, KindCouncilElection}},
	{Name: "treasury", Label: "Treasury", Kinds: []EventKind{KindTreasurySpend}},
	{Name: "society", Label: "Society", Kinds: []EventKind{KindSocietyRotate, KindSocietyChallenge}},
}

// Anchor pins an event to a block and its estimated wall-clock time.
type Anchor struct {
	Block uint64    `json:"block"`
	Time  time.Time `json:"time"`
}

// CalendarItem is one event derived from chain state at a given block.
type CalendarItem struct {
	Network  string         `json:"network"`
	Kind     EventKind      `json:"kind"`
	Start    *Anchor        `json:"start,omitempty"`
	End      *Anchor        `json:"end,omitempty"`
	Duration uint64         `json:"duration,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Anchor returns the end anchor when present, else the start anchor.
func (c CalendarItem) Anchor() (Anchor, bool) {
	if c.End != nil {
		return *c.End, true
	}
	if c.Start != nil {
		return *c.Start, true
	}
	return Anchor{}, false
}

// EventItem is the indexed, display-ready form of a CalendarItem.
type EventItem struct {
	Network     string         `json:"network"`
	Kind        EventKind      `json:"kind"`
	Time        time.Time      `json:"time"`
	Block       uint64         `json:"block"`
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// NewEventItem resolves the anchor of a CalendarItem. Items without an anchor are rejected.
func NewEventItem(c CalendarItem) (EventItem, bool) {
	a, ok := c.Anchor()
	if !ok {
		return EventItem{}, false
	}
	return EventItem{
		Network:     c.Network,
		Kind:        c.Kind,
		Time:        a.Time,
		Block:       a.Block,
		Description: Describe(c.Kind, c.Payload),
		Payload:     c.Payload,
	}, true
}

// Describe renders the human readable description of an event kind.
func Describe(kind EventKind, data map[string]any) string {
	switch kind {
	case KindCouncilElection:
		return fmt.Sprintf("Election of new council candidates (period %v)", data["electionRound"])
	case KindCouncilMotion:
		return fmt.Sprintf("Voting ends on council motion %s", shortHash(fmt.Sprint(data["hash"])))
	case KindDemocracyDispatch:
		return fmt.Sprintf("Enactment of the result of referendum %v", data["index"])
	case KindDemocracyLaunch:
		return fmt.Sprintf("Start of the next referendum voting period (%v)", data["launchPeriod"])
	case KindParachainAuction:
		first, _ := data["leasePeriod"].(uint64)
		perSlot, _ := data["leasePeriodPerSlot"].(uint64)
		return fmt.Sprintf("End of the current parachain auction %d - %d", first, first+perSlot-1)
	case KindParachainLease:
		return fmt.Sprintf("Start of the next parachain lease period %v", data["leasePeriod"])
	case KindReferendumDispatch:
		return fmt.Sprintf("Potential dispatch of referendum %v (if passed)", data["index"])
	case KindReferendumVote:
		return fmt.Sprintf("Voting ends for referendum %v", data["index"])
	case KindScheduler:
		if id, ok := data["id"].(string); ok && id != "" {
			return fmt.Sprintf("Execute named scheduled task %s", id)
		}
		return "Execute anonymous scheduled task"
	case KindStakingEpoch:
		return fmt.Sprintf("Start of a new staking session %v", data["index"])
	case KindStakingEra:
		return fmt.Sprintf("Start of a new staking era %v", data["index"])
	case KindStakingSlash:
		return fmt.Sprintf("Application of slashes from era %v", data["index"])
	case KindTreasurySpend:
		return fmt.Sprintf("Start of next spending period (%v)", data["spendingPeriod"])
	case KindSocietyChallenge:
		return fmt.Sprintf("Start of next membership challenge period (%v)", data["challengePeriod"])
	case KindSocietyRotate:
		return fmt.Sprintf("Acceptance of new members and bids (round %v)", data["rotateRound"])
	default:
		return "Unknown event"
	}
}

func shortHash(h string) string {
	if len(h) <= 10 {
		return h
	}
	return h[:6] + "…" + h[len(h)-4:]
}

// CategoryOf returns the name of the category containing kind.
func CategoryOf(kind EventKind) (string, bool) {
	for _, c := range Categories {
		for _, k := range c.Kinds {
			if k == kind {
				return c.Name, true
			}
		}
	}
	return "", false
}

// IsCategory reports whether name is a known category.
func IsCategory(name string) bool {
	for _, c := range Categories {
		if c.Name == name {
			return true
		}
	}
	return false
}
