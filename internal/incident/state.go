// Package incident merges classified readings into at most one open fire
// incident per node.
package incident

import (
	"strings"

	"github.com/firewatch/flames/internal/database"
)

const (
	labelFire  = "fire"
	labelFalse = "false"
)

// Action is what a reading does to a node's incident
type Action int

const (
	ActionNone Action = iota
	ActionCreate
	ActionUpdate
	ActionResolve
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionResolve:
		return "resolve"
	default:
		return "none"
	}
}

// Policy tunes when a new incident is opened. The zero value opens on any
// fire label regardless of confidence.
type Policy struct {
	// MinConfidence gates creation only; continuation and resolution stay
	// label driven.
	MinConfidence float64
}

// Evidence is one classified reading for a node
type Evidence struct {
	NodeID      string
	GatewayID   string
	Label       string
	Confidence  float64
	Temperature *float64
	Humidity    *float64
	Flame       int
	Smoke       int
	Latitude    *float64
	Longitude   *float64
}

// Decide returns the transition for evidence given the node's current
// active incident, which is nil when there is none.
//
//	none   + fire          -> create
//	active + fire|false    -> update
//	active + anything else -> resolve
//	none   + anything else -> none
func Decide(current *database.Incident, ev Evidence, policy Policy) Action {
	label := strings.ToLower(strings.TrimSpace(ev.Label))

	if current.IsActive() {
		if label == labelFire || label == labelFalse {
			return ActionUpdate
		}
		return ActionResolve
	}

	if label == labelFire && ev.Confidence >= policy.MinConfidence {
		return ActionCreate
	}
	return ActionNone
}
