// Package backend implements the client side of the agent contract:
// the websocket transport, the call client with typed fallbacks, and
// the batching scheduler.
package backend

import (
	"encoding/json"
	"strings"
	"time"
)

// Category classifies a channel by its domain prefix. The category
// decides which typed fallback a caller receives when the backend
// cannot answer.
type Category int

const (
	// CategoryUnknown channels fall back to JSON null.
	CategoryUnknown Category = iota

	// CategoryCollection channels list entities and fall back to an
	// empty array.
	CategoryCollection

	// CategoryStatus channels report operation state and fall back to a
	// neutral status object.
	CategoryStatus
)

// String returns the category name for logging.
func (c Category) String() string {
	switch c {
	case CategoryCollection:
		return "collection"
	case CategoryStatus:
		return "status"
	default:
		return "unknown"
	}
}

// categoryByPrefix is the closed prefix mapping. Channels are named
// "domain:operation"; anything not listed here is CategoryUnknown.
var categoryByPrefix = map[string]Category{
	"machine:":  CategoryCollection,
	"policy:":   CategoryCollection,
	"ad:":       CategoryCollection,
	"evidence:": CategoryCollection,
	"rule:":     CategoryCollection,

	"scan:":   CategoryStatus,
	"deploy:": CategoryStatus,
	"system:": CategoryStatus,
}

// CategoryOf resolves a channel name to its category.
func CategoryOf(channel string) Category {
	i := strings.IndexByte(channel, ':')
	if i < 0 {
		return CategoryUnknown
	}
	if c, ok := categoryByPrefix[channel[:i+1]]; ok {
		return c
	}
	return CategoryUnknown
}

// Fallback payloads per category. JSON null is the explicit no-value
// marker for unknown channels.
var (
	fallbackCollection = json.RawMessage(`[]`)
	fallbackStatus     = json.RawMessage(`{"state":"unknown"}`)
	fallbackNull       = json.RawMessage(`null`)
)

// FallbackValue returns the typed default payload for a category.
func FallbackValue(c Category) json.RawMessage {
	switch c {
	case CategoryCollection:
		return fallbackCollection
	case CategoryStatus:
		return fallbackStatus
	default:
		return fallbackNull
	}
}

// Default per-call deadlines. Long-running channels get the long one.
const (
	DefaultShortDeadline = 2 * time.Minute
	DefaultLongDeadline  = 10 * time.Minute
)

// longRunning is the fixed allow-list of channels known to take minutes
// rather than seconds.
var longRunning = map[string]bool{
	"scan:start":        true,
	"scan:full":         true,
	"policy:deploy":     true,
	"evidence:generate": true,
	"evidence:collect":  true,
}

// IsLongRunning reports whether a channel is on the long-deadline list.
func IsLongRunning(channel string) bool {
	return longRunning[channel]
}

// Channel names used by more than one package. Repositories key their
// cache entries by the fetch channel, so a mutation can invalidate the
// memoized collection with the same constant it submitted on.
const (
	ChannelGetMachines = "machine:getAll"
	ChannelGetRules    = "policy:getRules"
	ChannelGetUsers    = "ad:getUsers"
	ChannelGetEvidence = "evidence:getAll"
	ChannelCreateRule  = "policy:createRule"
)
