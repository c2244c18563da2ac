// Package ratelimit implements ACIP's pluggable sliding-window limiter
//: an in-memory backend for hot-path checks and a sqlite-backed
// backend for the discovery-service's persistent ledger.
package ratelimit

import "time"

// Kind identifies the rate-limited event class.
type Kind string

const (
	KindSessionCreate Kind = "session_create"
	KindSessionLookup Kind = "session_lookup"
	KindSessionJoin   Kind = "session_join"
	KindConnection    Kind = "connection"
	KindImageFrame    Kind = "image_frame"
	KindAudio         Kind = "audio"
	KindPing          Kind = "ping"
	KindClientJoin    Kind = "client_join"
	KindControl       Kind = "control"
)

// Limit describes a sliding window: at most Max events per Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// DefaultLimits holds the protocol's per-kind defaults.
var DefaultLimits = map[Kind]Limit{
	KindSessionCreate: {Max: 10, Window: time.Minute},
	KindSessionLookup: {Max: 30, Window: time.Minute},
	KindSessionJoin:   {Max: 20, Window: time.Minute},
	KindConnection:    {Max: 60, Window: time.Minute},
	KindImageFrame:    {Max: 120, Window: time.Second},
	KindAudio:         {Max: 100, Window: time.Second},
	KindPing:          {Max: 2, Window: time.Second},
	KindClientJoin:    {Max: 5, Window: time.Minute},
	KindControl:       {Max: 30, Window: time.Second},
}

func limitFor(kind Kind, override *Limit) Limit {
	if override != nil {
		return *override
	}
	if l, ok := DefaultLimits[kind]; ok {
		return l
	}
	return Limit{Max: 60, Window: time.Minute}
}

// Limiter is the contract both backends implement: check-then-record is
// NOT atomic as a pair -- limits are advisory to within a
// factor of concurrent-request count, same as every caller in this
// package treats it.
type Limiter interface {
	// Check reports whether ip has not yet exceeded kind's window limit.
	// A nil override uses DefaultLimits.
	Check(ip string, kind Kind, override *Limit) (bool, error)
	// Record appends a new event timestamp for (ip, kind).
	Record(ip string, kind Kind) error
	// Cleanup evicts entries older than maxAge.
	Cleanup(maxAge time.Duration) error
	// Destroy releases backend resources (file handles, goroutines).
	Destroy() error
}

// nowFunc is overridable in tests; production always uses time.Now.
var nowFunc = time.Now
