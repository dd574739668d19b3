// Package idgen provides pluggable ID generation for the pipeline.
//
// Every component that mints identifiers (queue entries, transfer
// correlation ids, event rows) accepts a Generator, making the ID strategy a
// startup-time decision rather than a compile-time one.
package idgen

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator producing RFC 9562 UUID v7 strings:
// time-sortable and globally unique.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// TimeRandom returns a Generator producing "<unix-milli>-<suffix>" ids where
// suffix is length random base-36 characters. The millisecond prefix keeps
// ids sortable by creation time; the random suffix keeps two ids minted in
// the same millisecond from colliding. Queue entry ids use this strategy.
func TimeRandom(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		suffix := make([]byte, length)
		for i, b := range buf {
			suffix[i] = alphabet[int(b)%len(alphabet)]
		}
		return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + string(suffix)
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Used for type-scoped identifiers (e.g. "txn_", "evt_", "tr_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the repository default: UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
