// Package localstore is the device-local durable key-value layer underneath
// the cache and the pending-mutation queue. Values are whole
// string-serialized blobs; callers read, modify and write a blob as a unit.
//
// The store is a single-writer resource per process. Nothing here defends
// against two processes mutating the same key concurrently; the last whole
// blob written wins.
package localstore

import "fmt"

// Store persists string blobs by key. Get reports ok=false for a missing
// key. Set may fail with *ErrQuotaExceeded when a configured byte quota
// would be exceeded; callers that can shed data should clear and retry once.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

// ErrQuotaExceeded is returned by Set when writing the value would push the
// store past its configured byte quota.
type ErrQuotaExceeded struct {
	Key   string
	Need  int64 // bytes the store would hold after the write
	Quota int64
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("localstore: quota exceeded writing %q: need %d bytes, quota %d", e.Key, e.Need, e.Quota)
}
