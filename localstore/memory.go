package localstore

import "sync"

// Memory is an in-memory Store for tests. It honors the same quota failure
// mode as the SQLite store so quota-handling paths can be exercised without
// a database.
type Memory struct {
	mu    sync.Mutex
	blobs map[string]string
	quota int64
}

// NewMemory returns an empty in-memory store. A quota of 0 disables the cap.
func NewMemory(quota int64) *Memory {
	return &Memory{blobs: make(map[string]string), quota: quota}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.blobs[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota > 0 {
		var others int64
		for k, v := range m.blobs {
			if k != key {
				others += int64(len(v))
			}
		}
		if need := others + int64(len(value)); need > m.quota {
			return &ErrQuotaExceeded{Key: key, Need: need, Quota: m.quota}
		}
	}
	m.blobs[key] = value
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}
