package controller

import "sync"

type coverArtEntry struct {
	ref    string
	failed bool
}

// CoverArtIndex maps (device, image handle) pairs to locally resolved
// image references. Downloads happen elsewhere; the index only records
// completions so item construction never blocks on image I/O.
type CoverArtIndex struct {
	mu      sync.RWMutex
	entries map[DeviceID]map[string]coverArtEntry
}

// NewCoverArtIndex creates an empty index.
func NewCoverArtIndex() *CoverArtIndex {
	return &CoverArtIndex{entries: make(map[DeviceID]map[string]coverArtEntry)}
}

// Resolve returns the local reference for a handle, if the download has
// completed. Never blocks.
func (c *CoverArtIndex) Resolve(dev DeviceID, handle string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[dev][handle]
	if !ok || entry.failed {
		return "", false
	}
	return entry.ref, true
}

// OnDownloadComplete records a finished download. Idempotent for
// repeated completions of the same handle.
func (c *CoverArtIndex) OnDownloadComplete(dev DeviceID, handle string, ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handles, ok := c.entries[dev]
	if !ok {
		handles = make(map[string]coverArtEntry)
		c.entries[dev] = handles
	}
	if existing, ok := handles[handle]; ok && !existing.failed {
		return
	}
	handles[handle] = coverArtEntry{ref: ref}
}

// OnDownloadFailed marks a handle permanently unresolved for this
// session. A fresh metadata fetch is required to obtain a new handle.
func (c *CoverArtIndex) OnDownloadFailed(dev DeviceID, handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handles, ok := c.entries[dev]
	if !ok {
		handles = make(map[string]coverArtEntry)
		c.entries[dev] = handles
	}
	if existing, ok := handles[handle]; ok && !existing.failed {
		return
	}
	handles[handle] = coverArtEntry{failed: true}
}

// OnSessionRemoved purges all entries for a device.
func (c *CoverArtIndex) OnSessionRemoved(dev DeviceID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, dev)
}
