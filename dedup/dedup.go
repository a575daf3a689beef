// Package dedup collapses repeated reads of a physically-present tag into a
// single trigger event. A tag that stays in the antenna field is read many
// times per second; only the transition from "absent or stale" to "freshly
// seen" should actuate anything.
package dedup

import "time"

// pruneFactor bounds how long an idle entry is kept relative to the
// cooldown before Prune drops it. Pruning is purely a memory optimization;
// admission only compares against the cooldown itself.
const pruneFactor = 5

// Cache tracks the last time each tag identifier was seen. It is not safe
// for concurrent use; the poll loop is its only caller.
type Cache struct {
	cooldown time.Duration
	lastSeen map[string]time.Time
}

// New creates a cache with the given cooldown. A zero cooldown disables
// deduplication: every sighting is admitted.
func New(cooldown time.Duration) *Cache {
	return &Cache{
		cooldown: cooldown,
		lastSeen: make(map[string]time.Time),
	}
}

// Admit reports whether a sighting of id at time now should trigger
// actuation. The window is sliding: every sighting refreshes the entry's
// timestamp, admitted or not, so a continuously-present tag never
// re-triggers until it has been out of the field for at least the cooldown.
func (c *Cache) Admit(id string, now time.Time) bool {
	last, seen := c.lastSeen[id]
	c.lastSeen[id] = now

	if !seen {
		return true
	}
	return now.Sub(last) >= c.cooldown
}

// Prune drops entries idle for longer than several cooldown periods. Safe
// to skip entirely; dropped entries would have been admitted anyway.
func (c *Cache) Prune(now time.Time) {
	if c.cooldown <= 0 {
		c.lastSeen = make(map[string]time.Time)
		return
	}
	for id, last := range c.lastSeen {
		if now.Sub(last) >= pruneFactor*c.cooldown {
			delete(c.lastSeen, id)
		}
	}
}

// Len returns the number of tracked identifiers.
func (c *Cache) Len() int {
	return len(c.lastSeen)
}
