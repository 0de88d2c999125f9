// Package catalog exposes the static mission catalog and the deterministic
// day-to-mission assignment derived from a user's start date.
package catalog

import (
	"hash/fnv"
	"math/rand/v2"
	"slices"
	"time"
)

// DefaultSize is the number of missions shipped with the application.
const DefaultSize = 60

// Catalog is an ordered list of mission ids.
type Catalog struct {
	ids []int
}

// New creates a catalog from the given mission ids. Duplicates and
// non-positive ids are dropped; catalog order is preserved.
func New(ids []int) *Catalog {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return &Catalog{ids: out}
}

// Default returns the built-in catalog of missions 1..DefaultSize.
func Default() *Catalog {
	ids := make([]int, DefaultSize)
	for i := range ids {
		ids[i] = i + 1
	}
	return New(ids)
}

// IDs returns a copy of the catalog's mission ids.
func (c *Catalog) IDs() []int {
	return slices.Clone(c.ids)
}

// Len returns the number of missions.
func (c *Catalog) Len() int {
	return len(c.ids)
}

// Contains reports whether id is part of the catalog.
func (c *Catalog) Contains(id int) bool {
	return slices.Contains(c.ids, id)
}

// Order returns the fixed mission order for a journey that began on start.
// The permutation is seeded by the start's calendar day, so every device
// computes the same order for the same user.
func (c *Catalog) Order(start time.Time) []int {
	order := slices.Clone(c.ids)
	day := start.UTC().Format(time.DateOnly)

	h := fnv.New64a()
	_, _ = h.Write([]byte(day))
	seed := h.Sum64()

	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}

// DayIndex returns the zero-based journey day for now. Day 0 is the start day.
func DayIndex(start, now time.Time) int {
	s := start.UTC().Truncate(24 * time.Hour)
	n := now.UTC().Truncate(24 * time.Hour)
	if n.Before(s) {
		return 0
	}
	return int(n.Sub(s) / (24 * time.Hour))
}

// MissionForDay returns the mission assigned to the current journey day,
// wrapping around once the order is exhausted. It returns 0 for an empty order.
func MissionForDay(order []int, start, now time.Time) int {
	if len(order) == 0 {
		return 0
	}
	return order[DayIndex(start, now)%len(order)]
}
