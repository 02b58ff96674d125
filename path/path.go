// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package path provides path descriptors and path selection for routes
// through the overlay.
package path

import (
	"errors"
	"fmt"
	mRand "math/rand"
	"strings"
	"sync"

	"github.com/hoprnet/edgli/relay"
)

const (
	// MinHops is the minimum number of hops in a path, including the
	// destination.
	MinHops = 1

	// MaxHops is the maximum number of hops in a path, including the
	// destination.
	MaxHops = 5

	// maxAttempts bounds the number of draws made to avoid repeating the
	// previously selected path for the same destination.
	maxAttempts = 3
)

// ErrNoRouteAvailable is returned when no usable path to the destination
// can be assembled from the directory.
var ErrNoRouteAvailable = errors.New("path: no route available")

// Descriptor is an ordered sequence of relays forming a route from the
// client to a destination.  The destination is the final hop.  A
// Descriptor is immutable once selected for a session.
type Descriptor struct {
	hops []*relay.Identity
}

// NewDescriptor assembles a Descriptor from an explicit hop sequence.  It
// enforces the hop count bounds and the no-repeated-relay invariant.
func NewDescriptor(hops []*relay.Identity) (*Descriptor, error) {
	if len(hops) < MinHops || len(hops) > MaxHops {
		return nil, fmt.Errorf("path: invalid hop count: %d", len(hops))
	}
	seen := make(map[[relay.NodeIDLength]byte]bool)
	for _, h := range hops {
		if seen[h.ID] {
			return nil, fmt.Errorf("path: relay %v appears twice", h)
		}
		seen[h.ID] = true
	}
	d := &Descriptor{hops: make([]*relay.Identity, len(hops))}
	copy(d.hops, hops)
	return d, nil
}

// Hops returns the hop sequence.  Callers MUST NOT mutate the returned
// slice.
func (d *Descriptor) Hops() []*relay.Identity {
	return d.hops
}

// Len returns the number of hops, destination included.
func (d *Descriptor) Len() int {
	return len(d.hops)
}

// Entry returns the first hop, the relay the transport talks to.
func (d *Descriptor) Entry() *relay.Identity {
	return d.hops[0]
}

// Destination returns the final hop.
func (d *Descriptor) Destination() *relay.Identity {
	return d.hops[len(d.hops)-1]
}

// Equal returns true if both descriptors traverse the same relays in the
// same order.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if other == nil || len(d.hops) != len(other.hops) {
		return false
	}
	for i := range d.hops {
		if d.hops[i].ID != other.hops[i].ID {
			return false
		}
	}
	return true
}

// String returns a printable representation, suitable for debugging.
func (d *Descriptor) String() string {
	s := make([]string, 0, len(d.hops))
	for _, h := range d.hops {
		s = append(s, h.String())
	}
	return strings.Join(s, " -> ")
}

// Selector selects paths from a relay directory.  The randomness source is
// passed in explicitly so that selection is testable; use rand.NewMath()
// outside of tests.
type Selector struct {
	sync.Mutex

	dir relay.Directory
	rng *mRand.Rand

	// lastPath remembers the previously selected path per destination so
	// that consecutive selections spread over alternatives.
	lastPath map[[relay.NodeIDLength]byte]*Descriptor
}

// NewSelector creates a Selector drawing from dir with the given rng.
func NewSelector(dir relay.Directory, rng *mRand.Rand) *Selector {
	return &Selector{
		dir:      dir,
		rng:      rng,
		lastPath: make(map[[relay.NodeIDLength]byte]*Descriptor),
	}
}

// Select produces a Descriptor terminating at destination with hopCount
// hops.  No relay in exclude is used, the destination included.  Where
// alternatives exist the previously selected path for the same destination
// is avoided.
func (s *Selector) Select(destination *relay.Identity, hopCount int, exclude map[[relay.NodeIDLength]byte]bool) (*Descriptor, error) {
	if hopCount < MinHops || hopCount > MaxHops {
		return nil, fmt.Errorf("path: invalid hop count: %d", hopCount)
	}
	if exclude[destination.ID] {
		return nil, ErrNoRouteAvailable
	}

	// Candidate intermediate relays: everything in the directory except
	// the destination and the excluded set.
	candidates := make([]*relay.Identity, 0)
	for _, r := range s.dir.Relays() {
		if r.ID == destination.ID || exclude[r.ID] {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) < hopCount-1 {
		return nil, ErrNoRouteAvailable
	}

	s.Lock()
	defer s.Unlock()

	var d *Descriptor
	for attempts := 0; attempts < maxAttempts; attempts++ {
		hops := make([]*relay.Identity, 0, hopCount)
		for _, i := range s.rng.Perm(len(candidates))[:hopCount-1] {
			hops = append(hops, candidates[i])
		}
		hops = append(hops, destination)

		var err error
		d, err = NewDescriptor(hops)
		if err != nil {
			return nil, err
		}

		// Accept immediately unless this is an exact repeat of the last
		// path for this destination and an alternative exists.
		if last := s.lastPath[destination.ID]; last == nil || !d.Equal(last) || len(candidates) == hopCount-1 {
			break
		}
	}

	s.lastPath[destination.ID] = d
	return d, nil
}
