// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

package path

import (
	"fmt"
	mRand "math/rand"
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/hoprnet/edgli/relay"
)

func makeDirectory(t *testing.T, n int) (*relay.StaticDirectory, []*relay.Identity) {
	doc := &relay.Document{}
	for i := 0; i < n; i++ {
		id, err := relay.NewIdentity(rand.Reader, fmt.Sprintf("relay%d.example:4242", i))
		require.NoError(t, err)
		doc.Relays = append(doc.Relays, id)
	}
	return relay.NewStaticDirectory(doc), doc.Relays
}

func TestDescriptorInvariants(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	_, relays := makeDirectory(t, 6)

	d, err := NewDescriptor(relays[:3])
	require.NoError(err)
	require.Equal(3, d.Len())
	require.Equal(relays[0].ID, d.Entry().ID)
	require.Equal(relays[2].ID, d.Destination().ID)

	// Hop count bounds.
	_, err = NewDescriptor(nil)
	require.Error(err)
	_, err = NewDescriptor(relays[:6])
	require.Error(err)

	// No repeated relay within one path.
	_, err = NewDescriptor([]*relay.Identity{relays[0], relays[1], relays[0]})
	require.Error(err)
}

func TestSelectBasic(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	dir, relays := makeDirectory(t, 8)
	dest := relays[7]
	s := NewSelector(dir, mRand.New(mRand.NewSource(1)))

	d, err := s.Select(dest, 3, nil)
	require.NoError(err)
	require.Equal(3, d.Len())
	require.Equal(dest.ID, d.Destination().ID)

	seen := make(map[[relay.NodeIDLength]byte]bool)
	for _, h := range d.Hops() {
		require.False(seen[h.ID], "relay repeated within path")
		seen[h.ID] = true
	}
}

func TestSelectHonorsExcludeSet(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	dir, relays := makeDirectory(t, 6)
	dest := relays[5]
	s := NewSelector(dir, mRand.New(mRand.NewSource(2)))

	exclude := map[[relay.NodeIDLength]byte]bool{
		relays[0].ID: true,
		relays[1].ID: true,
	}
	for i := 0; i < 20; i++ {
		d, err := s.Select(dest, 3, exclude)
		require.NoError(err)
		for _, h := range d.Hops() {
			require.False(exclude[h.ID], "excluded relay selected")
		}
	}

	// Excluding the destination itself means no route.
	exclude[dest.ID] = true
	_, err := s.Select(dest, 3, exclude)
	require.ErrorIs(err, ErrNoRouteAvailable)
}

func TestSelectNoRouteAvailable(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	dir, relays := makeDirectory(t, 3)
	dest := relays[2]
	s := NewSelector(dir, mRand.New(mRand.NewSource(3)))

	// 4 hops needs 3 intermediates but only 2 non-destination relays exist.
	_, err := s.Select(dest, 4, nil)
	require.ErrorIs(err, ErrNoRouteAvailable)

	// Invalid hop counts.
	_, err = s.Select(dest, 0, nil)
	require.Error(err)
	_, err = s.Select(dest, MaxHops+1, nil)
	require.Error(err)
}

func TestSelectAvoidsImmediateRepeat(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	dir, relays := makeDirectory(t, 10)
	dest := relays[9]
	s := NewSelector(dir, mRand.New(mRand.NewSource(4)))

	repeats := 0
	prev, err := s.Select(dest, 3, nil)
	require.NoError(err)
	for i := 0; i < 50; i++ {
		d, err := s.Select(dest, 3, nil)
		require.NoError(err)
		if d.Equal(prev) {
			repeats++
		}
		prev = d
	}
	// With 9 candidate intermediates an identical back to back path should
	// be rare; the selector redraws on collision.
	require.Less(repeats, 3)
}

func TestSelectSingleHop(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	dir, relays := makeDirectory(t, 2)
	s := NewSelector(dir, mRand.New(mRand.NewSource(5)))

	d, err := s.Select(relays[1], 1, nil)
	require.NoError(err)
	require.Equal(1, d.Len())
	require.Equal(relays[1].ID, d.Entry().ID)
	require.Equal(relays[1].ID, d.Destination().ID)
}
