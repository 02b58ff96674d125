// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"fmt"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/hoprnet/edgli/onion"
	"github.com/hoprnet/edgli/onion/geo"
	"github.com/hoprnet/edgli/path"
	"github.com/hoprnet/edgli/relay"
)

func TestMemoryTransport(t *testing.T) {
	t.Parallel()

	codec, err := onion.NewCodec(geo.Default())
	require.NoError(t, err)

	relays := make([]*relay.Identity, 3)
	for i := range relays {
		relays[i], err = relay.NewIdentity(rand.Reader, fmt.Sprintf("relay-%d", i))
		require.NoError(t, err)
	}

	type delivery struct {
		hop *relay.Identity
		u   *onion.Unit
	}
	deliveredCh := make(chan delivery, 1)
	m := NewMemory(codec, relays, func(hop *relay.Identity, u *onion.Unit) {
		deliveredCh <- delivery{hop, u}
	})

	route, err := path.NewDescriptor(relays)
	require.NoError(t, err)

	var sid onion.SessionID
	sid[0] = 0x42
	pkt, err := codec.Encode(&onion.Unit{
		Kind:      onion.KindData,
		SessionID: sid,
		Seq:       7,
		Payload:   []byte("through the overlay"),
	}, route)
	require.NoError(t, err)

	require.NoError(t, m.SendRaw(relays[0].Address, pkt))

	select {
	case d := <-deliveredCh:
		require.Equal(t, relays[2].ID, d.hop.ID)
		require.Equal(t, sid, d.u.SessionID)
		require.Equal(t, uint64(7), d.u.Seq)
		require.Equal(t, []byte("through the overlay"), d.u.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	require.ErrorIs(t, m.SendRaw("no-such-relay", pkt), relay.ErrNoSuchRelay)
}
