// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

package onion

import (
	"fmt"
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/hoprnet/edgli/onion/geo"
	"github.com/hoprnet/edgli/path"
	"github.com/hoprnet/edgli/relay"
)

func makePath(t *testing.T, nrHops int) *path.Descriptor {
	hops := make([]*relay.Identity, 0, nrHops)
	for i := 0; i < nrHops; i++ {
		id, err := relay.NewIdentity(rand.Reader, fmt.Sprintf("relay%d.example:4242", i))
		require.NoError(t, err)
		hops = append(hops, id)
	}
	d, err := path.NewDescriptor(hops)
	require.NoError(t, err)
	return d
}

func newSessionID(t *testing.T) SessionID {
	sid := SessionID{}
	_, err := rand.Reader.Read(sid[:])
	require.NoError(t, err)
	return sid
}

// Unwrap the packet hop by hop and require delivery of the original
// fragment at the final hop, for every path length the geometry allows.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c, err := NewCodec(geo.Default())
	require.NoError(err)

	for nrHops := 1; nrHops <= c.Geometry().MaxHops; nrHops++ {
		d := makePath(t, nrHops)
		sid := newSessionID(t)
		fragment := []byte(fmt.Sprintf("hello across %d hops", nrHops))

		pkt, err := c.Encode(&Unit{
			Kind:      KindData,
			SessionID: sid,
			Seq:       7,
			Payload:   fragment,
		}, d)
		require.NoError(err)
		require.Equal(c.Geometry().PacketLength, len(pkt))

		for i, hop := range d.Hops() {
			decoded, err := c.Decode(pkt, hop)
			require.NoError(err, "hop %d", i)

			if i < d.Len()-1 {
				require.NotNil(decoded.Forward)
				require.Equal(d.Hops()[i+1].ID, decoded.Forward.NextHop)
				require.Equal(c.Geometry().PacketLength, len(decoded.Forward.Packet))
				pkt = decoded.Forward.Packet
			} else {
				require.NotNil(decoded.Payload)
				require.Equal(sid, decoded.Payload.SessionID)
				require.Equal(uint64(7), decoded.Payload.Seq)
				require.Equal(fragment, decoded.Payload.Payload)
			}
		}
	}
}

func TestAckRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c, err := NewCodec(geo.Default())
	require.NoError(err)

	d := makePath(t, 3)
	sid := newSessionID(t)
	pkt, err := c.Encode(&Unit{
		Kind:      KindAck,
		SessionID: sid,
		Acks:      []uint64{1, 2, 5},
	}, d)
	require.NoError(err)

	for i, hop := range d.Hops() {
		decoded, err := c.Decode(pkt, hop)
		require.NoError(err)
		if i < d.Len()-1 {
			pkt = decoded.Forward.Packet
		} else {
			require.NotNil(decoded.Ack)
			require.Equal(sid, decoded.Ack.SessionID)
			require.Equal([]uint64{1, 2, 5}, decoded.Ack.Acks)
		}
	}
}

// Packet size is invariant in the fragment size.
func TestPacketSizeConstant(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c, err := NewCodec(geo.Default())
	require.NoError(err)
	d := makePath(t, 3)
	sid := newSessionID(t)

	for _, n := range []int{0, 1, 100, c.Geometry().MaxFragmentLength} {
		fragment := make([]byte, n)
		pkt, err := c.Encode(&Unit{Kind: KindData, SessionID: sid, Payload: fragment}, d)
		require.NoError(err, "fragment size %d", n)
		require.Equal(c.Geometry().PacketLength, len(pkt), "fragment size %d", n)
	}
}

func TestEncodeFragmentTooLarge(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c, err := NewCodec(geo.Default())
	require.NoError(err)
	d := makePath(t, 3)

	fragment := make([]byte, c.Geometry().ForwardPayloadLength+1)
	_, err = c.Encode(&Unit{Kind: KindData, SessionID: newSessionID(t), Payload: fragment}, d)
	require.ErrorIs(err, ErrFragmentTooLarge)
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c, err := NewCodec(geo.Default())
	require.NoError(err)
	d := makePath(t, 3)
	entry := d.Entry()

	pkt, err := c.Encode(&Unit{Kind: KindData, SessionID: newSessionID(t), Payload: []byte("x")}, d)
	require.NoError(err)

	// Truncated packet.
	_, err = c.Decode(pkt[:len(pkt)-1], entry)
	require.ErrorIs(err, ErrMalformedPacket)

	// Flipped bit in the routing header.
	tampered := make([]byte, len(pkt))
	copy(tampered, pkt)
	tampered[geo.NonceLength] ^= 0x01
	_, err = c.Decode(tampered, entry)
	require.ErrorIs(err, ErrMalformedPacket)

	// Wrong key material: a node the packet was not addressed to.
	stranger, err := relay.NewIdentity(rand.Reader, "stranger.example:4242")
	require.NoError(err)
	_, err = c.Decode(pkt, stranger)
	require.ErrorIs(err, ErrMalformedPacket)

	// Flipped bit in the payload region, detected at the final hop.
	copy(tampered, pkt)
	tampered[len(tampered)-1] ^= 0x01
	decoded, err := c.Decode(tampered, entry)
	require.NoError(err)
	decoded, err = c.Decode(decoded.Forward.Packet, d.Hops()[1])
	require.NoError(err)
	_, err = c.Decode(decoded.Forward.Packet, d.Destination())
	require.ErrorIs(err, ErrMalformedPacket)
}

func TestPathExceedsGeometry(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c, err := NewCodec(geo.New(2, 1024))
	require.NoError(err)
	d := makePath(t, 3)

	_, err = c.Encode(&Unit{Kind: KindData, SessionID: newSessionID(t)}, d)
	require.Error(err)
}
