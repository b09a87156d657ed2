package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientMessageRoundTrip(t *testing.T) {
	cases := []ClientMessage{
		{Kind: ClientConnect, Username: "aphasia"},
		{Kind: ClientDisconnect},
		{Kind: ClientPing},
		{Kind: ClientVoice, Seq: 42, Samples: []byte{1, 2, 3, 4}},
	}
	for _, c := range cases {
		buf, err := EncodeClient(c)
		require.NoError(t, err)
		got, err := DecodeClient(buf)
		require.NoError(t, err)
		assert.Equal(t, c.Kind, got.Kind)
		assert.Equal(t, c.Username, got.Username)
		assert.Equal(t, c.Seq, got.Seq)
		assert.Equal(t, c.Samples, got.Samples)
	}
}

func TestServerMessageRoundTrip(t *testing.T) {
	cases := []ServerMessage{
		{Kind: ServerPong},
		{Kind: ServerConnected, User: UserInfo{ID: 7, Username: "u1"}},
		{Kind: ServerDisconnected, User: UserInfo{ID: 7, Username: "u1"}},
		{Kind: ServerVoice, Seq: 9, PeerID: 1234567, Samples: []byte{9, 9, 9}},
	}
	for _, c := range cases {
		buf, err := EncodeServer(c)
		require.NoError(t, err)
		got, err := DecodeServer(buf)
		require.NoError(t, err)
		assert.Equal(t, c.Kind, got.Kind)
		assert.Equal(t, c.User, got.User)
		assert.Equal(t, c.Seq, got.Seq)
		assert.Equal(t, c.PeerID, got.PeerID)
		assert.Equal(t, c.Samples, got.Samples)
	}
}

func TestDecodeMalformedDatagram(t *testing.T) {
	_, err := DecodeClient(nil)
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeClient([]byte{tagConnect, 0, 5}) // claims 5 bytes, has 0
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeClient([]byte{0xFF})
	assert.ErrorIs(t, err, ErrUnknownTag)

	_, err = DecodeServer([]byte{0xFF})
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestPeerIDWidthIsU32NotU8(t *testing.T) {
	// Regression for the truncation bug spec.md flags: a peer_id above 255
	// must survive the wire round-trip intact.
	msg := ServerMessage{Kind: ServerVoice, PeerID: 70000, Samples: []byte{1}}
	buf, err := EncodeServer(msg)
	require.NoError(t, err)
	got, err := DecodeServer(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(70000), got.PeerID)
}
