package envelope

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/zhtp-core/internal/identity"
)

func TestValidateRejectsHopBudgetExceeded(t *testing.T) {
	e := New(identity.NodeID{1}, identity.NodeID{2}, KindRequest, nil, 2)
	e.HopCount = 3
	require.ErrorIs(t, e.Validate(), ErrHopBudgetExceeded)
}

func TestValidateRejectsRouteLoop(t *testing.T) {
	e := New(identity.NodeID{1}, identity.NodeID{2}, KindRequest, nil, 5)
	e.Route = []identity.NodeID{{9}, {9}}
	require.ErrorIs(t, e.Validate(), ErrRouteLoop)
}

func TestForwardedIncrementsHopAndAppendsRoute(t *testing.T) {
	e := New(identity.NodeID{1}, identity.NodeID{2}, KindRequest, nil, 5)
	self := identity.NodeID{7}
	next := e.Forwarded(self)
	require.Equal(t, uint8(1), next.HopCount)
	require.Equal(t, []identity.NodeID{self}, next.Route)
	require.NoError(t, next.Validate())
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	e := New(identity.NodeID{1}, identity.NodeID{2}, KindTransactionAnnouncement, []byte("payload"), 8)
	e.Route = []identity.NodeID{{3}, {4}}

	data, err := Marshal(e)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, e.MessageID, got.MessageID)
	require.Equal(t, e.Origin, got.Origin)
	require.Equal(t, e.Destination, got.Destination)
	require.Equal(t, e.Kind, got.Kind)
	require.Equal(t, e.Payload, got.Payload)
	require.Equal(t, e.Route, got.Route)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	e := New(identity.NodeID{1}, identity.NodeID{2}, KindHealthReport, []byte("ok"), 4)
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, e))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, e.MessageID, got.MessageID)
	require.Equal(t, e.Payload, got.Payload)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}
