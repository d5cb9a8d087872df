package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(4, "127.0.0.1", nil)
}

func TestPickNativeSenderCodecDefaultsToH264(t *testing.T) {
	c := pickNativeSenderCodec(nil)
	require.Equal(t, "video/H264", c.MimeType)

	c = pickNativeSenderCodec([]string{"video/VP9", "video/H264"})
	require.Equal(t, "video/VP9", c.MimeType)

	c = pickNativeSenderCodec([]string{"video/AV2"})
	require.Equal(t, "video/H264", c.MimeType)
}

func TestCreateNativeSenderSessionNoSelfEvent(t *testing.T) {
	m := testManager(t)
	r, err := m.ChannelRouter("channel-1")
	require.NoError(t, err)

	events := r.Subscribe("conn-a")

	desc, err := r.CreateNativeSenderSession("conn-a", SourceScreen, []string{"video/H264"})
	require.NoError(t, err)
	require.NotEmpty(t, desc.ProducerID)
	require.NotEmpty(t, desc.RtpTarget)
	require.Equal(t, uint8(96), desc.PayloadType)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for the only connection in the channel: %+v", ev)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestScreenProducerAdmissionRejectsSecond(t *testing.T) {
	m := testManager(t)
	r, err := m.ChannelRouter("channel-2")
	require.NoError(t, err)

	_, err = r.CreateNativeSenderSession("conn-a", SourceScreen, nil)
	require.NoError(t, err)

	_, err = r.CreateNativeSenderSession("conn-a", SourceScreen, nil)
	require.Error(t, err)
}

func TestMediaCloseProducerBroadcastsToOtherConnections(t *testing.T) {
	m := testManager(t)
	r, err := m.ChannelRouter("channel-3")
	require.NoError(t, err)

	desc, err := r.CreateNativeSenderSession("conn-a", SourceCamera, nil)
	require.NoError(t, err)

	// conn-b joins the channel and subscribes for broadcasts, the way
	// HandleWebsocket does on connect.
	r.mu.Lock()
	r.connectionLocked("conn-b")
	r.mu.Unlock()
	events := r.Subscribe("conn-b")

	require.NoError(t, r.MediaCloseProducer("conn-a", desc.ProducerID))

	select {
	case ev := <-events:
		require.Equal(t, "conn-b", ev.ConnectionID)
		require.Equal(t, EventProducerClosed, ev.Type)
		payload, ok := ev.Payload.(ProducerClosedPayload)
		require.True(t, ok)
		require.Equal(t, desc.ProducerID, payload.ProducerID)
	case <-time.After(time.Second):
		t.Fatal("expected producer_closed event")
	}
}

func TestCleanupConnectionRemovesProducers(t *testing.T) {
	m := testManager(t)
	r, err := m.ChannelRouter("channel-4")
	require.NoError(t, err)

	desc, err := r.CreateNativeSenderSession("conn-a", SourceCamera, nil)
	require.NoError(t, err)

	r.CleanupConnection("conn-a")

	r.mu.Lock()
	_, stillPresent := r.producers[desc.ProducerID]
	_, connStillPresent := r.connections["conn-a"]
	r.mu.Unlock()
	require.False(t, stillPresent)
	require.False(t, connStillPresent)
}

func TestManagerShardsByFirstByte(t *testing.T) {
	m := testManager(t)
	r1, err := m.ChannelRouter("aaa-channel")
	require.NoError(t, err)
	r2, err := m.ChannelRouter("aaa-channel")
	require.NoError(t, err)
	require.Same(t, r1, r2, "same channel id must resolve to the same Router")

	sh := m.shards[int('a')%len(m.shards)]
	require.Same(t, sh, m.shardFor("aaa-channel"))
	require.Same(t, sh, m.shardFor("a-other-channel"))
	require.Same(t, r1, sh.routers["aaa-channel"])
}
