package media_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_core/pkg/codec"
	"github.com/arzzra/rcs_core/pkg/media"
)

var amr = codec.Codec{Encoding: "AMR", PayloadType: 97, ClockRate: 8000}

func TestAudioPlayerSendsRTP(t *testing.T) {
	sink, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer sink.Close()

	player := media.NewAudioPlayer([]codec.Codec{amr})
	require.NoError(t, player.Open(context.Background(), amr, sink.LocalAddr().String()))
	defer player.Close()
	assert.True(t, player.IsOpened())

	require.NoError(t, player.SendFrame([]byte{0x01, 0x02}, 160, true))
	require.NoError(t, player.SendFrame([]byte{0x03, 0x04}, 160, false))

	readPacket := func() *rtp.Packet {
		buf := make([]byte, 1500)
		require.NoError(t, sink.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := sink.ReadFrom(buf)
		require.NoError(t, err)
		p := &rtp.Packet{}
		require.NoError(t, p.Unmarshal(buf[:n]))
		return p
	}

	first := readPacket()
	assert.Equal(t, uint8(2), first.Version)
	assert.Equal(t, uint8(97), first.PayloadType)
	assert.True(t, first.Marker)
	assert.Equal(t, []byte{0x01, 0x02}, first.Payload)

	second := readPacket()
	assert.False(t, second.Marker)
	assert.Equal(t, first.SSRC, second.SSRC)
	assert.Equal(t, first.SequenceNumber+1, second.SequenceNumber)
	assert.Equal(t, first.Timestamp+160, second.Timestamp)
}

func TestPlayerLifecycle(t *testing.T) {
	sink, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer sink.Close()

	player := media.NewVideoPlayer([]codec.Codec{
		{Encoding: "H264", PayloadType: 96, ClockRate: 90000},
	})
	assert.False(t, player.IsOpened())

	// Отправка до открытия невозможна
	require.Error(t, player.SendFrame([]byte{0x00}, 3000, false))

	h264 := player.SupportedCodecs()[0]
	require.NoError(t, player.Open(context.Background(), h264, sink.LocalAddr().String()))

	// Повторное открытие запрещено
	require.Error(t, player.Open(context.Background(), h264, sink.LocalAddr().String()))

	player.Close()
	assert.False(t, player.IsOpened())
	// Повторное закрытие безопасно
	player.Close()

	require.Error(t, player.SendFrame([]byte{0x00}, 3000, false))
}
