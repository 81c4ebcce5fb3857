package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildRTPPacketHeaderLayout(t *testing.T) {
	payload := []byte("access unit payload")

	buf, err := BuildRTPPacket(96, 98765432, true, payload)
	require.NoError(t, err)
	require.Len(t, buf, HeaderSize+len(payload))

	require.Equal(t, byte(0x80), buf[0], "version 2, no padding/extension/csrc")
	require.Equal(t, byte(0x80|96), buf[1], "marker set, payload type 96")
	require.Equal(t, uint16(0), Sequence(buf), "sequence left zero at packetization time")
	require.Equal(t, payload, buf[HeaderSize:])
}

func TestPatchSequenceAndSSRC(t *testing.T) {
	buf, err := BuildRTPPacket(97, 1000, false, []byte("x"))
	require.NoError(t, err)

	PatchSequence(buf, 0xBEEF)
	PatchSSRC(buf, 0xCAFEBABE)

	require.Equal(t, uint16(0xBEEF), Sequence(buf))
	require.Equal(t, byte(0xCA), buf[ssrcOffset])
	require.Equal(t, byte(0xFE), buf[ssrcOffset+1])
	require.Equal(t, byte(0xBA), buf[ssrcOffset+2])
	require.Equal(t, byte(0xBE), buf[ssrcOffset+3])
}

func TestTimestampSurvivesSequenceAndSSRCPatch(t *testing.T) {
	buf, err := BuildRTPPacket(96, 98765432, false, []byte("x"))
	require.NoError(t, err)

	PatchSequence(buf, 7)
	PatchSSRC(buf, 0xAABBCCDD)

	require.Equal(t, uint32(98765432), Timestamp(buf))
}

func TestBuildSenderReportIsTwentyEightBytes(t *testing.T) {
	buf, err := BuildSenderReport(0x11223344, NTPTime(time.Now()), 90000, 42, 12345)
	require.NoError(t, err)
	require.Len(t, buf, 28)
	require.Equal(t, byte(200), buf[1], "packet type 200 (SR)")
}

func TestNTPTimeMonotonicWithWallClock(t *testing.T) {
	t1 := time.Now()
	t2 := t1.Add(time.Second)

	require.Greater(t, NTPTime(t2), NTPTime(t1))
}
