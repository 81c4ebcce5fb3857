package transport

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterleavedWriteDataFramesWithDollarAndChannel(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	tr := NewInterleaved(&buf, &mu, 0, 1)

	err := tr.WriteData([]byte{0xAA, 0xBB, 0xCC})
	require.NoError(t, err)

	frame := buf.Bytes()
	require.Equal(t, byte('$'), frame[0])
	require.Equal(t, byte(0), frame[1])
	require.Equal(t, uint16(3), uint16(frame[2])<<8|uint16(frame[3]))
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC}, frame[4:])
}

func TestInterleavedWriteControlUsesControlChannel(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	tr := NewInterleaved(&buf, &mu, 4, 5)

	require.NoError(t, tr.WriteControl([]byte{0x01}))
	frame := buf.Bytes()
	require.Equal(t, byte(5), frame[1])
}

func TestInterleavedDeliverControlIsNonBlocking(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	tr := NewInterleaved(&buf, &mu, 0, 1)

	for i := 0; i < 32; i++ {
		tr.DeliverControl([]byte{byte(i)})
	}

	select {
	case <-tr.OnControlReceived():
	default:
		t.Fatal("expected at least one buffered control frame")
	}
}
