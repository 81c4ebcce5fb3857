package transport

import (
	"fmt"
	"io"
	"sync"
)

// Interleaved implements Transport by framing RTP/RTCP packets onto the
// shared RTSP control connection, per RFC 2326 §10.12: '$' + channel
// (1 byte) + length (2 bytes, big-endian) + payload. dataChannel and
// controlChannel are the two interleaved=<a>-<b> channel numbers SETUP
// negotiated.
type Interleaved struct {
	w              io.Writer
	writeMu        *sync.Mutex // shared with the RTSP connection's request/response writer
	dataChannel    int
	controlChannel int

	control chan []byte
}

// NewInterleaved builds an Interleaved transport writing frames to w. The
// supplied mutex must be the same one the owning session uses to guard
// writes of RTSP responses on the same connection, since the connection
// is multiplexed.
func NewInterleaved(w io.Writer, writeMu *sync.Mutex, dataChannel, controlChannel int) *Interleaved {
	return &Interleaved{
		w:              w,
		writeMu:        writeMu,
		dataChannel:    dataChannel,
		controlChannel: controlChannel,
		control:        make(chan []byte, 16),
	}
}

func (t *Interleaved) WriteData(packet []byte) error {
	return t.writeFrame(t.dataChannel, packet)
}

func (t *Interleaved) WriteControl(packet []byte) error {
	return t.writeFrame(t.controlChannel, packet)
}

func (t *Interleaved) writeFrame(channel int, payload []byte) error {
	frame := make([]byte, 4+len(payload))
	frame[0] = '$'
	frame[1] = byte(channel)
	frame[2] = byte(len(payload) >> 8)
	frame[3] = byte(len(payload))
	copy(frame[4:], payload)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.w.Write(frame)
	if err != nil {
		return fmt.Errorf("write interleaved frame: %w", err)
	}
	return nil
}

// DeliverControl hands an interleaved control-channel frame the owning
// session peeled off the shared socket to anyone reading OnControlReceived.
// Non-blocking: a full buffer drops the frame rather than stalling the
// reader goroutine.
func (t *Interleaved) DeliverControl(payload []byte) {
	select {
	case t.control <- payload:
	default:
	}
}

func (t *Interleaved) OnControlReceived() <-chan []byte {
	return t.control
}

func (t *Interleaved) Close() error {
	return nil
}
