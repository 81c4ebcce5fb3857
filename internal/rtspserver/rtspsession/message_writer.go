package rtspsession

import (
	"io"
	"sync"
)

// MessageWriter serializes RTSP responses onto a shared connection,
// guarded by writeMu since the same socket also carries interleaved RTP
// frames from a transport.Interleaved.
type MessageWriter struct {
	w  io.Writer
	mu *sync.Mutex
}

// NewMessageWriter wraps w. mu must be the same mutex handed to any
// transport.Interleaved built for this connection.
func NewMessageWriter(w io.Writer, mu *sync.Mutex) *MessageWriter {
	return &MessageWriter{w: w, mu: mu}
}

// WriteResponse writes a single RTSP response.
func (mw *MessageWriter) WriteResponse(resp *Response) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	_, err := mw.w.Write(resp.Bytes())
	return err
}
