// Package transport implements the two duplex media-delivery paths an
// RTSP SETUP can choose between: TCP-interleaved, framed onto the RTSP
// control socket, and a UDP port pair. Grounded on
// other_examples/ssungk-SOL__session.go's SendInterleavedRTPPacket ('$'
// + channel + 2-byte length framing) and ssungk-sol/pkg/rtp/session.go's
// RTPTransport/RTPSession UDP pairing, generalized per the source's
// message-passing redesign note into one Transport interface so
// rtspsession never type-switches on TCP vs UDP.
package transport

// Transport is the duplex contract a SETUP'd stream uses regardless of
// which concrete wire path was negotiated.
type Transport interface {
	// WriteData sends one RTP packet on the data channel.
	WriteData(packet []byte) error
	// WriteControl sends one RTCP packet on the control channel.
	WriteControl(packet []byte) error
	// OnControlReceived returns a channel of RTCP packets arriving from
	// the peer (RTCP receiver reports over UDP; for TCP, rtspsession reads
	// interleaved frames off the RTSP socket and hands them in through
	// Interleaved.DeliverControl).
	OnControlReceived() <-chan []byte
	// Close releases any transport-owned resources (UDP sockets).
	Close() error
}
