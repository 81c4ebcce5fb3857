// Package wire implements the big-endian RTP and RTCP wire codecs the
// dialog engine and packetizers build on. Packet bodies are produced once
// per access unit with sequence number and SSRC left at zero; the fan-out
// path in Server.FeedVideo/FeedAudio patches those two fields in place for
// every connection before writing, so the same buffer is reused across an
// entire PLAYing set instead of being re-marshaled per peer.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"
)

// HeaderSize is the fixed RTP header length: no CSRC, no extension.
const HeaderSize = 12

// seqOffset and ssrcOffset are the byte offsets patched at send time.
const (
	seqOffset  = 2
	tsOffset   = 4
	ssrcOffset = 8
)

// BuildRTPPacket marshals a single RTP packet with sequence number and SSRC
// left at zero (patched in later by the per-connection session, since
// each connection keeps its own sequence counter and SSRC). PayloadType,
// Timestamp and Marker are the only header fields a packetizer is
// responsible for; Version/Padding/Extension/CSRCCount are always
// 2/false/false/0, RTP's only legal values for Version and an unused
// packetizer for the rest.
func BuildRTPPacket(payloadType uint8, timestamp uint32, marker bool, payload []byte) ([]byte, error) {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadType,
			SequenceNumber: 0,
			Timestamp:      timestamp,
			SSRC:           0,
			Marker:         marker,
		},
		Payload: payload,
	}

	buf, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal rtp packet: %w", err)
	}
	return buf, nil
}

// PatchSequence overwrites the sequence number field of an already-marshaled
// RTP packet in place.
func PatchSequence(buf []byte, seq uint16) {
	binary.BigEndian.PutUint16(buf[seqOffset:seqOffset+2], seq)
}

// PatchSSRC overwrites the SSRC field of an already-marshaled RTP packet in
// place.
func PatchSSRC(buf []byte, ssrc uint32) {
	binary.BigEndian.PutUint32(buf[ssrcOffset:ssrcOffset+4], ssrc)
}

// Sequence reads back the sequence number field; used by tests.
func Sequence(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf[seqOffset : seqOffset+2])
}

// Timestamp reads back the RTP timestamp field, untouched by PatchSequence
// and PatchSSRC, so the fan-out path can recover it for an RTCP Sender
// Report without threading the access unit's timestamp through the sink
// interface separately.
func Timestamp(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf[tsOffset : tsOffset+4])
}
