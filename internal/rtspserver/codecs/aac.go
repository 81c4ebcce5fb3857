package codecs

import "solrtsp/internal/rtspserver/wire"

// auHeaderLengthBits is the fixed AU-headers-length field value (16 bits),
// matching a single 2-byte AU-header with no interleaving.
const auHeaderLengthBits = 16

// PacketizeAAC wraps one AAC access unit into a single RTP packet per
// RFC 3640 (MPEG4-GENERIC, AU-header-length=16, sizeLength=13,
// indexLength=3, indexDeltaLength=3). The marker bit is always set: an AU is
// never split across packets in this profile.
func PacketizeAAC(payloadType uint8, timestamp uint32, au []byte) ([][]byte, error) {
	payload := make([]byte, 4+len(au))

	// 2-byte AU-headers-length in bits, big-endian.
	payload[0] = byte(auHeaderLengthBits >> 8)
	payload[1] = byte(auHeaderLengthBits)

	// 2-byte AU-header: (frame_size_bytes << 3) | AU_index(3 bits, 0).
	auHeader := uint16(len(au)) << 3
	payload[2] = byte(auHeader >> 8)
	payload[3] = byte(auHeader)

	copy(payload[4:], au)

	pkt, err := wire.BuildRTPPacket(payloadType, timestamp, true, payload)
	if err != nil {
		return nil, err
	}
	return [][]byte{pkt}, nil
}
