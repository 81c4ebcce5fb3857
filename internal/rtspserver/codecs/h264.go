// Package codecs packetizes H.264, H.265 and AAC access units into ordered
// RTP payload buffers. Every packet returned has sequence number and SSRC
// zeroed (see wire.BuildRTPPacket); a packetizer's only job is Timestamp,
// PayloadType and Marker plus payload framing.
package codecs

import (
	"solrtsp/internal/rtspserver/wire"
)

// DefaultMTUPayload is the number of RTP payload bytes a packet may carry
// before FU-A fragmentation is required: link MTU (1400) minus slack for
// IP/UDP/RTP headers (28 bytes).
const DefaultMTUPayload = 1400 - 28

// h264NALUTypeFUA is the NAL unit type field value reserved for FU-A
// fragmentation units, per RFC 6184 §5.8.
const h264NALUTypeFUA = 28

// PacketizeH264 turns one access unit's bare NAL units into RTP/H264 packets
// per RFC 6184: a NAL at or under the MTU becomes one single-NAL packet; a
// NAL over the MTU is split across FU-A fragments. Output packets are
// one-to-one with input NALs (fragments notwithstanding) so callers can
// account for exactly ceil(len(nal)/mtuPayload) packets per NAL. The marker
// bit is set on the final packet of the access unit only.
func PacketizeH264(payloadType uint8, timestamp uint32, nalus [][]byte, mtuPayload int) ([][]byte, error) {
	if mtuPayload <= 0 {
		mtuPayload = DefaultMTUPayload
	}

	var out [][]byte
	for i, nalu := range nalus {
		markLast := i == len(nalus)-1
		if len(nalu) <= mtuPayload {
			pkt, err := wire.BuildRTPPacket(payloadType, timestamp, markLast, nalu)
			if err != nil {
				return nil, err
			}
			out = append(out, pkt)
			continue
		}
		pkts, err := fragmentH264(payloadType, timestamp, nalu, mtuPayload, markLast)
		if err != nil {
			return nil, err
		}
		out = append(out, pkts...)
	}
	return out, nil
}

func fragmentH264(payloadType uint8, timestamp uint32, nalu []byte, mtuPayload int, markLast bool) ([][]byte, error) {
	header := nalu[0]
	body := nalu[1:]

	indicator := (header & 0xE0) | h264NALUTypeFUA
	nut := header & 0x1F

	count := len(body) / mtuPayload
	if len(body)%mtuPayload != 0 {
		count++
	}
	if count == 0 {
		count = 1
	}

	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * mtuPayload
		end := start + mtuPayload
		if end > len(body) {
			end = len(body)
		}
		slice := body[start:end]

		isFirst := i == 0
		isLast := i == count-1

		fuHeader := nut
		if isFirst {
			fuHeader |= 0x80
		}
		if isLast {
			fuHeader |= 0x40
		}

		payload := make([]byte, 2+len(slice))
		payload[0] = indicator
		payload[1] = fuHeader
		copy(payload[2:], slice)

		marker := isLast && markLast
		pkt, err := wire.BuildRTPPacket(payloadType, timestamp, marker, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, pkt)
	}
	return out, nil
}
