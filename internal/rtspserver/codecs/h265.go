package codecs

import "solrtsp/internal/rtspserver/wire"

// PacketizeH265 turns one access unit's bare NAL units into RTP/H265 packets
// per RFC 7798: a NAL at or under the MTU becomes one single-NAL packet; a
// NAL over the MTU is split across FU fragments (PayloadType 49 form).
// Output packets are one-to-one with input NALs (fragments notwithstanding)
// so callers can account for exactly ceil(len(nal)/mtuPayload) packets per
// NAL. The marker bit is set on the final packet of the access unit only.
func PacketizeH265(payloadType uint8, timestamp uint32, nalus [][]byte, mtuPayload int) ([][]byte, error) {
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
		pkts, err := fragmentH265(payloadType, timestamp, nalu, mtuPayload, markLast)
		if err != nil {
			return nil, err
		}
		out = append(out, pkts...)
	}
	return out, nil
}

func fragmentH265(payloadType uint8, timestamp uint32, nalu []byte, mtuPayload int, markLast bool) ([][]byte, error) {
	// NAL header is 2 bytes: nal_unit_type is bits 9-14 of the 16-bit word.
	origHeader0 := nalu[0]
	origHeader1 := nalu[1]
	nalUnitType := (origHeader0 >> 1) & 0x3F
	body := nalu[2:]

	count := len(body) / mtuPayload
	if len(body)%mtuPayload != 0 {
		count++
	}
	if count == 0 {
		count = 1
	}

	// FU indicator: (orig_nal_header & 0x81FF) | (49 << 9), written big-endian.
	fuIndicator0 := (origHeader0 & 0x81) | (49 << 1)
	fuIndicator1 := origHeader1

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

		var fuHeader uint8
		if isFirst {
			fuHeader |= 0x80
		}
		if isLast {
			fuHeader |= 0x40
		}
		fuHeader |= nalUnitType & 0x3F

		payload := make([]byte, 3+len(slice))
		payload[0] = fuIndicator0
		payload[1] = fuIndicator1
		payload[2] = fuHeader
		copy(payload[3:], slice)

		marker := isLast && markLast
		pkt, err := wire.BuildRTPPacket(payloadType, timestamp, marker, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, pkt)
	}
	return out, nil
}
