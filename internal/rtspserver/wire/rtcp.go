package wire

import (
	"fmt"
	"time"

	"github.com/pion/rtcp"
)

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01 00:00:00 UTC) and the Unix epoch.
const ntpEpochOffset = 2208988800

// NTPTime converts a wall-clock time into the 64-bit NTP timestamp format
// used by RTCP Sender Reports: the high 32 bits are whole seconds since the
// NTP epoch, the low 32 bits are the fractional second scaled by 2^32.
func NTPTime(t time.Time) uint64 {
	secs := uint64(t.Unix()+ntpEpochOffset) << 32
	frac := uint64(float64(t.Nanosecond()) / 1e9 * (1 << 32))
	return secs | frac
}

// BuildSenderReport marshals a 28-byte RTCP Sender Report with zero report
// blocks: header, SSRC, NTP time, RTP timestamp, packet count, octet count.
func BuildSenderReport(ssrc uint32, ntpTime uint64, rtpTimestamp, packetCount, octetCount uint32) ([]byte, error) {
	sr := rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     ntpTime,
		RTPTime:     rtpTimestamp,
		PacketCount: packetCount,
		OctetCount:  octetCount,
	}

	buf, err := sr.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal rtcp sender report: %w", err)
	}
	return buf, nil
}
