// Package sdp builds the per-track SDP fragments and the session-level
// envelope returned by DESCRIBE. Grounded on the fmtp line formats used by
// bluenviron/gortsplib's format.H264.FMTP and the fmtp lines hand-rolled in
// other Sol prototypes (packetization-mode/sprop-parameter-sets for H.264,
// streamtype/profile-level-id/mode=AAC-hbr/config for MPEG4-GENERIC audio).
package sdp

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// H264Params carries the out-of-band parameter sets an H.264 track needs
// before it can be described.
type H264Params struct {
	SPS []byte
	PPS []byte
}

// H265Params carries the out-of-band parameter sets an H.265 track needs
// before it can be described.
type H265Params struct {
	VPS []byte
	SPS []byte
	PPS []byte
}

// AACParams carries the MPEG-4 audio config bytes and stream rate/channel
// count an AAC track needs before it can be described.
type AACParams struct {
	Config     []byte
	SampleRate int
	Channels   int
}

// BuildH264Fragment builds the m=/a= lines for one H.264 video track.
func BuildH264Fragment(trackID int, payloadType uint8, params H264Params) string {
	var b strings.Builder
	fmt.Fprintf(&b, "m=video 0 RTP/AVP %d\n", payloadType)
	fmt.Fprintf(&b, "a=control:trackID=%d\n", trackID)
	fmt.Fprintf(&b, "a=rtpmap:%d H264/90000\n", payloadType)

	spropSPS := base64.StdEncoding.EncodeToString(params.SPS)
	spropPPS := base64.StdEncoding.EncodeToString(params.PPS)
	fmt.Fprintf(&b, "a=fmtp:%d packetization-mode=1;sprop-parameter-sets=%s,%s\n",
		payloadType, spropSPS, spropPPS)

	return b.String()
}

// BuildH265Fragment builds the m=/a= lines for one H.265 video track.
func BuildH265Fragment(trackID int, payloadType uint8, params H265Params) string {
	var b strings.Builder
	fmt.Fprintf(&b, "m=video 0 RTP/AVP %d\n", payloadType)
	fmt.Fprintf(&b, "a=control:trackID=%d\n", trackID)
	fmt.Fprintf(&b, "a=rtpmap:%d H265/90000\n", payloadType)

	spropVPS := base64.StdEncoding.EncodeToString(params.VPS)
	spropSPS := base64.StdEncoding.EncodeToString(params.SPS)
	spropPPS := base64.StdEncoding.EncodeToString(params.PPS)
	fmt.Fprintf(&b, "a=fmtp:%d sprop-vps=%s;sprop-sps=%s;sprop-pps=%s\n",
		payloadType, spropVPS, spropSPS, spropPPS)

	return b.String()
}

// BuildAACFragment builds the m=/a= lines for one MPEG4-GENERIC audio track.
func BuildAACFragment(trackID int, payloadType uint8, params AACParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "m=audio 0 RTP/AVP %d\n", payloadType)
	fmt.Fprintf(&b, "a=control:trackID=%d\n", trackID)
	fmt.Fprintf(&b, "a=rtpmap:%d MPEG4-GENERIC/%d/%d\n", payloadType, params.SampleRate, params.Channels)

	config := strings.ToUpper(hex.EncodeToString(params.Config))
	fmt.Fprintf(&b, "a=fmtp:%d streamtype=5;profile-level-id=1;mode=AAC-hbr;"+
		"sizeLength=13;indexLength=3;indexDeltaLength=3;config=%s\n", payloadType, config)

	return b.String()
}

// BuildSessionDescription assembles the full DESCRIBE body: the session
// envelope (v=/o=/s=/c=) followed by each track's fragment, in order.
func BuildSessionDescription(sessionName string, trackFragments []string) string {
	var b strings.Builder
	b.WriteString("v=0\n")
	b.WriteString("o=user 123 0 IN IP4 0.0.0.0\n")
	fmt.Fprintf(&b, "s=%s\n", sessionName)
	b.WriteString("c=IN IP4 0.0.0.0\n")
	b.WriteString("t=0 0\n")

	for _, frag := range trackFragments {
		b.WriteString(frag)
	}

	return b.String()
}
