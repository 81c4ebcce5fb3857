// Package track implements the uniform capability the session engine and
// the SDP/DESCRIBE path see for each attached media source: an id, a
// dynamic payload type, a readiness gate on out-of-band parameter sets, an
// SDP fragment producer and an RTP-packet producer. Grounded on
// ssungk-sol/pkg/rtsp/stream.go's per-stream bookkeeping, generalized per
// the Track->Sink redesign note: a Track holds a narrow Sink capability,
// never a back-reference to the Server.
package track

import (
	"fmt"
	"sync"

	"solrtsp/internal/rtspserver/codecs"
	"solrtsp/internal/rtspserver/sdp"
)

// ID identifies a track's role. A session only ever carries one video and
// one audio track, so these two values are the whole range.
type ID int

const (
	Video ID = 0
	Audio ID = 1
)

// Codec names the payload format a track carries.
type Codec string

const (
	H264 Codec = "H264"
	H265 Codec = "H265"
	AAC  Codec = "AAC"
)

// Sink is the narrow capability a Track forwards produced RTP packets to.
// Passed in at attach time (Server.AddVideoTrack/AddAudioTrack); a Track
// never reaches back into the Server itself.
type Sink interface {
	FeedRTP(trackID ID, packets [][]byte)
}

// Track is a single media source: video (H.264/H.265) or audio (AAC).
// PayloadType defaults to 96+id, the first dynamic RTP payload type
// slot, and is fixed at construction.
type Track struct {
	id          ID
	codec       Codec
	payloadType uint8
	sink        Sink

	mu     sync.RWMutex
	ready  bool
	h264   sdp.H264Params
	h265   sdp.H265Params
	aac    sdp.AACParams
}

// NewH264Track builds an unready video track carrying H.264.
func NewH264Track(sink Sink) *Track {
	return &Track{id: Video, codec: H264, payloadType: 96 + uint8(Video), sink: sink}
}

// NewH265Track builds an unready video track carrying H.265.
func NewH265Track(sink Sink) *Track {
	return &Track{id: Video, codec: H265, payloadType: 96 + uint8(Video), sink: sink}
}

// NewAACTrack builds an unready audio track. sampleRate/channels go
// straight into the rtpmap line; the AAC config bytes arrive later via
// SetAACConfig.
func NewAACTrack(sink Sink, sampleRate, channels int) *Track {
	return &Track{
		id:          Audio,
		codec:       AAC,
		payloadType: 96 + uint8(Audio),
		sink:        sink,
		aac:         sdp.AACParams{SampleRate: sampleRate, Channels: channels},
	}
}

func (t *Track) ID() ID             { return t.id }
func (t *Track) Codec() Codec       { return t.codec }
func (t *Track) PayloadType() uint8 { return t.payloadType }

// IsReady reports whether this track's out-of-band parameter sets have
// been supplied. DESCRIBE refuses to build SDP for a track that isn't.
func (t *Track) IsReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// SetH264Params supplies SPS/PPS and marks the track ready. No-op (but
// safe) on a track not constructed with NewH264Track.
func (t *Track) SetH264Params(sps, pps []byte) {
	if t.codec != H264 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h264 = sdp.H264Params{SPS: sps, PPS: pps}
	t.ready = true
}

// SetH265Params supplies VPS/SPS/PPS and marks the track ready.
func (t *Track) SetH265Params(vps, sps, pps []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h265 = sdp.H265Params{VPS: vps, SPS: sps, PPS: pps}
	t.ready = true
}

// SetAACConfig supplies the MPEG-4 audio config bytes and marks the track
// ready.
func (t *Track) SetAACConfig(config []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aac.Config = config
	t.ready = true
}

// SDPFragment renders this track's m=/a= lines from its current parameter
// sets. Caller must have checked IsReady; an unready track renders
// whatever (possibly empty) parameter sets it has rather than panicking.
func (t *Track) SDPFragment() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	switch t.codec {
	case H264:
		return sdp.BuildH264Fragment(int(t.id), t.payloadType, t.h264)
	case H265:
		return sdp.BuildH265Fragment(int(t.id), t.payloadType, t.h265)
	case AAC:
		return sdp.BuildAACFragment(int(t.id), t.payloadType, t.aac)
	default:
		return ""
	}
}

// FeedNALUs packetizes one access unit's NAL units and hands the result to
// the Sink. Valid for H.264/H.265 video tracks only.
func (t *Track) FeedNALUs(timestamp uint32, nalus [][]byte) error {
	var pkts [][]byte
	var err error

	switch t.codec {
	case H264:
		pkts, err = codecs.PacketizeH264(t.payloadType, timestamp, nalus, codecs.DefaultMTUPayload)
	case H265:
		pkts, err = codecs.PacketizeH265(t.payloadType, timestamp, nalus, codecs.DefaultMTUPayload)
	default:
		return fmt.Errorf("track: FeedNALUs called on non-video codec %s", t.codec)
	}
	if err != nil {
		return err
	}

	t.sink.FeedRTP(t.id, pkts)
	return nil
}

// FeedAU packetizes one AAC access unit and hands the result to the Sink.
// Valid for AAC audio tracks only.
func (t *Track) FeedAU(timestamp uint32, au []byte) error {
	if t.codec != AAC {
		return fmt.Errorf("track: FeedAU called on non-audio codec %s", t.codec)
	}

	pkts, err := codecs.PacketizeAAC(t.payloadType, timestamp, au)
	if err != nil {
		return err
	}

	t.sink.FeedRTP(t.id, pkts)
	return nil
}
