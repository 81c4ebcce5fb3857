// Package demux is a stand-in for the external MP4 demultiplexer and
// scheduling timer the RTSP core deliberately stays out of: the core
// only exposes Feed* calls and leaves it to the caller to drive them.
// It loops a tiny bundled H.264/AAC
// fixture on a time.Ticker, the way ssungk-sol/internal/sol/server.go
// drives its own ticker-paced loop, so the cmd/solrtsp binary has
// something to stream without the core importing a real demuxer.
package demux

import (
	"context"
	"log/slog"
	"time"
)

// Feeder is the subset of rtspserver.Server a Stub needs: the two
// producer-facing entry points the core exposes for access units.
type Feeder interface {
	FeedVideo(timestamp uint32, nalus [][]byte) error
	FeedAudio(timestamp uint32, au []byte) error
}

// clockRate is the RTP clock rate assumed for both video and audio
// timestamps in the fixture; a real demuxer would derive this from the
// stream's actual sample rate.
const clockRate = 90000

// Stub feeds a tiny looped fixture to a Feeder at a fixed frame rate.
// Audio feeding is skipped entirely when no AAC config was supplied to
// NewStub, matching a video-only deployment.
type Stub struct {
	feeder     Feeder
	fps        int
	videoAU    [][]byte
	audioAU    [][]byte
	feedsAudio bool
}

// NewStub builds a Stub that feeds fps access units per second. sps/pps
// are sent once at the start of every loop so a client that SETUPs
// mid-stream also receives the parameter sets in-band, not only through
// DESCRIBE's SDP. A nil or empty aacConfig disables audio feeding.
func NewStub(feeder Feeder, fps int, sps, pps []byte, aacConfig []byte) *Stub {
	return &Stub{
		feeder: feeder,
		fps:    fps,
		videoAU: [][]byte{
			sps,
			pps,
			fixtureIDRFrame(),
		},
		audioAU:    [][]byte{fixtureAACFrame()},
		feedsAudio: len(aacConfig) > 0,
	}
}

// Run feeds the fixture on a loop until ctx is canceled.
func (s *Stub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	var videoTimestamp, audioTimestamp uint32
	videoStep := uint32(clockRate / s.fps)
	audioStep := uint32(clockRate / s.fps)

	frameIdx := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nalus := [][]byte{s.videoAU[frameIdx%len(s.videoAU)]}
			if err := s.feeder.FeedVideo(videoTimestamp, nalus); err != nil {
				slog.Warn("demux stub: feed video failed", "err", err)
			}
			if s.feedsAudio {
				if err := s.feeder.FeedAudio(audioTimestamp, s.audioAU[0]); err != nil {
					slog.Warn("demux stub: feed audio failed", "err", err)
				}
				audioTimestamp += audioStep
			}
			videoTimestamp += videoStep
			frameIdx++
		}
	}
}

// fixtureIDRFrame returns a minimal, syntactically-shaped but
// content-free H.264 IDR slice NALU (type 5), enough to exercise
// packetization without carrying real video.
func fixtureIDRFrame() []byte {
	return []byte{0x65, 0x88, 0x84, 0x00, 0x10, 0xFF, 0xFE}
}

// fixtureAACFrame returns a minimal raw AAC access unit, content-free,
// enough to exercise the AU-header framing path.
func fixtureAACFrame() []byte {
	return []byte{0x21, 0x10, 0x04, 0x60, 0x8C, 0x1C}
}
