// Package rtspserver wires the wire/codecs/sdp/track/auth/transport/
// rtspsession packages into the producer-facing Server: one TCP listener,
// one connection registry, a video and an optional audio track, and the
// feed_video/feed_audio broadcast sink. Grounded on ssungk-sol's
// internal/sol/server.go accept-loop/event-loop shape and
// pkg/rtsp/server.go's listener lifecycle.
package rtspserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"solrtsp/internal/rtspserver/auth"
	"solrtsp/internal/rtspserver/rtspsession"
	"solrtsp/internal/rtspserver/track"
)

// Credentials configures optional RTSP authentication. A nil *Credentials
// on Options leaves the server unauthenticated.
type Credentials struct {
	User string
	Pass string
	// Digest selects Digest auth over Basic. Exactly one scheme is active:
	// with Digest set, a Basic Authorization header is rejected.
	Digest bool
}

// Options configures a Server at construction.
type Options struct {
	Port        int
	SessionName string
	SSRCSeed    uint32
	Credentials *Credentials
}

// rtpSink is the narrow view Server needs of a registered connection to
// fan an access unit's RTP packets out to it.
type rtpSink interface {
	Connection
	DeliverRTP(trackID track.ID, packets [][]byte) error
}

// Server owns the TCP listener, the connection registry and the two
// media tracks. It implements track.Sink so a Track's FeedNALUs/FeedAU
// call lands here without holding a reference back to Server itself.
type Server struct {
	opts Options

	registry *Registry
	video    *track.Track
	audio    *track.Track
	authn    auth.Authenticator

	sessionCounter uint64

	mu       sync.Mutex
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	events chan rtspsession.Event

	deliverersPool sync.Pool
}

// NewServer builds a Server. Tracks must be attached with AddVideoTrack/
// AddAudioTrack before StartListen, since DESCRIBE/SETUP need them
// present the moment the listener starts accepting connections.
func NewServer(opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	var authn auth.Authenticator
	if opts.Credentials != nil {
		if opts.Credentials.Digest {
			authn = auth.NewDigest(opts.Credentials.User, opts.Credentials.Pass)
		} else {
			authn = auth.NewBasic(opts.Credentials.User, opts.Credentials.Pass)
		}
	}

	s := &Server{
		opts:     opts,
		registry: NewRegistry(),
		authn:    authn,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan rtspsession.Event, 10),
	}
	s.deliverersPool.New = func() any { return make([]rtpSink, 0, 8) }
	return s
}

// AddVideoTrack attaches a video track of the given codec (H264 or H265).
// Must be called before StartListen.
func (s *Server) AddVideoTrack(codec track.Codec) (*track.Track, error) {
	switch codec {
	case track.H264:
		s.video = track.NewH264Track(s)
	case track.H265:
		s.video = track.NewH265Track(s)
	default:
		return nil, fmt.Errorf("rtspserver: unsupported video codec %s", codec)
	}
	return s.video, nil
}

// AddAudioTrack attaches an AAC audio track. Must be called before
// StartListen.
func (s *Server) AddAudioTrack(sampleRate, channels int) *track.Track {
	s.audio = track.NewAACTrack(s, sampleRate, channels)
	return s.audio
}

// VideoTrack, AudioTrack, Authenticator, SessionName and SSRCSeed satisfy
// rtspsession.Host.
func (s *Server) VideoTrack() *track.Track          { return s.video }
func (s *Server) AudioTrack() *track.Track          { return s.audio }
func (s *Server) Authenticator() auth.Authenticator { return s.authn }
func (s *Server) SessionName() string               { return s.opts.SessionName }
func (s *Server) SSRCSeed() uint32                  { return s.opts.SSRCSeed }

// NextSessionID allocates a fresh, monotonic, process-wide decimal
// session id for the Session header SETUP returns.
func (s *Server) NextSessionID() string {
	return fmt.Sprintf("%d", atomic.AddUint64(&s.sessionCounter, 1))
}

// Register and Unregister satisfy rtspsession.Host, forwarding straight
// to the registry.
func (s *Server) Register(conn rtspsession.Connection) {
	s.registry.Add(conn.(Connection))
}

func (s *Server) Unregister(sessionID string) {
	s.registry.Remove(sessionID)
}

// Events satisfies rtspsession.Host, handing each Session the channel
// eventLoop drains.
func (s *Server) Events() chan<- rtspsession.Event { return s.events }

// eventLoop logs session lifecycle notifications until StopListen cancels
// the server's context.
func (s *Server) eventLoop() {
	for {
		select {
		case evt := <-s.events:
			slog.Debug("rtsp session event", "sessionId", evt.SessionID, "kind", evt.Kind.String())
		case <-s.ctx.Done():
			return
		}
	}
}

// StartListen binds the TCP listener and begins accepting connections.
func (s *Server) StartListen() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("rtspserver: listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go s.acceptLoop(ln)
	go s.eventLoop()
	slog.Info("rtsp server listening", "port", s.opts.Port)
	return nil
}

// StopListen cancels the accept loop, closes the listener and disposes
// every connection in the registry. A connection that has not completed a
// SETUP is not in the registry and is not closed here.
func (s *Server) StopListen() {
	s.cancel()

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	for _, conn := range s.registry.Snapshot() {
		conn.Close()
	}
	slog.Info("rtsp server stopped")
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				slog.Error("rtsp accept failed", "err", err)
				continue
			}
		}
		session := rtspsession.NewSession(conn, s)
		session.Start()
	}
}

// FeedVideo packetizes one access unit's NAL units and fans the result
// out to every PLAYing connection with a video transport attached.
func (s *Server) FeedVideo(timestamp uint32, nalus [][]byte) error {
	if s.video == nil {
		return fmt.Errorf("rtspserver: no video track attached")
	}
	return s.video.FeedNALUs(timestamp, nalus)
}

// FeedAudio packetizes one AAC access unit and fans the result out to
// every PLAYing connection with an audio transport attached.
func (s *Server) FeedAudio(timestamp uint32, au []byte) error {
	if s.audio == nil {
		return fmt.Errorf("rtspserver: no audio track attached")
	}
	return s.audio.FeedAU(timestamp, au)
}

// FeedRTP implements track.Sink: called by a Track once it has
// packetized an access unit. It delivers to the connections of a registry
// snapshot one after another, so the in-place sequence/SSRC patch of the
// shared packets is done for one connection at a time; the registry lock
// is not held during delivery.
func (s *Server) FeedRTP(trackID track.ID, packets [][]byte) {
	conns := s.registry.Snapshot()

	deliverers := s.deliverersPool.Get().([]rtpSink)[:0]
	for _, c := range conns {
		if d, ok := c.(rtpSink); ok {
			deliverers = append(deliverers, d)
		}
	}

	for _, d := range deliverers {
		if err := d.DeliverRTP(trackID, packets); err != nil {
			slog.Warn("rtp delivery failed, removing connection", "sessionId", d.SessionID(), "err", err)
			s.registry.Remove(d.SessionID())
			d.Close()
		}
	}

	s.deliverersPool.Put(deliverers)
}

// CheckTimeouts sweeps stale connections and reports the post-sweep
// connection/playing counts.
func (s *Server) CheckTimeouts() (total, playing int) {
	return s.registry.CheckTimeouts()
}
