// Package rtspsession implements the per-connection RTSP dialog engine:
// request parsing, the Init->Ready->Playing state machine, transport
// negotiation and the per-stream sequence/SSRC bookkeeping that
// server.go's feed fan-out patches on every delivered packet. Grounded on
// ssungk-sol/pkg/rtsp/session.go's per-connection goroutine/context shape,
// with the interleaved-vs-request byte peek adapted from
// other_examples/ssungk-SOL__session.go's handleInterleavedData.
package rtspsession

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"solrtsp/internal/rtspserver/auth"
	"solrtsp/internal/rtspserver/sdp"
	"solrtsp/internal/rtspserver/track"
	"solrtsp/internal/rtspserver/transport"
	"solrtsp/internal/rtspserver/wire"
)

// State is the per-connection RTSP dialog state.
type State int

const (
	StateInit State = iota
	StateReady
	StatePlaying
	StateTeardown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateReady:
		return "Ready"
	case StatePlaying:
		return "Playing"
	case StateTeardown:
		return "Teardown"
	default:
		return "Unknown"
	}
}

// Host is the capability set a Session needs from the owning Server,
// passed at construction so Session never imports the server package
// (the same narrowed-capability pattern Track uses for its Sink
// back-reference, applied symmetrically to Session->Server).
type Host interface {
	VideoTrack() *track.Track
	AudioTrack() *track.Track
	Authenticator() auth.Authenticator
	SessionName() string
	NextSessionID() string
	SSRCSeed() uint32
	Register(conn Connection)
	Unregister(sessionID string)
	Events() chan<- Event
}

// Connection is the view of a Session the registry and Host need.
type Connection interface {
	SessionID() string
	LastKeepaliveAt() time.Time
	IsPlaying() bool
	Close() error
}

// streamState is the per-stream bookkeeping a Session tracks for one
// media track: RTP sequence number, packet/octet counters for the
// sender report, the must-send-rtcp flag and the attached transport.
type streamState struct {
	sequence     uint16
	packetCount  uint32
	octetCount   uint32
	mustSendRTCP bool
	transport    transport.Transport
}

// Session is one RTSP client connection.
type Session struct {
	conn      net.Conn
	rawReader *bufio.Reader
	msgReader *MessageReader
	msgWriter *MessageWriter
	writeMu   sync.Mutex

	host Host
	ssrc uint32

	// correlationID is a UUIDv4 generated once per connection for log
	// correlation; distinct from sessionID, the small decimal value
	// sent on the wire in the Session header.
	correlationID string

	mu            sync.RWMutex
	sessionID     string
	state         State
	lastKeepalive time.Time
	video         streamState
	audio         streamState

	done chan struct{}
}

// NewSession builds a Session around an accepted connection. The session
// id stays empty until the first successful SETUP assigns one.
func NewSession(conn net.Conn, host Host) *Session {
	rawReader := bufio.NewReader(conn)
	s := &Session{
		conn:          conn,
		rawReader:     rawReader,
		msgReader:     NewMessageReader(rawReader),
		host:          host,
		ssrc:          host.SSRCSeed() ^ randomUint32(),
		correlationID: uuid.NewString(),
		state:         StateInit,
		lastKeepalive: time.Now(),
		video:         streamState{sequence: 1},
		audio:         streamState{sequence: 1},
		done:          make(chan struct{}),
	}
	s.msgWriter = NewMessageWriter(conn, &s.writeMu)
	return s
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

// Start runs the request-handling loop in its own goroutine.
func (s *Session) Start() {
	slog.Info("rtsp session started", "remoteAddr", s.conn.RemoteAddr(), "correlationId", s.correlationID)
	go s.handleRequests()
}

func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// ShortID returns the UUIDv4 generated for this connection at accept
// time, used to correlate log lines across a session's lifetime before
// SETUP has assigned a wire session id.
func (s *Session) ShortID() string {
	return s.correlationID
}

func (s *Session) LastKeepaliveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastKeepalive
}

func (s *Session) IsPlaying() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StatePlaying
}

// Close tears the session down: closes the socket and any attached
// transports. Safe to call more than once.
func (s *Session) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}

	s.mu.Lock()
	s.state = StateTeardown
	if s.video.transport != nil {
		s.video.transport.Close()
	}
	if s.audio.transport != nil {
		s.audio.transport.Close()
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	if sessionID != "" {
		s.host.Unregister(sessionID)
		s.emitEvent(EventTornDown)
	}
	return s.conn.Close()
}

// emitEvent sends a lifecycle notification on the host's events channel
// without blocking; a host that isn't reading (or a full channel) just
// drops the notification rather than stall the dialog.
func (s *Session) emitEvent(kind EventKind) {
	events := s.host.Events()
	if events == nil {
		return
	}
	s.mu.RLock()
	sessionID := s.sessionID
	s.mu.RUnlock()
	select {
	case events <- Event{SessionID: sessionID, Kind: kind}:
	default:
	}
}

func (s *Session) touchKeepalive() {
	s.mu.Lock()
	s.lastKeepalive = time.Now()
	s.mu.Unlock()
}

func (s *Session) remoteIP() string {
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		return s.conn.RemoteAddr().String()
	}
	return host
}

// handleRequests is the per-connection receive loop. Every byte on the
// wire is either the start of an RTSP request or, for a SETUP'd TCP
// interleaved stream, a '$' framed RTP/RTCP packet arriving from the
// peer; the first byte distinguishes the two without a second socket.
func (s *Session) handleRequests() {
	defer s.Close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		peek, err := s.rawReader.Peek(1)
		if err != nil {
			return
		}

		if peek[0] == '$' {
			if err := s.readInterleavedFrame(); err != nil {
				slog.Debug("interleaved frame read failed", "err", err)
				return
			}
			continue
		}

		req, err := s.msgReader.ReadRequest()
		if err != nil {
			if err != io.EOF {
				slog.Debug("rtsp request read failed", "err", err)
			}
			return
		}

		s.touchKeepalive()
		slog.Debug("rtsp request", "method", req.Method, "uri", req.URI, "cseq", req.CSeq)

		if err := s.handleRequest(req); err != nil {
			if errors.Is(err, errAuthMismatch) {
				slog.Warn("rtsp authorization mismatch, tearing down connection", "method", req.Method)
			} else {
				slog.Error("rtsp request handling failed", "method", req.Method, "err", err)
			}
			return
		}
	}
}

// readInterleavedFrame consumes one '$'-framed RTP/RTCP packet arriving
// from the client (an RTCP receiver report, typically) and hands it to the
// control channel of every interleaved transport attached to this session.
// The frame's channel byte is not inspected.
func (s *Session) readInterleavedFrame() error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(s.rawReader, header); err != nil {
		return err
	}
	length := int(header[2])<<8 | int(header[3])

	payload := make([]byte, length)
	if _, err := io.ReadFull(s.rawReader, payload); err != nil {
		return err
	}

	s.mu.RLock()
	video, audio := s.video.transport, s.audio.transport
	s.mu.RUnlock()

	if ti, ok := video.(*transport.Interleaved); ok {
		ti.DeliverControl(payload)
	}
	if ti, ok := audio.(*transport.Interleaved); ok {
		ti.DeliverControl(payload)
	}
	return nil
}

func (s *Session) handleRequest(req *Request) error {
	switch s.checkAuth(req) {
	case authMissing:
		return s.sendUnauthorized(req.CSeq)
	case authMismatch:
		if err := s.sendUnauthorized(req.CSeq); err != nil {
			return err
		}
		return errAuthMismatch
	}

	switch req.Method {
	case MethodOptions:
		return s.handleOptions(req)
	case MethodDescribe:
		return s.handleDescribe(req)
	case MethodSetup:
		return s.handleSetup(req)
	case MethodPlay:
		return s.handlePlay(req)
	case MethodPause:
		return s.handlePause(req)
	case MethodGetParameter:
		return s.handleGetParameter(req)
	case MethodSetParameter:
		return s.handleSetParameter(req)
	case MethodTeardown:
		return s.handleTeardown(req)
	default:
		return s.sendError(req.CSeq, StatusMethodNotAllowed)
	}
}

// authOutcome distinguishes a missing Authorization header, which gets a
// 401 with the connection kept open for a retry, from a header that
// fails verification, which gets a 401 and then a teardown.
type authOutcome int

const (
	authOK authOutcome = iota
	authMissing
	authMismatch
)

var errAuthMismatch = errors.New("rtspsession: authorization mismatch")

func (s *Session) checkAuth(req *Request) authOutcome {
	authn := s.host.Authenticator()
	if authn == nil {
		return authOK
	}
	header := req.GetHeader(HeaderAuthorization)
	if header == "" {
		return authMissing
	}
	if authn.Verify(req.Method, req.URI, header) {
		return authOK
	}
	return authMismatch
}

func (s *Session) sendUnauthorized(cseq int) error {
	resp := NewResponse(StatusUnauthorized)
	resp.SetCSeq(cseq)
	resp.SetHeader(HeaderWWWAuthenticate, s.host.Authenticator().Challenge())
	return s.msgWriter.WriteResponse(resp)
}

func (s *Session) sendError(cseq, status int) error {
	resp := NewResponse(status)
	resp.SetCSeq(cseq)
	return s.msgWriter.WriteResponse(resp)
}

func (s *Session) handleOptions(req *Request) error {
	resp := NewResponse(StatusOK)
	resp.SetCSeq(req.CSeq)
	resp.SetHeader(HeaderPublic, "OPTIONS, DESCRIBE, SETUP, PLAY, PAUSE, GET_PARAMETER, SET_PARAMETER, TEARDOWN")
	return s.msgWriter.WriteResponse(resp)
}

func (s *Session) handleDescribe(req *Request) error {
	videoTrack := s.host.VideoTrack()
	audioTrack := s.host.AudioTrack()

	if videoTrack == nil || !videoTrack.IsReady() || (audioTrack != nil && !audioTrack.IsReady()) {
		return s.sendError(req.CSeq, StatusBadRequest)
	}

	fragments := []string{videoTrack.SDPFragment()}
	if audioTrack != nil {
		fragments = append(fragments, audioTrack.SDPFragment())
	}
	body := []byte(sdp.BuildSessionDescription(s.host.SessionName(), fragments))
	s.emitEvent(EventDescribed)

	resp := NewResponse(StatusOK)
	resp.SetCSeq(req.CSeq)
	resp.SetHeader(HeaderContentBase, req.URI)
	resp.SetHeader(HeaderContentType, "application/sdp")
	resp.SetHeader(HeaderContentLength, strconv.Itoa(len(body)))
	resp.Body = body
	return s.msgWriter.WriteResponse(resp)
}

func (s *Session) handleSetup(req *Request) error {
	transportHeader := req.GetHeader(HeaderTransport)
	if transportHeader == "" {
		return s.sendError(req.CSeq, StatusBadRequest)
	}
	// A Transport header may list several comma-separated options in
	// client preference order; only the first is chosen, per RFC 2326 §12.39.
	transportOption := strings.TrimSpace(strings.SplitN(transportHeader, ",", 2)[0])
	if strings.Contains(transportOption, "multicast") {
		return s.sendError(req.CSeq, StatusUnsupportedTransport)
	}

	trackID, ok := parseTrackID(req.URI)
	if !ok || (trackID != track.Video && trackID != track.Audio) {
		return s.sendError(req.CSeq, StatusNotFound)
	}
	if trackID == track.Audio && s.host.AudioTrack() == nil {
		return s.sendError(req.CSeq, StatusNotFound)
	}

	var tr transport.Transport
	var replyTransport string
	var setupErr error

	if strings.Contains(transportOption, "TCP") {
		dataCh, ctrlCh, ok := parseInterleavedChannels(transportOption)
		if !ok {
			dataCh, ctrlCh = defaultInterleavedChannels(trackID)
		}
		tr = transport.NewInterleaved(s.conn, &s.writeMu, dataCh, ctrlCh)
		replyTransport = fmt.Sprintf("%s;unicast;interleaved=%d-%d", TransportRTPTCP, dataCh, ctrlCh)
	} else {
		clientData, clientCtrl, ok := parseClientPort(transportOption)
		if !ok {
			return s.sendError(req.CSeq, StatusBadRequest)
		}
		udp, allocErr := transport.AllocateUDPPair(s.remoteIP(), clientData, clientCtrl)
		if allocErr != nil {
			setupErr = allocErr
		} else {
			tr = udp
			replyTransport = fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d;server_port=%d-%d",
				clientData, clientCtrl, udp.DataPort(), udp.ControlPort())
		}
	}
	if setupErr != nil {
		return s.sendError(req.CSeq, StatusInternalServerError)
	}
	replyTransport += fmt.Sprintf(";ssrc=%08x", s.ssrc)

	s.mu.Lock()
	if trackID == track.Video {
		s.video.transport = tr
	} else {
		s.audio.transport = tr
	}
	firstSetup := s.sessionID == ""
	if firstSetup {
		s.sessionID = s.host.NextSessionID()
	}
	s.state = StateReady
	sessionID := s.sessionID
	s.mu.Unlock()

	if firstSetup {
		s.host.Register(s)
	}

	resp := NewResponse(StatusOK)
	resp.SetCSeq(req.CSeq)
	resp.SetHeader(HeaderSession, fmt.Sprintf("%s;timeout=%d", sessionID, SessionTimeout))
	resp.SetHeader(HeaderTransport, replyTransport)
	return s.msgWriter.WriteResponse(resp)
}

func (s *Session) handlePlay(req *Request) error {
	if !s.matchesSession(req) {
		return s.sendError(req.CSeq, StatusSessionNotFound)
	}

	s.mu.Lock()
	s.state = StatePlaying
	if s.video.transport != nil {
		s.video.mustSendRTCP = true
	}
	if s.audio.transport != nil {
		s.audio.mustSendRTCP = true
	}
	videoSeq, hasVideo := s.video.sequence, s.video.transport != nil
	audioSeq, hasAudio := s.audio.sequence, s.audio.transport != nil
	sessionID := s.sessionID
	s.mu.Unlock()

	s.emitEvent(EventPlaying)

	var rtpInfo []string
	if hasVideo {
		rtpInfo = append(rtpInfo, fmt.Sprintf("url=%s;seq=%d", req.URI, videoSeq))
	}
	if hasAudio {
		rtpInfo = append(rtpInfo, fmt.Sprintf("url=%s;seq=%d", req.URI, audioSeq))
	}

	resp := NewResponse(StatusOK)
	resp.SetCSeq(req.CSeq)
	resp.SetHeader(HeaderSession, sessionID)
	resp.SetHeader(HeaderRange, "npt=0-")
	if len(rtpInfo) > 0 {
		resp.SetHeader(HeaderRTPInfo, strings.Join(rtpInfo, ","))
	}
	return s.msgWriter.WriteResponse(resp)
}

func (s *Session) handlePause(req *Request) error {
	if !s.matchesSession(req) {
		return s.sendError(req.CSeq, StatusSessionNotFound)
	}
	s.mu.Lock()
	s.state = StateReady
	sessionID := s.sessionID
	s.mu.Unlock()

	s.emitEvent(EventPaused)

	resp := NewResponse(StatusOK)
	resp.SetCSeq(req.CSeq)
	resp.SetHeader(HeaderSession, sessionID)
	return s.msgWriter.WriteResponse(resp)
}

func (s *Session) handleGetParameter(req *Request) error {
	if !s.matchesSession(req) {
		return s.sendError(req.CSeq, StatusSessionNotFound)
	}
	resp := NewResponse(StatusOK)
	resp.SetCSeq(req.CSeq)
	return s.msgWriter.WriteResponse(resp)
}

func (s *Session) handleSetParameter(req *Request) error {
	if !s.matchesSession(req) {
		return s.sendError(req.CSeq, StatusSessionNotFound)
	}
	resp := NewResponse(StatusOK)
	resp.SetCSeq(req.CSeq)
	return s.msgWriter.WriteResponse(resp)
}

func (s *Session) handleTeardown(req *Request) error {
	if !s.matchesSession(req) {
		return s.sendError(req.CSeq, StatusSessionNotFound)
	}

	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	resp := NewResponse(StatusOK)
	resp.SetCSeq(req.CSeq)
	resp.SetHeader(HeaderSession, sessionID)
	if err := s.msgWriter.WriteResponse(resp); err != nil {
		return err
	}

	go s.Close()
	return nil
}

// matchesSession reports whether req carries a Session id that resolves
// to this connection. A request with no Session header is treated
// leniently (some clients omit it on GET_PARAMETER) as long as SETUP has
// already assigned one.
func (s *Session) matchesSession(req *Request) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sessionID == "" {
		return false
	}
	header := req.GetHeader(HeaderSession)
	if header == "" {
		return true
	}
	id := strings.SplitN(header, ";", 2)[0]
	return id == s.sessionID
}

// DeliverRTP patches sequence number and SSRC into each already-built
// packet and writes it out this connection's transport for trackID.
// The fan-out in server.go calls it for one connection after another on a
// single goroutine, so in-place patching of the shared packet buffers
// never overlaps between connections. Returns the first transport error
// encountered, if any.
func (s *Session) DeliverRTP(trackID track.ID, packets [][]byte) error {
	s.mu.Lock()
	var state *streamState
	if trackID == track.Video {
		state = &s.video
	} else {
		state = &s.audio
	}

	if s.state != StatePlaying || state.transport == nil || len(packets) == 0 {
		s.mu.Unlock()
		return nil
	}

	tr := state.transport
	if state.mustSendRTCP {
		ts := wire.Timestamp(packets[0])
		sr, err := wire.BuildSenderReport(s.ssrc, wire.NTPTime(time.Now()), ts, state.packetCount, state.octetCount)
		state.mustSendRTCP = false
		if err == nil {
			tr.WriteControl(sr)
		}
	}

	var firstErr error
	for _, pkt := range packets {
		wire.PatchSequence(pkt, state.sequence)
		wire.PatchSSRC(pkt, s.ssrc)
		state.sequence++
		state.packetCount++
		if len(pkt) > wire.HeaderSize {
			state.octetCount += uint32(len(pkt) - wire.HeaderSize)
		}
		if firstErr == nil {
			if err := tr.WriteData(pkt); err != nil {
				firstErr = err
			}
		}
	}
	s.mu.Unlock()
	return firstErr
}

func parseTrackID(uri string) (track.ID, bool) {
	idx := strings.LastIndex(uri, "trackID=")
	if idx == -1 {
		return 0, false
	}
	digits := uri[idx+len("trackID="):]
	for i, r := range digits {
		if r < '0' || r > '9' {
			digits = digits[:i]
			break
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return track.ID(n), true
}

func parseClientPort(transportHeader string) (data, control int, ok bool) {
	for _, part := range strings.Split(transportHeader, ";") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "client_port=") {
			continue
		}
		ports := strings.Split(strings.TrimPrefix(part, "client_port="), "-")
		if len(ports) != 2 {
			return 0, 0, false
		}
		d, err1 := strconv.Atoi(ports[0])
		c, err2 := strconv.Atoi(ports[1])
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return d, c, true
	}
	return 0, 0, false
}

func parseInterleavedChannels(transportHeader string) (data, control int, ok bool) {
	for _, part := range strings.Split(transportHeader, ";") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "interleaved=") {
			continue
		}
		chans := strings.Split(strings.TrimPrefix(part, "interleaved="), "-")
		if len(chans) != 2 {
			return 0, 0, false
		}
		d, err1 := strconv.Atoi(chans[0])
		c, err2 := strconv.Atoi(chans[1])
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return d, c, true
	}
	return 0, 0, false
}

func defaultInterleavedChannels(id track.ID) (data, control int) {
	if id == track.Video {
		return 0, 1
	}
	return 2, 3
}
