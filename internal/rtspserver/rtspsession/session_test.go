package rtspsession

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"solrtsp/internal/rtspserver/auth"
	"solrtsp/internal/rtspserver/track"
)

type fakeHost struct {
	video        *track.Track
	audio        *track.Track
	authn        auth.Authenticator
	nextID       int
	registered   []Connection
	unregistered []string
	events       chan Event
}

func (h *fakeHost) VideoTrack() *track.Track          { return h.video }
func (h *fakeHost) AudioTrack() *track.Track          { return h.audio }
func (h *fakeHost) Authenticator() auth.Authenticator { return h.authn }
func (h *fakeHost) SessionName() string               { return "solrtsp" }
func (h *fakeHost) SSRCSeed() uint32                   { return 0x1000 }
func (h *fakeHost) NextSessionID() string {
	h.nextID++
	return fmt.Sprintf("%d", h.nextID)
}
func (h *fakeHost) Register(c Connection) { h.registered = append(h.registered, c) }
func (h *fakeHost) Unregister(id string)  { h.unregistered = append(h.unregistered, id) }
func (h *fakeHost) Events() chan<- Event {
	if h.events == nil {
		h.events = make(chan Event, 10)
	}
	return h.events
}

type noopSink struct{}

func (noopSink) FeedRTP(track.ID, [][]byte) {}

func newTestSession(t *testing.T, host *fakeHost) (*Session, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	s := NewSession(serverConn, host)
	s.Start()
	t.Cleanup(func() { s.Close(); clientConn.Close() })
	return s, clientConn
}

func sendAndRead(t *testing.T, clientConn net.Conn, reader *bufio.Reader, req string) []string {
	t.Helper()
	_, err := clientConn.Write([]byte(req))
	require.NoError(t, err)

	var lines []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		lines = append(lines, trimmed)
	}
	return lines
}

func TestOptionsUnauthenticated(t *testing.T) {
	host := &fakeHost{}
	_, clientConn := newTestSession(t, host)
	reader := bufio.NewReader(clientConn)

	lines := sendAndRead(t, clientConn, reader, "OPTIONS rtsp://h/ RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	require.Equal(t, "RTSP/1.0 200 OK", lines[0])
}

func TestDescribeBeforeParameterSetsReturns400(t *testing.T) {
	host := &fakeHost{video: track.NewH264Track(noopSink{})}
	_, clientConn := newTestSession(t, host)
	reader := bufio.NewReader(clientConn)

	lines := sendAndRead(t, clientConn, reader, "DESCRIBE rtsp://h/stream RTSP/1.0\r\nCSeq: 2\r\n\r\n")
	require.Equal(t, "RTSP/1.0 400 Bad Request", lines[0])
}

func TestSetupTCPThenPlay(t *testing.T) {
	videoTrack := track.NewH264Track(noopSink{})
	videoTrack.SetH264Params([]byte{0x67}, []byte{0x68})
	host := &fakeHost{video: videoTrack}
	_, clientConn := newTestSession(t, host)
	reader := bufio.NewReader(clientConn)

	setupReq := "SETUP rtsp://h/stream/trackID=0 RTSP/1.0\r\nCSeq: 3\r\n" +
		"Transport: RTP/AVP/TCP;unicast;interleaved=0-1\r\n\r\n"
	lines := sendAndRead(t, clientConn, reader, setupReq)
	require.Equal(t, "RTSP/1.0 200 OK", lines[0])

	var sessionHeader, transportHeader string
	for _, l := range lines {
		if strings.HasPrefix(l, "Session:") {
			sessionHeader = l
		}
		if strings.HasPrefix(l, "Transport:") {
			transportHeader = l
		}
	}
	require.Contains(t, sessionHeader, "1;timeout=60")
	require.Contains(t, transportHeader, "RTP/AVP/TCP;unicast;interleaved=0-1")
	require.Contains(t, transportHeader, "ssrc=")

	playReq := "PLAY rtsp://h/stream RTSP/1.0\r\nCSeq: 4\r\nSession: 1\r\n\r\n"
	lines = sendAndRead(t, clientConn, reader, playReq)
	require.Equal(t, "RTSP/1.0 200 OK", lines[0])

	var hasRange bool
	for _, l := range lines {
		if strings.HasPrefix(l, "Range: npt=0-") {
			hasRange = true
		}
	}
	require.True(t, hasRange)

	select {
	case evt := <-host.events:
		require.Equal(t, EventPlaying, evt.Kind)
	default:
		t.Fatal("expected a PLAY lifecycle event on the host's events channel")
	}
}

func TestSetupPicksFirstTransportOptionOnly(t *testing.T) {
	videoTrack := track.NewH264Track(noopSink{})
	host := &fakeHost{video: videoTrack}
	_, clientConn := newTestSession(t, host)
	reader := bufio.NewReader(clientConn)

	// Two comma-separated options; only the first's interleaved channels
	// should be honored, never the second's.
	setupReq := "SETUP rtsp://h/stream/trackID=0 RTSP/1.0\r\nCSeq: 3\r\n" +
		"Transport: RTP/AVP/TCP;unicast;interleaved=4-5,RTP/AVP/TCP;unicast;interleaved=0-1\r\n\r\n"
	lines := sendAndRead(t, clientConn, reader, setupReq)
	require.Equal(t, "RTSP/1.0 200 OK", lines[0])

	var transportHeader string
	for _, l := range lines {
		if strings.HasPrefix(l, "Transport:") {
			transportHeader = l
		}
	}
	require.Contains(t, transportHeader, "interleaved=4-5")
	require.NotContains(t, transportHeader, "interleaved=0-1")
}

func TestUnknownSessionRejected(t *testing.T) {
	host := &fakeHost{video: track.NewH264Track(noopSink{})}
	_, clientConn := newTestSession(t, host)
	reader := bufio.NewReader(clientConn)

	lines := sendAndRead(t, clientConn, reader, "PLAY rtsp://h/stream RTSP/1.0\r\nCSeq: 5\r\nSession: 999\r\n\r\n")
	require.Equal(t, "RTSP/1.0 454 Session Not Found", lines[0])
}

func TestUnauthorizedWithoutCredentials(t *testing.T) {
	host := &fakeHost{video: track.NewH264Track(noopSink{}), authn: auth.NewBasic("admin", "secret")}
	_, clientConn := newTestSession(t, host)
	reader := bufio.NewReader(clientConn)

	lines := sendAndRead(t, clientConn, reader, "OPTIONS rtsp://h/ RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	require.Equal(t, "RTSP/1.0 401 Unauthorized", lines[0])
}

func TestWrongCredentialsSends401AndTearsDownConnection(t *testing.T) {
	host := &fakeHost{video: track.NewH264Track(noopSink{}), authn: auth.NewBasic("admin", "secret")}
	_, clientConn := newTestSession(t, host)
	reader := bufio.NewReader(clientConn)

	badAuth := base64.StdEncoding.EncodeToString([]byte("admin:wrong"))
	req := fmt.Sprintf("OPTIONS rtsp://h/ RTSP/1.0\r\nCSeq: 1\r\nAuthorization: Basic %s\r\n\r\n", badAuth)
	lines := sendAndRead(t, clientConn, reader, req)
	require.Equal(t, "RTSP/1.0 401 Unauthorized", lines[0])

	// The server tears the connection down after a failed verify, unlike
	// the missing-header case which keeps it open for a retry.
	_, err := clientConn.Write([]byte("OPTIONS rtsp://h/ RTSP/1.0\r\nCSeq: 2\r\n\r\n"))
	if err == nil {
		_, err = reader.ReadByte()
	}
	require.Error(t, err, "connection should be closed after an authorization mismatch")
}

func TestShortIDIsUniquePerSession(t *testing.T) {
	host := &fakeHost{video: track.NewH264Track(noopSink{})}
	s1, c1 := newTestSession(t, host)
	s2, c2 := newTestSession(t, host)
	defer c1.Close()
	defer c2.Close()

	require.NotEmpty(t, s1.ShortID())
	require.NotEqual(t, s1.ShortID(), s2.ShortID())
}

func TestParseTrackID(t *testing.T) {
	id, ok := parseTrackID("rtsp://host/stream/trackID=1")
	require.True(t, ok)
	require.Equal(t, track.Audio, id)

	_, ok = parseTrackID("rtsp://host/stream")
	require.False(t, ok)
}
