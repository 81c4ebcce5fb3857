package rtspserver

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"solrtsp/internal/rtspserver/track"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestAddVideoTrackRejectsUnsupportedCodec(t *testing.T) {
	s := NewServer(Options{Port: freePort(t)})
	_, err := s.AddVideoTrack(track.Codec("mpeg2"))
	require.Error(t, err)
}

func TestNextSessionIDIsMonotonic(t *testing.T) {
	s := NewServer(Options{Port: freePort(t)})
	first := s.NextSessionID()
	second := s.NextSessionID()
	require.Equal(t, "1", first)
	require.Equal(t, "2", second)
}

func TestFeedVideoWithoutTrackFails(t *testing.T) {
	s := NewServer(Options{Port: freePort(t)})
	err := s.FeedVideo(0, [][]byte{{0x67}})
	require.Error(t, err)
}

func TestFeedVideoBeforeParametersAreSetDoesNotFail(t *testing.T) {
	s := NewServer(Options{Port: freePort(t)})
	_, err := s.AddVideoTrack(track.H264)
	require.NoError(t, err)

	err = s.FeedVideo(1000, [][]byte{{0x05, 0xAA}})
	require.NoError(t, err, "readiness gates DESCRIBE, not the feed path")
}

// TestStartListenAcceptsDescribeEndToEnd exercises the accept loop and
// DESCRIBE over a real TCP socket: a single client describing the stream.
func TestStartListenAcceptsDescribeEndToEnd(t *testing.T) {
	port := freePort(t)
	s := NewServer(Options{Port: port, SessionName: "solrtsp live"})
	videoTrack, err := s.AddVideoTrack(track.H264)
	require.NoError(t, err)
	videoTrack.SetH264Params([]byte{0x67, 0x42}, []byte{0x68, 0xCE})

	require.NoError(t, s.StartListen())
	defer s.StopListen()

	var conn net.Conn
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)

	_, err = conn.Write([]byte("DESCRIBE rtsp://127.0.0.1/live RTSP/1.0\r\nCSeq: 1\r\n\r\n"))
	require.NoError(t, err)

	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, statusLine, "200 OK")

	var contentLength int
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		if strings.HasPrefix(trimmed, "Content-Length:") {
			fmt.Sscanf(trimmed, "Content-Length: %d", &contentLength)
		}
	}
	require.Greater(t, contentLength, 0)

	body := make([]byte, contentLength)
	_, err = readFull(reader, body)
	require.NoError(t, err)
	require.Contains(t, string(body), "m=video")
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestFeedRTPFansOutAndDropsFailingConnections(t *testing.T) {
	s := NewServer(Options{Port: freePort(t)})
	_, err := s.AddVideoTrack(track.H264)
	require.NoError(t, err)

	good := &fakeRTPConn{id: "1"}
	bad := &fakeRTPConn{id: "2", failDeliver: true}
	s.registry.Add(good)
	s.registry.Add(bad)

	s.FeedRTP(track.Video, [][]byte{{0x80, 0x60, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xAB}})

	require.Equal(t, 1, good.delivered)
	_, stillThere := s.registry.Get("2")
	require.False(t, stillThere, "failing connection should be evicted from the registry")
}

type fakeRTPConn struct {
	id          string
	failDeliver bool
	delivered   int
}

func (f *fakeRTPConn) SessionID() string            { return f.id }
func (f *fakeRTPConn) LastKeepaliveAt() time.Time   { return time.Now() }
func (f *fakeRTPConn) IsPlaying() bool              { return true }
func (f *fakeRTPConn) Close() error                 { return nil }
func (f *fakeRTPConn) DeliverRTP(trackID track.ID, packets [][]byte) error {
	if f.failDeliver {
		return fmt.Errorf("write failed")
	}
	f.delivered++
	return nil
}
