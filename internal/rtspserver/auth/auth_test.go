package auth

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasicChallengeAndVerify(t *testing.T) {
	b := NewBasic("admin", "secret")
	require.Contains(t, b.Challenge(), `Basic realm="SharpRTSPServer"`)

	good := "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	require.True(t, b.Verify("DESCRIBE", "rtsp://h/", good))

	bad := "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:wrong"))
	require.False(t, b.Verify("DESCRIBE", "rtsp://h/", bad))
}

func TestDigestChallengeCarriesNineDigitNonce(t *testing.T) {
	d := NewDigest("admin", "secret")
	challenge := d.Challenge()
	require.Contains(t, challenge, "SharpRTSPServer")
	require.Len(t, d.nonce, 9)
}

func TestDigestVerifyAcceptsCorrectResponse(t *testing.T) {
	d := NewDigest("admin", "secret")
	method := "DESCRIBE"
	uri := "rtsp://host/stream"

	ha1 := md5hex("admin:SharpRTSPServer:secret")
	ha2 := md5hex(method + ":" + uri)
	response := md5hex(ha1 + ":" + d.nonce + ":" + ha2)

	header := fmt.Sprintf(`Digest username="admin", realm="SharpRTSPServer", nonce="%s", uri="%s", response="%s"`,
		d.nonce, uri, response)

	require.True(t, d.Verify(method, uri, header))
}

func TestDigestVerifyRejectsWrongNonce(t *testing.T) {
	d := NewDigest("admin", "secret")
	header := fmt.Sprintf(`Digest username="admin", realm="SharpRTSPServer", nonce="%s", uri="%s", response="%s"`,
		"000000001", "rtsp://h/", "deadbeef")
	require.False(t, d.Verify("DESCRIBE", "rtsp://h/", header))
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
