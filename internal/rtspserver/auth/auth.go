// Package auth implements RTSP's HTTP-style Basic and Digest challenge/
// verify pair. Grounded on bluenviron-gortsplib/auth/server.go's md5Hex
// chaining and WWW-Authenticate generation. Per the source's
// Digest-inherits-Basic object graph redesign note, Basic and Digest are
// two independent implementations of Authenticator rather than one
// sharing state through embedding.
package auth

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// realm identifies this server in the WWW-Authenticate challenge; RTSP
// clients treat it as an opaque string, so a fixed value is fine.
const realm = "SharpRTSPServer"

// Authenticator challenges an unauthenticated client and verifies the
// Authorization header it sends back.
type Authenticator interface {
	Challenge() string
	Verify(method, uri, authHeader string) bool
}

// Basic implements RFC 2617 Basic authentication.
type Basic struct {
	user string
	pass string
}

// NewBasic builds a Basic authenticator for the given credentials.
func NewBasic(user, pass string) *Basic {
	return &Basic{user: user, pass: pass}
}

// Challenge renders the WWW-Authenticate header value for a 401 response.
func (b *Basic) Challenge() string {
	return fmt.Sprintf(`Basic realm="%s"`, realm)
}

// Verify checks an "Authorization: Basic <base64>" header.
func (b *Basic) Verify(method, uri, authHeader string) bool {
	const prefix = "Basic "
	if !strings.HasPrefix(authHeader, prefix) {
		return false
	}
	want := base64.StdEncoding.EncodeToString([]byte(b.user + ":" + b.pass))
	return authHeader[len(prefix):] == want
}

// Digest implements RFC 2617 Digest authentication (MD5, qop-less).
type Digest struct {
	user  string
	pass  string
	nonce string
}

// NewDigest builds a Digest authenticator with a fresh 9-digit decimal
// nonce (gortsplib uses a 16-byte hex nonce; a decimal one is easier to
// eyeball in a WWW-Authenticate header while debugging).
func NewDigest(user, pass string) *Digest {
	return &Digest{user: user, pass: pass, nonce: generateNonce()}
}

func generateNonce() string {
	max := big.NewInt(1_000_000_000) // 9 decimal digits
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// crypto/rand failing is unrecoverable; a zero nonce is safe
		// (still rejects stale Authorization headers from before restart).
		return "000000000"
	}
	return fmt.Sprintf("%09d", n.Int64())
}

// Challenge renders the WWW-Authenticate header value for a 401 response.
func (d *Digest) Challenge() string {
	return fmt.Sprintf(`Digest realm="%s", nonce="%s", algorithm=MD5`, realm, d.nonce)
}

// Verify checks an "Authorization: Digest ..." header against the nonce
// this Digest was constructed with (Challenge never changes it).
func (d *Digest) Verify(method, uri, authHeader string) bool {
	const prefix = "Digest "
	if !strings.HasPrefix(authHeader, prefix) {
		return false
	}
	fields := parseDigestFields(authHeader[len(prefix):])

	if fields["nonce"] != d.nonce {
		return false
	}
	if fields["realm"] != realm {
		return false
	}
	if fields["username"] != d.user {
		return false
	}
	if fields["uri"] != uri {
		return false
	}

	want := md5Hex(md5Hex(d.user+":"+realm+":"+d.pass) + ":" + d.nonce + ":" + md5Hex(method+":"+uri))
	return fields["response"] == want
}

func parseDigestFields(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = strings.Trim(kv[1], `"`)
	}
	return out
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
