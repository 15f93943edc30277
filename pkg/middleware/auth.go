package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"linkdrop/pkg/errutil"
	"linkdrop/pkg/invocation"
	"linkdrop/pkg/keys"

	"github.com/gin-gonic/gin"
)

const (
	HeaderAdminSignature = "X-Request-Signature"
	HeaderAdminTimestamp = "X-Request-Timestamp"

	HeaderPublicKey = "X-Linkdrop-Public-Key"
	HeaderTimestamp = "X-Linkdrop-Timestamp"
	HeaderSignature = "X-Linkdrop-Signature"
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
)

// Clock returns the current time; tests replace it.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// AdminAuth verifies an HMAC-SHA256 signature of "<timestamp><body>" keyed by
// secret. A verified request acts as the contract account itself.
func AdminAuth(secret, contractID string, maxSkew time.Duration, clock Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			abort(c, errutil.Unauthorized("admin access is disabled", nil))
			return
		}

		sig := c.GetHeader(HeaderAdminSignature)
		if sig == "" {
			abort(c, errutil.Unauthorized("unauthorized", ErrMissingSignature))
			return
		}

		ts, err := checkTimestamp(c.GetHeader(HeaderAdminTimestamp), maxSkew, clock)
		if err != nil {
			abort(c, errutil.Unauthorized("unauthorized", err))
			return
		}

		body, err := readBody(c)
		if err != nil {
			abort(c, errutil.BadRequest("unreadable body", err))
			return
		}

		expected := AdminSignature(secret, ts, body)
		if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
			abort(c, errutil.Unauthorized("unauthorized", ErrInvalidSignature))
			return
		}

		inv, _ := invocation.FromContext(c.Request.Context())
		inv.Predecessor = contractID
		c.Request = c.Request.WithContext(invocation.WithContext(c.Request.Context(), inv))
		c.Next()
	}
}

// AdminSignature is the hex HMAC clients put in X-Request-Signature.
func AdminSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// KeyAuth verifies an ed25519 signature by the key in X-Linkdrop-Public-Key
// over SigningPayload. A verified request is relayed by the contract on
// behalf of that key, so the invocation carries the contract as predecessor
// and the key as signer. Whether the key may call the route is decided by
// the credential registry, not here.
func KeyAuth(contractID string, maxSkew time.Duration, clock Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		pk, err := keys.Parse(c.GetHeader(HeaderPublicKey))
		if err != nil {
			abort(c, errutil.Unauthorized("unauthorized", err))
			return
		}

		sigHeader := c.GetHeader(HeaderSignature)
		if sigHeader == "" {
			abort(c, errutil.Unauthorized("unauthorized", ErrMissingSignature))
			return
		}
		sig, err := keys.DecodeSignature(sigHeader)
		if err != nil {
			abort(c, errutil.Unauthorized("unauthorized", ErrInvalidSignature))
			return
		}

		ts, err := checkTimestamp(c.GetHeader(HeaderTimestamp), maxSkew, clock)
		if err != nil {
			abort(c, errutil.Unauthorized("unauthorized", err))
			return
		}

		body, err := readBody(c)
		if err != nil {
			abort(c, errutil.BadRequest("unreadable body", err))
			return
		}

		if !pk.Verify(SigningPayload(ts, c.Request.Method, c.Request.URL.Path, body), sig) {
			abort(c, errutil.Unauthorized("unauthorized", ErrInvalidSignature))
			return
		}

		inv, _ := invocation.FromContext(c.Request.Context())
		inv.Predecessor = contractID
		inv.Signer = pk
		c.Request = c.Request.WithContext(invocation.WithContext(c.Request.Context(), inv))
		c.Next()
	}
}

// SigningPayload is "<timestamp>.<METHOD> <path>.<body>".
func SigningPayload(timestamp, method, path string, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(timestamp)
	buf.WriteByte('.')
	buf.WriteString(method)
	buf.WriteByte(' ')
	buf.WriteString(path)
	buf.WriteByte('.')
	buf.Write(body)
	return buf.Bytes()
}

func checkTimestamp(header string, maxSkew time.Duration, clock Clock) (string, error) {
	if header == "" {
		return "", ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return "", ErrMissingTimestamp
	}

	now := clock.now()
	reqTime := time.Unix(ts, 0)
	if now.Sub(reqTime) > maxSkew || reqTime.Sub(now) > maxSkew {
		return "", ErrStaleTimestamp
	}
	return header, nil
}

func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return []byte{}, nil
	}
	defer c.Request.Body.Close()
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
