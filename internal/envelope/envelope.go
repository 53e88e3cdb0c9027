// Package envelope implements the signed, compressed, max-age-bounded
// carriers used to move payloads across redirect boundaries. Each use site
// salts the signature with its own domain separator so an envelope minted
// for one purpose cannot be replayed into another.
package envelope

import (
	"bytes"
	"compress/zlib"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
)

// Salts for the known use sites.
const (
	SaltOAuthState    = "oauth-state"
	SaltOAuthHandoff  = "oauth-callback"
	SaltOAuthInstall  = "oauth-install"
	SaltOAuthRegister = "oauth-register"
)

// MaxPayloadSize bounds the encoded envelope so it survives URL limits.
const MaxPayloadSize = 4 << 10

type wrapper struct {
	Data     map[string]string `json:"d"`
	IssuedAt int64             `json:"t"`
}

// Codec signs envelopes with the process secret plus a per-use-site salt.
type Codec struct {
	secret []byte
}

// NewCodec creates a Codec keyed by the process secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Encode serializes, compresses and signs a payload. The result is
// payload "." signature, both base64url.
func (c *Codec) Encode(payload map[string]string, salt string) (string, error) {
	return c.encodeAt(payload, salt, time.Now())
}

func (c *Codec) encodeAt(payload map[string]string, salt string, issuedAt time.Time) (string, error) {
	raw, err := json.Marshal(wrapper{Data: payload, IssuedAt: issuedAt.Unix()})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("compress envelope: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress envelope: %w", err)
	}

	body := base64.RawURLEncoding.EncodeToString(buf.Bytes())
	encoded := body + "." + c.sign(body, salt)
	if len(encoded) > MaxPayloadSize {
		return "", fmt.Errorf("envelope exceeds %d bytes: %w", MaxPayloadSize, domain.ErrInvalidInput)
	}
	return encoded, nil
}

// Decode verifies and unpacks an envelope. It fails with ErrInvalidEnvelope
// when the signature does not verify under this salt, or when more than
// maxAge has elapsed since issuance. A maxAge of zero disables the age check.
func (c *Codec) Decode(encoded, salt string, maxAge time.Duration) (map[string]string, error) {
	body, sig, found := strings.Cut(encoded, ".")
	if !found || body == "" || sig == "" {
		return nil, fmt.Errorf("malformed envelope: %w", domain.ErrInvalidEnvelope)
	}

	expected := c.sign(body, salt)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return nil, fmt.Errorf("envelope signature mismatch: %w", domain.ErrInvalidEnvelope)
	}

	compressed, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("envelope not base64: %w", domain.ErrInvalidEnvelope)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("envelope not compressed: %w", domain.ErrInvalidEnvelope)
	}
	raw, err := io.ReadAll(zr)
	zr.Close()
	if err != nil {
		return nil, fmt.Errorf("decompress envelope: %w", domain.ErrInvalidEnvelope)
	}

	var w wrapper
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("envelope payload corrupt: %w", domain.ErrInvalidEnvelope)
	}

	if maxAge > 0 {
		issued := time.Unix(w.IssuedAt, 0)
		if time.Since(issued) > maxAge {
			return nil, fmt.Errorf("envelope older than %s: %w", maxAge, domain.ErrInvalidEnvelope)
		}
	}
	return w.Data, nil
}

func (c *Codec) sign(body, salt string) string {
	h := hmac.New(sha256.New, append(append([]byte{}, c.secret...), salt...))
	h.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
