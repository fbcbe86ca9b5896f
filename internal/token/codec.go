// Package token mints and verifies admission tokens. A token is the
// base64 of a JSON payload carrying the booking facts plus an HMAC-SHA256
// of those facts, so the gate can verify a token offline without a
// database lookup.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformed         = errors.New("token is malformed")
	ErrIntegrityMismatch = errors.New("token integrity check failed")
	ErrStale             = errors.New("token is stale")
)

// Fields is the signed portion of a token. The json keys are the wire
// format; existing QR codes depend on them, so they never change.
type Fields struct {
	BookingID      string `json:"bookingId"`
	SlotID         string `json:"slotId"`
	Name           string `json:"name"`
	Date           string `json:"date"`
	SlotTime       string `json:"slotTime"`
	NumberOfPeople int64  `json:"numberOfPeople"`
	// Timestamp is the mint instant in milliseconds since epoch.
	Timestamp int64 `json:"timestamp"`
}

type payload struct {
	Fields
	Hash string `json:"hash"`
}

// Codec signs and verifies tokens with a shared secret. A zero maxAge
// disables staleness checks entirely.
type Codec struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

func NewCodec(secret string, maxAge time.Duration) *Codec {
	return &Codec{
		secret: []byte(secret),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Encode signs the fields and returns the admission token. Timestamp is
// stamped here; callers never supply it.
func (c *Codec) Encode(fields Fields) (string, error) {
	fields.Timestamp = c.now().UnixMilli()

	p := payload{
		Fields: fields,
		Hash:   c.sign(fields),
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode verifies the token and returns its fields. Integrity failures
// come back as ErrIntegrityMismatch; anything that does not even parse is
// ErrMalformed.
func (c *Codec) Decode(encoded string) (*Fields, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, ErrMalformed
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrMalformed
	}
	if p.Hash == "" {
		return nil, ErrMalformed
	}

	expected := c.sign(p.Fields)
	if !hmac.Equal([]byte(expected), []byte(p.Hash)) {
		return nil, ErrIntegrityMismatch
	}

	if p.Timestamp <= 0 {
		return nil, ErrMalformed
	}
	if c.maxAge > 0 {
		issued := time.UnixMilli(p.Timestamp)
		if c.now().Sub(issued) > c.maxAge {
			return nil, ErrStale
		}
	}

	return &p.Fields, nil
}

// sign computes the hex HMAC over the canonical field string. The hash
// itself is excluded from its own input.
func (c *Codec) sign(fields Fields) string {
	canonical := strings.Join([]string{
		fields.BookingID,
		fields.SlotID,
		fields.Name,
		fields.Date,
		fields.SlotTime,
		fmt.Sprintf("%d", fields.NumberOfPeople),
		strconv.FormatInt(fields.Timestamp, 10),
	}, "|")

	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}
