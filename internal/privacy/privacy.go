// Package privacy derives the internal user key from a platform user id.
package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// LogUserLength is the number of user-key characters included in log lines.
const LogUserLength = 8

// ErrMissingPepper is returned when no server-side secret is configured.
var ErrMissingPepper = errors.New("privacy pepper is required")

// Deriver maps platform ids to keyed, non-reversible user keys.
type Deriver struct {
	pepper []byte
}

// NewDeriver refuses to build a deriver without a pepper.
func NewDeriver(pepper string) (*Deriver, error) {
	pepper = strings.TrimSpace(pepper)
	if pepper == "" {
		return nil, ErrMissingPepper
	}
	return &Deriver{pepper: []byte(pepper)}, nil
}

// ToUserKey returns hex(HMAC-SHA256(pepper, platformID)), 64 characters.
func (d *Deriver) ToUserKey(platformID string) string {
	mac := hmac.New(sha256.New, d.pepper)
	mac.Write([]byte(platformID))
	return hex.EncodeToString(mac.Sum(nil))
}

// ToLogUser truncates a user key for safe inclusion in logs.
func ToLogUser(userKey string) string {
	if len(userKey) <= LogUserLength {
		return userKey
	}
	return userKey[:LogUserLength]
}
