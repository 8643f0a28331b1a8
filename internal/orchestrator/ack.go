package orchestrator

import (
	"strings"
	"unicode"
)

// AckKind classifies a short acknowledgement message.
type AckKind string

const (
	AckLike   AckKind = "like"
	AckOK     AckKind = "ok"
	AckThanks AckKind = "thanks"
	AckEmoji  AckKind = "emoji"
)

var ackWords = map[string]AckKind{
	"(y)":       AckLike,
	"ok":        AckOK,
	"oke":       AckOK,
	"oké":       AckOK,
	"okay":      AckOK,
	"okido":     AckOK,
	"jep":       AckOK,
	"yep":       AckOK,
	"ja":        AckOK,
	"yes":       AckOK,
	"top":       AckOK,
	"cool":      AckOK,
	"thanks":    AckThanks,
	"thank you": AckThanks,
	"thx":       AckThanks,
	"merci":     AckThanks,
	"bedankt":   AckThanks,
	"dank je":   AckThanks,
	"dankjewel": AckThanks,
	"dank u":    AckThanks,
	"dankuwel":  AckThanks,
}

// DetectAck reports whether text is a bare acknowledgement.
func DetectAck(text string) (AckKind, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return "", false
	}
	if kind, ok := ackWords[t]; ok {
		return kind, true
	}
	if kind, ok := ackWords[strings.TrimRight(t, "!.")]; ok {
		return kind, true
	}
	if isEmojiOnly(t) {
		return AckEmoji, true
	}
	return "", false
}

func isEmojiOnly(s string) bool {
	seen := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
		case r == 0x200D || (r >= 0xFE00 && r <= 0xFE0F) || (r >= 0x1F3FB && r <= 0x1F3FF):
			// joiners, variation selectors and skin tones
		case unicode.Is(unicode.So, r) || unicode.Is(unicode.Sk, r):
			seen = true
		default:
			return false
		}
	}
	return seen
}
