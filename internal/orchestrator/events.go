package orchestrator

import (
	"strings"

	"github.com/leaderbot/leaderbot/internal/conversation"
)

// EventKind is the shape of an inbound event.
type EventKind string

const (
	EventPhoto   EventKind = "photo"
	EventStyle   EventKind = "style"
	EventControl EventKind = "control"
	EventText    EventKind = "text"
)

// EventKinds returns every defined event kind.
func EventKinds() []EventKind {
	return []EventKind{EventPhoto, EventStyle, EventControl, EventText}
}

// Event is one inbound user action, already stripped of platform identifiers.
type Event struct {
	UserKey   string
	ReqID     string
	Locale    string
	Timestamp int64
	MessageID string
	Kind      EventKind
	Text      string
	// Payload is the quick reply or postback payload for controls and styles.
	Payload  string
	ImageURL string
}

// Control payloads understood by the orchestrator.
const (
	ControlWhatIsThis  = "WHAT_IS_THIS"
	ControlPrivacyInfo = "PRIVACY_INFO"
	ControlAbout       = "ABOUT"
	ControlChooseStyle = "CHOOSE_STYLE"
	ControlNewStyle    = "NEW_STYLE"
	ControlRetryStyle  = "RETRY_STYLE"
	ControlDownloadHD  = "DOWNLOAD_HD"
	ControlSendPhoto   = "SEND_PHOTO"
	// Variation and Stronger rerun the last style on the stored photo.
	ControlVariation = "VARIATION"
	ControlStronger  = "STRONGER"
	ControlTrending  = "TRENDING"
)

var controls = map[string]bool{
	ControlWhatIsThis:  true,
	ControlPrivacyInfo: true,
	ControlAbout:       true,
	ControlChooseStyle: true,
	ControlNewStyle:    true,
	ControlRetryStyle:  true,
	ControlDownloadHD:  true,
	ControlSendPhoto:   true,
	ControlVariation:   true,
	ControlStronger:    true,
	ControlTrending:    true,
}

// IsControl reports whether payload is a known control, including
// RETRY_STYLE_<style>.
func IsControl(payload string) bool {
	if controls[payload] {
		return true
	}
	return strings.HasPrefix(payload, ControlRetryStyle+"_")
}

// informational controls are answered even while a generation runs.
func informational(payload string) bool {
	switch payload {
	case ControlWhatIsThis, ControlPrivacyInfo, ControlAbout:
		return true
	}
	return false
}

// Transition is the stage an event moves a conversation to before any
// generation outcome is known. Controls and text never change the stage
// structurally; individual controls refine this in the orchestrator.
func Transition(stage conversation.Stage, kind EventKind, hasPhoto bool) conversation.Stage {
	if stage == conversation.StageProcessing {
		return conversation.StageProcessing
	}
	switch kind {
	case EventPhoto:
		return conversation.StageAwaitingStyle
	case EventStyle:
		if hasPhoto {
			return conversation.StageProcessing
		}
		return conversation.StageAwaitingPhoto
	case EventControl, EventText:
		return stage
	default:
		return stage
	}
}
