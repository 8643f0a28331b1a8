// Package conversation holds the per-user conversation record and its store.
package conversation

import "time"

// Stage is the position of a user in the styling conversation.
type Stage string

const (
	StageIdle          Stage = "IDLE"
	StageAwaitingPhoto Stage = "AWAITING_PHOTO"
	StageAwaitingStyle Stage = "AWAITING_STYLE"
	StageProcessing    Stage = "PROCESSING"
	StageResultReady   Stage = "RESULT_READY"
	StageFailure       Stage = "FAILURE"
)

// AllStages lists every defined stage in flow order.
func AllStages() []Stage {
	return []Stage{
		StageIdle,
		StageAwaitingPhoto,
		StageAwaitingStyle,
		StageProcessing,
		StageResultReady,
		StageFailure,
	}
}

// Valid reports whether s is a defined stage.
func (s Stage) Valid() bool {
	for _, stage := range AllStages() {
		if s == stage {
			return true
		}
	}
	return false
}

func (s Stage) String() string {
	return string(s)
}

// Record is the conversation state of one user. Empty strings mean "not set".
type Record struct {
	UserKey          string    `json:"user_key"`
	Stage            Stage     `json:"stage"`
	LastPhotoURL     string    `json:"last_photo_url,omitempty"`
	SelectedStyle    string    `json:"selected_style,omitempty"`
	PreferredLang    string    `json:"preferred_lang,omitempty"`
	LastGeneratedURL string    `json:"last_generated_url,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasPhoto reports whether a source photo is on file.
func (r Record) HasPhoto() bool {
	return r.LastPhotoURL != ""
}
