package conv

import "strings"

// UserSpeaker is the sentinel speaker name marking a user-authored turn.
const UserSpeaker = "user"

// Status mirrors the task service's status field: 1 while the round table is
// still producing turns, 0 once it has finished.
type Status int

const (
	StatusCompleted  Status = 0
	StatusInProgress Status = 1
)

func (s Status) String() string {
	if s == StatusInProgress {
		return "in_progress"
	}
	return "completed"
}

// Turn is one utterance in a round-table conversation. Turns are created by
// the service (or synthesized locally for user input) and appended only; a
// turn is never mutated or removed once it exists.
type Turn struct {
	// ChunkID is assigned monotonically by the service per conversation and
	// is unique within it. It doubles as the display key and the anchor for
	// reconciling polled turn lists.
	ChunkID int    `json:"chunk_id"`
	Speaker string `json:"speaker_name"`
	Content string `json:"content"`
	// VoiceID references a synthesis voice for this turn. Empty for user
	// turns and turns without audio.
	VoiceID string `json:"voice_id,omitempty"`
	// Historical marks turns hydrated from persisted history rather than
	// freshly polled; it suppresses the typewriter reveal and audio enqueue.
	// Client-local, never on the wire.
	Historical bool `json:"-"`
}

// IsUser reports whether the turn was authored by the user.
func (t Turn) IsUser() bool { return t.Speaker == UserSpeaker }

// HasVoice reports whether the turn is eligible for audio synthesis.
func (t Turn) HasVoice() bool { return strings.TrimSpace(t.VoiceID) != "" }

// State is the client-visible conversation state for one task.
type State struct {
	Turns  []Turn
	Status Status
}
