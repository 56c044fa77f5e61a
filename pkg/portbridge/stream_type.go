package portbridge

import (
	"fmt"
	"strings"
)

// StreamType is a logical category of audio content with its own volume and mute state.
type StreamType int

const (
	StreamMusic StreamType = iota
	StreamVoiceCall
	StreamRing
	StreamSystem
	StreamNotification
	StreamAlarm
	StreamDTMF
	StreamTTS
	StreamAccessibility

	streamTypeCount
)

var streamTypeNames = [streamTypeCount]string{
	StreamMusic:         "music",
	StreamVoiceCall:     "voice_call",
	StreamRing:          "ring",
	StreamSystem:        "system",
	StreamNotification:  "notification",
	StreamAlarm:         "alarm",
	StreamDTMF:          "dtmf",
	StreamTTS:           "tts",
	StreamAccessibility: "accessibility",
}

// media.role values used by PulseAudio clients for each stream type
var streamTypeRoles = [streamTypeCount]string{
	StreamMusic:         "music",
	StreamVoiceCall:     "phone",
	StreamRing:          "event",
	StreamSystem:        "event",
	StreamNotification:  "event",
	StreamAlarm:         "alarm",
	StreamDTMF:          "phone",
	StreamTTS:           "a11y",
	StreamAccessibility: "a11y",
}

// A role shared by several stream types belongs to exactly one of them.
// Sink inputs that only carry the role are attributed to that owner; the
// other types must be tagged with stream.type to be reached.
var roleOwners = map[string]StreamType{
	"music": StreamMusic,
	"phone": StreamVoiceCall,
	"event": StreamNotification,
	"alarm": StreamAlarm,
	"a11y":  StreamAccessibility,
}

// ParseStreamType resolves a stream type from its configuration name.
func ParseStreamType(name string) (StreamType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, candidate := range streamTypeNames {
		if candidate == name {
			return StreamType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stream type %q: %w", name, ErrInvalidArgument)
}

// AllStreamTypes lists every stream type in declaration order.
func AllStreamTypes() []StreamType {
	all := make([]StreamType, 0, streamTypeCount)
	for st := StreamType(0); st < streamTypeCount; st++ {
		all = append(all, st)
	}
	return all
}

// Valid reports whether st is one of the declared stream types.
func (st StreamType) Valid() bool {
	return st >= 0 && st < streamTypeCount
}

// Role returns the media.role a server-side stream of this type carries.
func (st StreamType) Role() string {
	if !st.Valid() {
		return ""
	}
	return streamTypeRoles[st]
}

// OwnsRole reports whether sink inputs carrying only this type's
// media.role belong to it.
func (st StreamType) OwnsRole() bool {
	if !st.Valid() {
		return false
	}
	owner, ok := roleOwners[streamTypeRoles[st]]
	return ok && owner == st
}

func (st StreamType) String() string {
	if !st.Valid() {
		return fmt.Sprintf("stream(%d)", int(st))
	}
	return streamTypeNames[st]
}
