package intent

import "time"

type Purpose string

const (
	PurposeGeneric           Purpose = "generic"
	PurposePostAuthorization Purpose = "post-authorization"
)

func (p Purpose) Valid() bool {
	return p == PurposeGeneric || p == PurposePostAuthorization
}

func ParsePurpose(value string) (Purpose, bool) {
	switch Purpose(value) {
	case PurposeGeneric, "":
		return PurposeGeneric, true
	case PurposePostAuthorization, "post_authorization":
		return PurposePostAuthorization, true
	}
	return "", false
}

// Payload is the opaque structure a push transport delivers.
type Payload map[string]any

type NavigationIntent struct {
	TargetID   string
	CapturedAt time.Time
	Purpose    Purpose
}
