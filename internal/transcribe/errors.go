package transcribe

import (
	"fmt"
)

// Kind classifies why a segment could not be transcribed.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindTooSmall     Kind = "too_small"
	KindTooLarge     Kind = "too_large"
	KindServiceError Kind = "service_error"
	KindNetworkError Kind = "network_error"
)

// Structural reports whether the failure is a property of the segment file
// itself, which no amount of retrying will change.
func (k Kind) Structural() bool {
	switch k {
	case KindNotFound, KindTooSmall, KindTooLarge:
		return true
	}
	return false
}

// Describe returns a short human-readable phrase for placeholders.
func (k Kind) Describe() string {
	switch k {
	case KindNotFound:
		return "audio file missing"
	case KindTooSmall:
		return "audio file empty or too small"
	case KindTooLarge:
		return "audio file exceeds upload limit"
	case KindServiceError:
		return "speech service error"
	case KindNetworkError:
		return "network error"
	}
	return string(k)
}

// TranscriptionError is returned by Client.Transcribe for every failure.
type TranscriptionError struct {
	Kind       Kind
	StatusCode int    // KindServiceError only
	Body       string // KindServiceError only, truncated
	Err        error
}

func (e *TranscriptionError) Error() string {
	switch {
	case e.Kind == KindServiceError:
		return fmt.Sprintf("transcribe: %s (status %d): %s", e.Kind, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("transcribe: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transcribe: %s", e.Kind)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
