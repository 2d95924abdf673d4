package provider

import "strings"

// Family identifies one provider's API conventions.
type Family int

const (
	FamilyOpenAI Family = iota
	FamilyAnthropic
	FamilyGoogle
)

func (f Family) String() string {
	switch f {
	case FamilyOpenAI:
		return "openai"
	case FamilyAnthropic:
		return "anthropic"
	case FamilyGoogle:
		return "google"
	default:
		return "unknown"
	}
}

// displayName is the provider name used in user-facing messages.
func (f Family) displayName() string {
	switch f {
	case FamilyOpenAI:
		return "OpenAI"
	case FamilyAnthropic:
		return "Anthropic"
	case FamilyGoogle:
		return "Google"
	default:
		return "Unknown"
	}
}

// FamilyForModel resolves a model identifier to its provider family by
// namespace prefix. ok is false for unrecognized prefixes; the router falls
// back to FamilyOpenAI with a warning rather than failing.
func FamilyForModel(model string) (Family, bool) {
	switch {
	case strings.HasPrefix(model, "gpt-"):
		return FamilyOpenAI, true
	case strings.HasPrefix(model, "claude-"):
		return FamilyAnthropic, true
	case strings.HasPrefix(model, "gemini-"):
		return FamilyGoogle, true
	default:
		return FamilyOpenAI, false
	}
}
