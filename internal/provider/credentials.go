package provider

import "strings"

// CredentialKind classifies an API key once, at configuration load or
// request parse time, instead of re-inspecting the key value per call.
type CredentialKind int

const (
	// Absent means no key was supplied.
	Absent CredentialKind = iota

	// Placeholder means a recognized development placeholder. Requests are
	// answered with a canned response and never reach the provider.
	Placeholder

	// Real means the key looks usable and is sent to the provider.
	Real
)

func (k CredentialKind) String() string {
	switch k {
	case Placeholder:
		return "placeholder"
	case Real:
		return "real"
	default:
		return "absent"
	}
}

// Credential is a classified API key.
type Credential struct {
	Key  string
	Kind CredentialKind
}

// Credentials holds one credential per provider family.
type Credentials struct {
	OpenAI    Credential
	Anthropic Credential
	Google    Credential
}

// ForFamily returns the credential for a family.
func (c Credentials) ForFamily(f Family) Credential {
	switch f {
	case FamilyAnthropic:
		return c.Anthropic
	case FamilyGoogle:
		return c.Google
	default:
		return c.OpenAI
	}
}

// placeholderSubstrings match keys handed out by demo and local-dev setups.
var placeholderSubstrings = []string{
	"fallback-development-key",
	"sk-ant-fallback",
	"AIza-fallback",
	"sk-default-dev-key",
	"dev-key-for-testing",
}

// ClassifyKey tags a raw key value as Absent, Placeholder, or Real.
func ClassifyKey(key string) Credential {
	if key == "" {
		return Credential{Kind: Absent}
	}
	if key == "DEVELOPMENT_MODE_API_KEY" || strings.HasPrefix(key, "sk-fallback") {
		return Credential{Key: key, Kind: Placeholder}
	}
	for _, sub := range placeholderSubstrings {
		if strings.Contains(key, sub) {
			return Credential{Key: key, Kind: Placeholder}
		}
	}
	return Credential{Key: key, Kind: Real}
}

// ClassifyKeys builds Credentials from raw per-family key values.
func ClassifyKeys(openaiKey, anthropicKey, googleKey string) Credentials {
	return Credentials{
		OpenAI:    ClassifyKey(openaiKey),
		Anthropic: ClassifyKey(anthropicKey),
		Google:    ClassifyKey(googleKey),
	}
}
