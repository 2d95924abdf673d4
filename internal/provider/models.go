package provider

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

var catalog = []ModelInfo{
	{ID: "gpt-4o", Name: "GPT-4o", Provider: "openai"},
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Provider: "openai"},
	{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Provider: "openai"},
	{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Provider: "openai"},
	{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", Provider: "anthropic"},
	{ID: "claude-3-sonnet-20240229", Name: "Claude 3 Sonnet", Provider: "anthropic"},
	{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", Provider: "anthropic"},
	{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", Provider: "google"},
	{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", Provider: "google"},
	{ID: "gemini-1.0-pro", Name: "Gemini 1.0 Pro", Provider: "google"},
}

// Models returns the catalog filtered to families with a usable credential.
// Any placeholder credential, client or server, switches on development mode
// and lists every family so demo environments see the full picker.
func (r *Router) Models(client Credentials) []ModelInfo {
	dev := hasPlaceholder(client) || hasPlaceholder(r.server)

	models := make([]ModelInfo, 0, len(catalog))
	for _, m := range catalog {
		family, _ := FamilyForModel(m.ID)
		if dev || client.ForFamily(family).Kind != Absent || r.server.ForFamily(family).Kind != Absent {
			models = append(models, m)
		}
	}
	return models
}

func hasPlaceholder(c Credentials) bool {
	return c.OpenAI.Kind == Placeholder || c.Anthropic.Kind == Placeholder || c.Google.Kind == Placeholder
}
