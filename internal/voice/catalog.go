package voice

import "strings"

// Descriptor describes one synthesis voice from the Aura-2 catalog.
type Descriptor struct {
	Name        string `json:"name"`
	Model       string `json:"model"`
	Gender      string `json:"gender"`
	Accent      string `json:"accent"`
	Description string `json:"description"`
}

// Catalog is the static set of selectable voices. Order matters: fuzzy
// resolution breaks score ties by taking the first entry.
var Catalog = []Descriptor{
	// English
	{"thalia", "aura-2-thalia-en", "female", "American", "Warm, friendly female voice with a clear American accent. Great all-rounder, the default voice."},
	{"orion", "aura-2-orion-en", "male", "American", "Deep, confident male voice with a smooth American accent. Professional and authoritative."},
	{"apollo", "aura-2-apollo-en", "male", "American", "Energetic, youthful male voice with a casual American tone. Upbeat and conversational."},
	{"athena", "aura-2-athena-en", "female", "American", "Articulate, polished female voice. Calm and measured delivery."},
	{"luna", "aura-2-luna-en", "female", "American", "Soft, gentle female voice with a soothing quality. Relaxed and approachable."},
	{"zeus", "aura-2-zeus-en", "male", "American", "Bold, commanding male voice with a rich low register. Strong presence."},
	{"draco", "aura-2-draco-en", "male", "British", "Refined male voice with a British RP accent. Sophisticated and articulate."},
	{"pandora", "aura-2-pandora-en", "female", "British", "Elegant female voice with a British accent. Warm but polished."},
	{"hyperion", "aura-2-hyperion-en", "male", "Australian", "Relaxed male voice with an Australian accent. Friendly and laid-back."},
	// Spanish
	{"estrella", "aura-2-estrella-es", "female", "Mexican", "Bright, expressive female voice in Mexican Spanish."},
	{"javier", "aura-2-javier-es", "male", "Mexican", "Clear, natural male voice in Mexican Spanish."},
	{"alvaro", "aura-2-alvaro-es", "male", "Spain", "Warm male voice in Castilian Spanish."},
	{"celeste", "aura-2-celeste-es", "female", "Colombian", "Melodic female voice in Colombian Spanish."},
	// German
	{"fabian", "aura-2-fabian-de", "male", "German", "Clear, professional male voice in German."},
	{"aurelia", "aura-2-aurelia-de", "female", "German", "Warm, natural female voice in German."},
	{"lara", "aura-2-lara-de", "female", "German", "Bright, youthful female voice in German."},
	// French
	{"hector", "aura-2-hector-fr", "male", "French", "Smooth, natural male voice in French."},
	{"agathe", "aura-2-agathe-fr", "female", "French", "Elegant, expressive female voice in French."},
	// Italian
	{"cesare", "aura-2-cesare-it", "male", "Italian", "Warm, expressive male voice in Italian."},
	{"livia", "aura-2-livia-it", "female", "Italian", "Melodic, lively female voice in Italian."},
	// Dutch
	{"lars", "aura-2-lars-nl", "male", "Dutch", "Clear, natural male voice in Dutch."},
	{"daphne", "aura-2-daphne-nl", "female", "Dutch", "Warm, friendly female voice in Dutch."},
	// Japanese
	{"ebisu", "aura-2-ebisu-ja", "male", "Japanese", "Natural, clear male voice in Japanese."},
	{"izanami", "aura-2-izanami-ja", "female", "Japanese", "Soft, natural female voice in Japanese."},
}

var accentKeywords = []string{
	"american", "british", "australian", "mexican", "spain",
	"colombian", "german", "french", "italian", "dutch", "japanese",
}

// NameForModel returns the catalog name for a model id, or "" if unknown.
func NameForModel(model string) string {
	for _, d := range Catalog {
		if d.Model == model {
			return d.Name
		}
	}
	return ""
}

// Resolve maps a voice name, model id, or natural-language description to a
// model id. Descriptive queries are scored by gender and accent keywords and
// by literal name mentions; ambiguous queries resolve deterministically to
// the highest-scoring catalog entry, not necessarily the "right" one.
func Resolve(query string) (string, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return "", false
	}

	for _, d := range Catalog {
		if d.Name == q {
			return d.Model, true
		}
	}
	for _, d := range Catalog {
		if d.Model == q {
			return d.Model, true
		}
	}

	bestModel := ""
	bestScore := 0
	wantMale := strings.Contains(q, "male") && !strings.Contains(q, "female")
	wantFemale := strings.Contains(q, "female")
	for _, d := range Catalog {
		score := 0
		if wantMale && d.Gender == "male" {
			score += 3
		} else if wantFemale && d.Gender == "female" {
			score += 3
		}
		accent := strings.ToLower(d.Accent)
		for _, kw := range accentKeywords {
			if strings.Contains(q, kw) && strings.Contains(accent, kw) {
				score += 5
			}
		}
		if strings.Contains(q, d.Name) {
			score += 10
		}
		if score > bestScore {
			bestScore = score
			bestModel = d.Model
		}
	}
	if bestScore > 0 {
		return bestModel, true
	}
	return "", false
}
