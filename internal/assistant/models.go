package assistant

import "sort"

// Family groups models served by the same completion API.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
)

const DefaultModel = "gpt-4.1"

// DefaultTemperature is used for every model that accepts a temperature.
const DefaultTemperature = 0.7

type modelInfo struct {
	family Family
	// prices in cents per million tokens
	inputRate  int64
	outputRate int64
	// reasoning models reject a custom temperature
	reasoning bool
}

var models = map[string]modelInfo{
	"gpt-4.1":           {family: FamilyOpenAI, inputRate: 200, outputRate: 800},
	"gpt-4.1-mini":      {family: FamilyOpenAI, inputRate: 40, outputRate: 160},
	"o4-mini":           {family: FamilyOpenAI, inputRate: 110, outputRate: 440, reasoning: true},
	"claude-sonnet-4-5": {family: FamilyAnthropic, inputRate: 300, outputRate: 1500},
	"claude-haiku-4-5":  {family: FamilyAnthropic, inputRate: 100, outputRate: 500},
}

// NormalizeModel maps an unknown model id to DefaultModel.
func NormalizeModel(id string) string {
	if _, ok := models[id]; ok {
		return id
	}
	return DefaultModel
}

// KnownModel reports whether id is one of the supported models.
func KnownModel(id string) bool {
	_, ok := models[id]
	return ok
}

// Models returns the supported model ids in sorted order.
func Models() []string {
	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func familyOf(id string) Family {
	return models[NormalizeModel(id)].family
}

func temperatureFor(id string) float64 {
	if models[NormalizeModel(id)].reasoning {
		return 0
	}
	return DefaultTemperature
}
