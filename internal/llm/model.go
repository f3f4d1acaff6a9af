package llm

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
)

// ErrUnknownModel indicates a model outside the supported set.
var ErrUnknownModel = errors.New("unknown model")

// Family groups models served by one provider.
type Family string

const (
	FamilyOpenAI Family = "openai"
	FamilyGemini Family = "gemini"
)

// Model is a supported chat model.
type Model string

const (
	GPT35Turbo        Model = "gpt-3.5-turbo"
	GPT35Turbo16K     Model = "gpt-3.5-turbo-16k"
	GPT4              Model = "gpt-4"
	GPT432K           Model = "gpt-4-32k"
	GPT4VisionPreview Model = "gpt-4-vision-preview"
	GPT4Turbo         Model = "gpt-4-turbo"
	GPT4o             Model = "gpt-4o"
	Gemini15Flash     Model = "gemini-1.5-flash"
	Gemini15Pro       Model = "gemini-1.5-pro"
)

// DefaultModel serves projects that name no model.
const DefaultModel = GPT35Turbo

// ModelInfo describes a model.
type ModelInfo struct {
	Family        Family
	ContextWindow int
	Vision        bool
}

var models = map[Model]ModelInfo{
	GPT35Turbo:        {FamilyOpenAI, 16385, false},
	GPT35Turbo16K:     {FamilyOpenAI, 16385, false},
	GPT4:              {FamilyOpenAI, 8192, false},
	GPT432K:           {FamilyOpenAI, 32768, false},
	GPT4VisionPreview: {FamilyOpenAI, 128000, true},
	GPT4Turbo:         {FamilyOpenAI, 128000, true},
	GPT4o:             {FamilyOpenAI, 128000, true},
	Gemini15Flash:     {FamilyGemini, 1048576, true},
	Gemini15Pro:       {FamilyGemini, 2097152, true},
}

// ParseModel validates name. An empty name selects DefaultModel.
func ParseModel(name string) (Model, error) {
	if name == "" {
		return DefaultModel, nil
	}
	m := Model(name)
	if _, ok := models[m]; !ok {
		return "", errkind.E(errkind.Configuration, "llm.ParseModel", fmt.Errorf("%w: %q", ErrUnknownModel, name))
	}
	return m, nil
}

// Info returns the model's description. Unknown models report the OpenAI
// family with no vision support.
func (m Model) Info() ModelInfo {
	if info, ok := models[m]; ok {
		return info
	}
	return ModelInfo{Family: FamilyOpenAI}
}

// Models returns every supported model.
func Models() []Model {
	return []Model{
		GPT35Turbo, GPT35Turbo16K, GPT4, GPT432K, GPT4VisionPreview,
		GPT4Turbo, GPT4o, Gemini15Flash, Gemini15Pro,
	}
}
