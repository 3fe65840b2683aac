package translator

import (
	"strings"

	"casefile/internal/faults"
	"casefile/internal/models"
)

// Dialect is the parameter-naming variant a model requires.
type Dialect string

const (
	// DialectStandard sends temperature and max_tokens unchanged.
	DialectStandard Dialect = "standard"
	// DialectReasoning drops temperature and sends max_completion_tokens.
	DialectReasoning Dialect = "reasoning"
	// DialectFixedTemperature pins temperature and sends max_completion_tokens.
	DialectFixedTemperature Dialect = "fixed-temperature"
)

// FixedTemperature is the only temperature accepted by fixed-temperature models.
const FixedTemperature = 1.0

const (
	minTemperature = 0.0
	maxTemperature = 2.0
)

var reasoningPrefixes = []string{"o1", "o3", "o4"}

var fixedTemperaturePrefixes = []string{"gpt-5"}

var allowedRoles = map[models.Role]struct{}{
	models.RoleSystem:    {},
	models.RoleUser:      {},
	models.RoleAssistant: {},
}

// Profile is the derived parameter profile of a model identifier.
type Profile struct {
	Dialect Dialect
	// LengthField is the wire name of the output length limit.
	LengthField string
	// Temperature is non-nil when the dialect forces a value.
	Temperature *float64
	// DropTemperature reports that temperature must not be sent.
	DropTemperature bool
}

// ProfileFor resolves the profile of a model identifier. It is total: unknown
// identifiers get the standard dialect.
func ProfileFor(model string) Profile {
	id := canonicalModelID(model)

	if hasAnyPrefix(id, reasoningPrefixes) {
		return Profile{
			Dialect:         DialectReasoning,
			LengthField:     "max_completion_tokens",
			DropTemperature: true,
		}
	}
	if hasAnyPrefix(id, fixedTemperaturePrefixes) {
		t := FixedTemperature
		return Profile{
			Dialect:     DialectFixedTemperature,
			LengthField: "max_completion_tokens",
			Temperature: &t,
		}
	}
	return Profile{
		Dialect:     DialectStandard,
		LengthField: "max_tokens",
	}
}

// Shape builds a provider-ready body for req, resolving the model's dialect.
// It only fails with an InvalidRequestError.
func Shape(req models.CompletionRequest) (models.RequestBody, error) {
	if err := validate(req); err != nil {
		return models.RequestBody{}, err
	}

	profile := ProfileFor(req.Model)

	body := models.RequestBody{
		Model:    strings.TrimSpace(req.Model),
		Messages: append([]models.Message(nil), req.Messages...),
	}

	switch {
	case profile.DropTemperature:
	case profile.Temperature != nil:
		t := *profile.Temperature
		body.Temperature = &t
	case req.Temperature != nil:
		t := *req.Temperature
		body.Temperature = &t
	}

	limit := req.MaxOutputTokens
	if profile.LengthField == "max_completion_tokens" {
		body.MaxCompletionTokens = &limit
	} else {
		body.MaxTokens = &limit
	}

	if req.ResponseFormat != "" {
		body.ResponseFormat = &models.ResponseFormat{Type: req.ResponseFormat}
	}

	return body, nil
}

func validate(req models.CompletionRequest) error {
	if strings.TrimSpace(req.Model) == "" {
		return faults.InvalidRequest("model must be provided")
	}
	if len(req.Messages) == 0 {
		return faults.InvalidRequest("at least one message is required")
	}
	for i, msg := range req.Messages {
		if _, ok := allowedRoles[msg.Role]; !ok {
			return faults.InvalidRequest("message[%d]: invalid role %q", i, msg.Role)
		}
		if strings.TrimSpace(msg.Content) == "" {
			return faults.InvalidRequest("message[%d]: content must not be empty", i)
		}
	}
	if req.Temperature != nil {
		if t := *req.Temperature; !(t >= minTemperature && t <= maxTemperature) {
			return faults.InvalidRequest("temperature %.2f must be within [%.0f, %.0f]", t, minTemperature, maxTemperature)
		}
	}
	if req.MaxOutputTokens <= 0 {
		return faults.InvalidRequest("max output tokens must be positive, got %d", req.MaxOutputTokens)
	}
	switch req.ResponseFormat {
	case "", "json_object", "text":
	default:
		return faults.InvalidRequest("unsupported response format %q", req.ResponseFormat)
	}
	return nil
}

func canonicalModelID(model string) string {
	id := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	return id
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
