package llm

import (
	"encoding/json"
	"sort"

	"github.com/invopop/jsonschema"

	"ReviewInsights/internal/analysis"
)

var sentimentSchema = generateSchema[analysis.Response]()

// generateSchema reflects T into a strict structured-output schema: no extra
// properties and every property required.
func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)

	raw, err := schema.MarshalJSON()
	if err != nil {
		panic(err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	requireAll(out)
	return out
}

func requireAll(schema map[string]any) {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return
	}
	if t, _ := schema["type"].(string); t == "object" {
		schema["additionalProperties"] = false
		required := make([]string, 0, len(props))
		for name := range props {
			required = append(required, name)
		}
		sort.Strings(required)
		schema["required"] = required
	}
	for _, prop := range props {
		if child, ok := prop.(map[string]any); ok {
			requireAll(child)
		}
	}
}
