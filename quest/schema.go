package quest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const questSchemaJSON = `{
  "type": "object",
  "properties": {
    "title":       {"type": "string", "minLength": 1, "maxLength": 255},
    "description": {"type": "string"},
    "aiName":      {"type": "string", "maxLength": 64},
    "userName":    {"type": "string", "maxLength": 64},
    "password":    {"type": "string", "maxLength": 255},
    "active":      {"type": "boolean"},
    "finalText":   {"type": "string"},
    "steps": {
      "type": "array",
      "items": {"$ref": "#/$defs/step"}
    }
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["message", "expectedAnswer"],
      "properties": {
        "id":             {"type": "integer"},
        "type":           {"enum": ["", "text", "image", "video", "link"]},
        "message":        {"type": "string"},
        "expectedAnswer": {"type": "string"},
        "hint":           {"type": "string"},
        "mediaUrl":       {"type": "string"}
      }
    }
  }
}`

var (
	schemaOnce   sync.Once
	createSchema *jsonschema.Schema
	updateSchema *jsonschema.Schema
	schemaErr    error
)

func compileSchemas() {
	compile := func(name string, requireTitle bool) (*jsonschema.Schema, error) {
		var doc map[string]any
		if err := json.Unmarshal([]byte(questSchemaJSON), &doc); err != nil {
			return nil, err
		}
		if requireTitle {
			doc["required"] = []any{"title"}
		}
		c := jsonschema.NewCompiler()
		url := fmt.Sprintf("schema://%s.json", name)
		if err := c.AddResource(url, doc); err != nil {
			return nil, err
		}
		return c.Compile(url)
	}
	createSchema, schemaErr = compile("quest-create", true)
	if schemaErr != nil {
		return
	}
	updateSchema, schemaErr = compile("quest-update", false)
}

// validatePayload checks raw admin JSON. Creates must carry a title;
// updates may be partial.
func validatePayload(raw []byte, create bool) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return fmt.Errorf("compile quest schema: %w", schemaErr)
	}

	var inst any
	if err := json.Unmarshal(raw, &inst); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", ErrInvalidQuest, err)
	}

	sch := updateSchema
	if create {
		sch = createSchema
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuest, err)
	}
	return nil
}
