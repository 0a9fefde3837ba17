package channel

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaRegistry compiles and caches the per-frame-type JSON schemas once,
// mirroring the teacher's wsSchemaRegistry sync.Once pattern, adapted from
// a req/method envelope to this spec's flat type-tagged frame shape.
type schemaRegistry struct {
	once     sync.Once
	initErr  error
	envelope *jsonschema.Schema
	byType   map[string]*jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		env, err := jsonschema.CompileString("frame_envelope", frameEnvelopeSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.envelope = env

		byType := map[string]string{
			"auth":   authFrameSchema,
			"logout": emptyFrameSchema,
			"chat":   chatFrameSchema,
			"ping":   emptyFrameSchema,
		}
		schemas.byType = make(map[string]*jsonschema.Schema, len(byType))
		for name, src := range byType {
			compiled, err := jsonschema.CompileString("frame_"+name, src)
			if err != nil {
				schemas.initErr = err
				return
			}
			schemas.byType[name] = compiled
		}
	})
	return schemas.initErr
}

// ValidateFrame checks raw against the envelope schema and, if frameType
// is recognized, against that type's payload schema.
func ValidateFrame(raw []byte, frameType string) error {
	if err := initSchemas(); err != nil {
		return err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := schemas.envelope.Validate(payload); err != nil {
		return err
	}
	if schema, ok := schemas.byType[frameType]; ok {
		if err := schema.Validate(payload); err != nil {
			return fmt.Errorf("invalid %s frame: %w", frameType, err)
		}
	}
	return nil
}

const frameEnvelopeSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const emptyFrameSchema = `{
  "type": "object",
  "additionalProperties": true
}`

const chatFrameSchema = `{
  "type": "object",
  "required": ["message"],
  "properties": {
    "message": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const authFrameSchema = `{
  "type": "object",
  "required": ["auth_type"],
  "properties": {
    "auth_type": {
      "type": "string",
      "enum": ["none", "bearer_token", "basic_auth", "api_key", "oauth2_client_credentials", "custom"]
    }
  },
  "additionalProperties": true
}`
