package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// commitRequestSchema is the JSON Schema enforced on commit requests
// before any cryptographic work. model_hashes deliberately has no
// minProperties: the empty map must reach the service layer, which
// reports it as a distinct error.
const commitRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id", "consent_id", "user_uid", "model_hashes", "risk_bucket", "timestamp"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1, "maxLength": 256},
    "consent_id": {"type": "string", "minLength": 1, "maxLength": 256},
    "user_uid": {"type": "string", "minLength": 1, "maxLength": 256},
    "model_hashes": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "risk_bucket": {"enum": ["low", "med", "high"]},
    "cost_cents": {"type": "integer", "minimum": 0},
    "timestamp": {"type": "integer", "exclusiveMinimum": 0}
  },
  "additionalProperties": false
}`

func compileCommitSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://emohunter.dev/schemas/commit-request.schema.json"
	if err := c.AddResource(url, strings.NewReader(commitRequestSchema)); err != nil {
		return nil, fmt.Errorf("load commit request schema: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile commit request schema: %w", err)
	}
	return schema, nil
}
