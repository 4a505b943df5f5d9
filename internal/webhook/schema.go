package webhook

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// payloadSchema is deliberately loose: Origin's webhook shapes vary by
// event type and API version, so this only rejects bodies that are not
// a JSON object at all, which every downstream extractor assumes.
const payloadSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object"
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(payloadSchemaJSON)))
	if err != nil {
		panic(fmt.Sprintf("webhook: invalid embedded schema: %v", err))
	}
	const resource = "vaultsync://webhook-payload.schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		panic(fmt.Sprintf("webhook: could not register schema: %v", err))
	}
	schema, err := c.Compile(resource)
	if err != nil {
		panic(fmt.Sprintf("webhook: could not compile schema: %v", err))
	}
	return schema
}

// ValidatePayloadShape rejects a webhook body that is not a JSON object,
// before any of the more permissive field-level extraction runs.
func ValidatePayloadShape(body []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: invalid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("webhook: payload failed schema validation: %w", err)
	}
	return nil
}
