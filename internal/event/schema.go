package event

import "github.com/invopop/jsonschema"

// JSONSchema describes FlexInt as "integer or numeric string".
func (FlexInt) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "integer"},
			{Type: "string", Pattern: `^\s*-?[0-9]+\s*$`},
		},
	}
}

// Schema returns the JSON Schema of the webhook payload, for configuring the
// Openpath rules engine action.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
	}
	s := r.Reflect(&Payload{})
	s.Title = "Openpath on-duty webhook payload"
	return s
}
