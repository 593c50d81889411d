package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed act.schema.json
var actSchemaJSON string

var (
	actOnce   sync.Once
	actSchema *jsonschema.Schema
	actErr    error
)

// ValidateAct checks a raw ACT message against the embedded schema.
func ValidateAct(raw []byte) error {
	actOnce.Do(func() {
		actSchema, actErr = jsonschema.CompileString("act.schema.json", actSchemaJSON)
	})
	if actErr != nil {
		return actErr
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return actSchema.Validate(v)
}
