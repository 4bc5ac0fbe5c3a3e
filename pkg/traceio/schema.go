package traceio

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/interval.schema.json
var intervalSchemaJSON []byte

// IntervalSchema returns the JSON schema every input line must satisfy.
func IntervalSchema() []byte { return intervalSchemaJSON }

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(intervalSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile interval schema: %w", err)
	}

	return schema, nil
})

// validateLine checks one JSON document against the interval schema.
func validateLine(line []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(line))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		msgs = append(msgs, verr.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(msgs, "; "))
}
