package harness

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaCUE string

var (
	schemaOnce  sync.Once
	schemaValue cue.Value
	schemaErr   error
)

// scenarioSchema compiles the embedded schema once and returns its
// #Scenario definition.
func scenarioSchema() (cue.Value, error) {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		v := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile scenario schema: %w", err)
			return
		}
		schemaValue = v.LookupPath(cue.ParsePath("#Scenario"))
		schemaErr = schemaValue.Err()
	})
	return schemaValue, schemaErr
}

// ValidateScenarioSchema checks a YAML document against the scenario
// schema. The error lists every violation with its position.
func ValidateScenarioSchema(filename string, data []byte) error {
	schema, err := scenarioSchema()
	if err != nil {
		return err
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}
	doc := schema.Context().BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}

	if err := schema.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{File: filename, Details: cueerrors.Details(err, nil)}
	}
	return nil
}

// SchemaError reports a scenario that does not match the schema.
type SchemaError struct {
	File    string
	Details string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("scenario %s does not match schema:\n%s", e.File, e.Details)
}
