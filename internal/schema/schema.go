// Package schema validates stored documents against embedded JSON Schemas
// before they are written.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

type Kind string

const (
	DailyAggregate Kind = "daily_aggregate"
	UserDay        Kind = "user_day"
	PlanDay        Kind = "plan_day"
	Schedule       Kind = "schedule"
)

var ErrInvalidDocument = errors.New("invalid document")

const schemaBaseURL = "https://liftrelay.local/schemas/"

type Validator struct {
	schemas map[Kind]*jsonschema.Schema
}

func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft2020)
	kinds := []Kind{DailyAggregate, UserDay, PlanDay, Schedule}
	for _, kind := range kinds {
		data, err := schemaFS.ReadFile("schemas/" + string(kind) + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", kind, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", kind, err)
		}
		if err := compiler.AddResource(schemaBaseURL+string(kind)+".json", doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", kind, err)
		}
	}
	v := &Validator{schemas: make(map[Kind]*jsonschema.Schema, len(kinds))}
	for _, kind := range kinds {
		compiled, err := compiler.Compile(schemaBaseURL + string(kind) + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", kind, err)
		}
		v.schemas[kind] = compiled
	}
	return v, nil
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
	defaultErr       error
)

// Default returns a process-wide validator compiled on first use.
func Default() (*Validator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = New()
	})
	return defaultValidator, defaultErr
}

// Validate checks a Go value by its JSON encoding.
func (v *Validator) Validate(kind Kind, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrInvalidDocument, kind, err)
	}
	return v.ValidateBytes(kind, data)
}

func (v *Validator) ValidateBytes(kind Kind, data []byte) error {
	compiled, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDocument, kind)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s is not JSON: %v", ErrInvalidDocument, kind, err)
	}
	if err := compiled.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, kind, err)
	}
	return nil
}
