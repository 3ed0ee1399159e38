package main

import (
	"bytes"
	"embed"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/ws/*.schema.json
var schemaFS embed.FS

const (
	schemaJoin     = "join"
	schemaQuestion = "question"
	schemaAnswer   = "answer"
)

// validator compiles the embedded message schemas once at startup and gates
// untrusted payloads before they reach any handler logic.
type validator struct {
	compiled map[string]*jsonschema.Schema
}

func newValidator() (*validator, error) {
	compiler := jsonschema.NewCompiler()

	names := []string{schemaJoin, schemaQuestion, schemaAnswer}
	for _, name := range names {
		raw, err := schemaFS.ReadFile("schemas/ws/" + name + ".schema.json")
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		if err := compiler.AddResource(name+".schema.json", doc); err != nil {
			return nil, err
		}
	}

	v := &validator{compiled: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		schema, err := compiler.Compile(name + ".schema.json")
		if err != nil {
			return nil, err
		}
		v.compiled[name] = schema
	}

	return v, nil
}

func (v *validator) validate(name string, raw []byte) bool {
	schema, ok := v.compiled[name]
	if !ok {
		return false
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return false
	}
	return schema.Validate(doc) == nil
}
