package catalog

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// builtinTemplateSchema is the CUE schema every template document must
// satisfy before it is decoded into a Template.
const builtinTemplateSchema = `
#Region: {
	name: string & !=""
	area?: string
}

#Variable: {
	name:        string & !=""
	kind?:       "variable" | "env" | "fixed" | "fixed_env"
	dataType?:   "string" | "number" | "boolean"
	mandatory?:  bool
	sensitive?:  bool
	description?: string
	example?:    string
	value?:      string
	enum?: [...string]
}

#Flavor: {
	name: string & !=""
	properties?: {[string]: string}
	priority?: int & >=0
}

#Deployer: {
	kind?:    "terraboot" | "tflocal"
	script:   string & !=""
	version?: string
}

#Billing: {
	model:   string & !=""
	period?: string
}

name:        string & !=""
version:     string & !=""
category?:   string
csp:         string & !=""
description?: string
regions: [...#Region] & [_, ...]
variables?: [...#Variable]
flavors: [...#Flavor] & [_, ...]
deployer: #Deployer
billing?: #Billing
`

// SchemaRegistry manages CUE schemas for template validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with the built-in
// template schema registered.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema("template", builtinTemplateSchema); err != nil {
		return nil, err
	}

	return sr, nil
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	sr.mu.RLock()
	schema, ok := sr.schemas[schemaName]
	sr.mu.RUnlock()
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}
