package catalog

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Parser parses and validates service template documents.
type Parser struct {
	schemas  *SchemaRegistry
	validate *validator.Validate
}

// NewParser creates a new template parser.
func NewParser() (*Parser, error) {
	schemas, err := NewSchemaRegistry()
	if err != nil {
		return nil, err
	}

	return &Parser{
		schemas:  schemas,
		validate: validator.New(),
	}, nil
}

// ParseFile loads and validates a template from a YAML file.
func (p *Parser) ParseFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}

	tmpl, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}

	return tmpl, nil
}

// Parse validates a raw YAML template document and decodes it.
func (p *Parser) Parse(data []byte) (*Template, error) {
	// Validate the raw document against the CUE schema first so schema
	// errors point at the document, not at decoded zero values.
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := p.schemas.ValidateAgainstSchema("template", doc); err != nil {
		return nil, err
	}

	tmpl := &Template{}
	if err := yaml.Unmarshal(data, tmpl); err != nil {
		return nil, fmt.Errorf("failed to decode template: %w", err)
	}

	if err := p.validate.Struct(tmpl); err != nil {
		return nil, fmt.Errorf("template validation failed: %w", err)
	}

	if err := tmpl.checkEnums(); err != nil {
		return nil, err
	}

	if err := checkUniqueness(tmpl); err != nil {
		return nil, err
	}

	return tmpl, nil
}

// checkUniqueness rejects duplicate variable, flavor and region names.
func checkUniqueness(tmpl *Template) error {
	vars := make(map[string]struct{}, len(tmpl.Variables))
	for _, v := range tmpl.Variables {
		if _, dup := vars[v.Name]; dup {
			return fmt.Errorf("duplicate variable %q", v.Name)
		}
		vars[v.Name] = struct{}{}
	}

	flavors := make(map[string]struct{}, len(tmpl.Flavors))
	for _, f := range tmpl.Flavors {
		if _, dup := flavors[f.Name]; dup {
			return fmt.Errorf("duplicate flavor %q", f.Name)
		}
		flavors[f.Name] = struct{}{}
	}

	regions := make(map[string]struct{}, len(tmpl.Regions))
	for _, r := range tmpl.Regions {
		if _, dup := regions[r.Name]; dup {
			return fmt.Errorf("duplicate region %q", r.Name)
		}
		regions[r.Name] = struct{}{}
	}

	return nil
}
