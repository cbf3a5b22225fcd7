package catalog

import (
	"fmt"
)

// VariableKind controls how a resolved variable value is handed to the
// deployer: as a deployment variable, as a process environment variable,
// or as a fixed value the user cannot override.
type VariableKind string

const (
	VariableKindVariable VariableKind = "variable"
	VariableKindEnv      VariableKind = "env"
	VariableKindFixed    VariableKind = "fixed"
	VariableKindFixedEnv VariableKind = "fixed_env"
)

// VariableDataType is the declared type of a template variable.
type VariableDataType string

const (
	DataTypeString  VariableDataType = "string"
	DataTypeNumber  VariableDataType = "number"
	DataTypeBoolean VariableDataType = "boolean"
)

// DeployerKind selects the deployer adapter technology for a template.
type DeployerKind string

const (
	DeployerKindTerraBoot DeployerKind = "terraboot"
	DeployerKindTfLocal   DeployerKind = "tflocal"
)

// variableKinds, dataTypes and deployerKinds are the typed lookup tables
// for template enums, checked at load time.
var (
	variableKinds = map[VariableKind]struct{}{
		VariableKindVariable: {},
		VariableKindEnv:      {},
		VariableKindFixed:    {},
		VariableKindFixedEnv: {},
	}

	dataTypes = map[VariableDataType]struct{}{
		DataTypeString:  {},
		DataTypeNumber:  {},
		DataTypeBoolean: {},
	}

	deployerKinds = map[DeployerKind]struct{}{
		DeployerKindTerraBoot: {},
		DeployerKindTfLocal:   {},
	}
)

// Template is the declarative description of a deployable service,
// supplied once by the service vendor.
type Template struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Version     string `yaml:"version" json:"version" validate:"required"`
	Category    string `yaml:"category" json:"category"`
	Csp         string `yaml:"csp" json:"csp" validate:"required"`
	Description string `yaml:"description" json:"description"`

	Regions   []Region     `yaml:"regions" json:"regions" validate:"min=1"`
	Variables []Variable   `yaml:"variables" json:"variables"`
	Flavors   []Flavor     `yaml:"flavors" json:"flavors" validate:"min=1"`
	Deployer  DeployerSpec `yaml:"deployer" json:"deployer"`
	Billing   *Billing     `yaml:"billing,omitempty" json:"billing,omitempty"`
}

// Region is a CSP region the template may be deployed into.
type Region struct {
	Name string `yaml:"name" json:"name" validate:"required"`
	Area string `yaml:"area,omitempty" json:"area,omitempty"`
}

// Variable declares one deployment variable of the template.
type Variable struct {
	Name        string           `yaml:"name" json:"name" validate:"required"`
	Kind        VariableKind     `yaml:"kind" json:"kind"`
	DataType    VariableDataType `yaml:"dataType" json:"dataType"`
	Mandatory   bool             `yaml:"mandatory" json:"mandatory"`
	Sensitive   bool             `yaml:"sensitive" json:"sensitive"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Example     string           `yaml:"example,omitempty" json:"example,omitempty"`

	// Value is the fixed value for fixed/fixed_env kinds.
	Value string `yaml:"value,omitempty" json:"value,omitempty"`

	// Enum restricts the variable to an explicit set of values.
	Enum []string `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// Flavor is one sizing option of the template.
type Flavor struct {
	Name       string            `yaml:"name" json:"name" validate:"required"`
	Properties map[string]string `yaml:"properties" json:"properties"`
	Priority   int               `yaml:"priority" json:"priority"`
}

// DeployerSpec selects and configures the deployer adapter.
type DeployerSpec struct {
	Kind DeployerKind `yaml:"kind" json:"kind"`

	// Script is the infrastructure-as-code body (HCL) executed by the
	// deployer.
	Script string `yaml:"script" json:"script" validate:"required"`

	// Version pins the tool version the deployer should use.
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// Billing carries the vendor's billing hints. Informational only.
type Billing struct {
	Model  string `yaml:"model" json:"model"`
	Period string `yaml:"period,omitempty" json:"period,omitempty"`
}

// Key returns the registry key for the template, name@version.
func (t *Template) Key() string {
	return Key(t.Name, t.Version)
}

// Key builds a registry key from a template name and version.
func Key(name, version string) string {
	return fmt.Sprintf("%s@%s", name, version)
}

// Flavor returns the named flavor, reporting whether it exists.
func (t *Template) Flavor(name string) (*Flavor, bool) {
	for i := range t.Flavors {
		if t.Flavors[i].Name == name {
			return &t.Flavors[i], true
		}
	}
	return nil, false
}

// HasRegion reports whether the template supports the named region.
func (t *Template) HasRegion(name string) bool {
	for i := range t.Regions {
		if t.Regions[i].Name == name {
			return true
		}
	}
	return false
}

// checkEnums validates every enum-typed field of the template against the
// typed lookup tables. Empty kinds default to their zero behavior
// (variable, string) before the check.
func (t *Template) checkEnums() error {
	if t.Deployer.Kind == "" {
		t.Deployer.Kind = DeployerKindTerraBoot
	}
	if _, ok := deployerKinds[t.Deployer.Kind]; !ok {
		return fmt.Errorf("unknown deployer kind %q", t.Deployer.Kind)
	}

	for i := range t.Variables {
		v := &t.Variables[i]
		if v.Kind == "" {
			v.Kind = VariableKindVariable
		}
		if v.DataType == "" {
			v.DataType = DataTypeString
		}
		if _, ok := variableKinds[v.Kind]; !ok {
			return fmt.Errorf("variable %s: unknown kind %q", v.Name, v.Kind)
		}
		if _, ok := dataTypes[v.DataType]; !ok {
			return fmt.Errorf("variable %s: unknown data type %q", v.Name, v.DataType)
		}
		if (v.Kind == VariableKindFixed || v.Kind == VariableKindFixedEnv) && v.Value == "" {
			return fmt.Errorf("variable %s: fixed kinds require a value", v.Name)
		}
	}

	return nil
}
