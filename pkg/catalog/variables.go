package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaskedValue replaces sensitive parameter values before they are
// persisted or logged.
const MaskedValue = "**********"

// ValidationError reports a single invalid deployment parameter.
type ValidationError struct {
	Variable string
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("variable %q: %s", e.Variable, e.Reason)
}

// ValidationErrors aggregates parameter failures so a caller sees every
// problem in one response instead of fixing them one at a time.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateParameters checks the caller-supplied parameters against the
// template's variable declarations. Fixed variables may not be supplied
// by the caller; mandatory variables must be present; values must match
// the declared data type and enum constraints.
func ValidateParameters(tmpl *Template, params map[string]interface{}) error {
	var errs ValidationErrors

	declared := make(map[string]*Variable, len(tmpl.Variables))
	for i := range tmpl.Variables {
		declared[tmpl.Variables[i].Name] = &tmpl.Variables[i]
	}

	for name := range params {
		v, ok := declared[name]
		if !ok {
			errs = append(errs, ValidationError{Variable: name, Reason: "not declared in template"})
			continue
		}
		if v.Kind == VariableKindFixed || v.Kind == VariableKindFixedEnv {
			errs = append(errs, ValidationError{Variable: name, Reason: "fixed variables cannot be overridden"})
		}
	}

	for _, v := range tmpl.Variables {
		if v.Kind == VariableKindFixed || v.Kind == VariableKindFixedEnv {
			continue
		}

		value, present := params[v.Name]
		if !present {
			if v.Mandatory {
				errs = append(errs, ValidationError{Variable: v.Name, Reason: "mandatory variable missing"})
			}
			continue
		}

		if err := checkDataType(&v, value); err != nil {
			errs = append(errs, ValidationError{Variable: v.Name, Reason: err.Error()})
			continue
		}

		if len(v.Enum) > 0 {
			if err := checkEnumValue(&v, value); err != nil {
				errs = append(errs, ValidationError{Variable: v.Name, Reason: err.Error()})
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkDataType(v *Variable, value interface{}) error {
	switch v.DataType {
	case DataTypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case DataTypeNumber:
		switch value.(type) {
		case int, int64, float64, json.Number:
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case DataTypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	}
	return nil
}

func checkEnumValue(v *Variable, value interface{}) error {
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprintf("%v", value)
	}
	for _, allowed := range v.Enum {
		if s == allowed {
			return nil
		}
	}
	return fmt.Errorf("value %q not in enum %v", s, v.Enum)
}

// BuildVariables merges caller parameters with fixed template values and
// splits them by kind. The first map feeds the deployer's input variables,
// the second becomes the deployer's environment.
func BuildVariables(tmpl *Template, params map[string]interface{}) (vars map[string]interface{}, env map[string]string) {
	vars = make(map[string]interface{})
	env = make(map[string]string)

	for _, v := range tmpl.Variables {
		switch v.Kind {
		case VariableKindVariable:
			if value, ok := params[v.Name]; ok {
				vars[v.Name] = value
			}
		case VariableKindEnv:
			if value, ok := params[v.Name]; ok {
				env[v.Name] = fmt.Sprintf("%v", value)
			}
		case VariableKindFixed:
			vars[v.Name] = v.Value
		case VariableKindFixedEnv:
			env[v.Name] = v.Value
		}
	}

	return vars, env
}

// MaskSensitive returns a copy of params with every value declared
// sensitive in the template replaced by a fixed mask. The result is what
// gets written to the order ledger.
func MaskSensitive(tmpl *Template, params map[string]interface{}) map[string]interface{} {
	sensitive := make(map[string]bool, len(tmpl.Variables))
	for _, v := range tmpl.Variables {
		if v.Sensitive {
			sensitive[v.Name] = true
		}
	}

	out := make(map[string]interface{}, len(params))
	for name, value := range params {
		if sensitive[name] {
			out[name] = MaskedValue
		} else {
			out[name] = value
		}
	}
	return out
}

// MaskSensitiveJSON is MaskSensitive for callers holding the raw
// parameters as JSON, which is how the ledger stores them.
func MaskSensitiveJSON(tmpl *Template, raw string) (string, error) {
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return "", fmt.Errorf("failed to decode parameters: %w", err)
	}

	masked, err := json.Marshal(MaskSensitive(tmpl, params))
	if err != nil {
		return "", fmt.Errorf("failed to encode masked parameters: %w", err)
	}
	return string(masked), nil
}
