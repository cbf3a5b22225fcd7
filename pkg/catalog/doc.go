// Package catalog manages the service template catalog.
//
// Templates are YAML documents validated against a CUE schema, then
// registered by name and version. The package also validates caller
// deployment parameters against the template's variable declarations,
// builds the variable and environment maps handed to deployers, and
// masks sensitive values before anything reaches the order ledger.
package catalog
