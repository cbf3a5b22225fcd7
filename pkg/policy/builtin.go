package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		requestCompletenessPolicy(),
		deletionProtectionPolicy(),
		regionNamingPolicy(),
		productionDestroyPolicy(),
	}
}

// requestCompletenessPolicy rejects provisioning requests that lack a
// target region or flavor.
func requestCompletenessPolicy() Policy {
	return Policy{
		Name:        "request-completeness",
		Description: "Deploy and modify requests must name a region and a flavor",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"requests", "validation"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stratus.policies.completeness

import rego.v1

provisioning if input.request.kind == "deploy"
provisioning if input.request.kind == "modify"

deny contains violation if {
	provisioning
	not input.request.region
	violation := {
		"message": sprintf("%s request must name a region", [input.request.kind]),
		"severity": "error",
	}
}

deny contains violation if {
	provisioning
	input.request.region == ""
	violation := {
		"message": sprintf("%s request must name a region", [input.request.kind]),
		"severity": "error",
	}
}

deny contains violation if {
	provisioning
	not input.request.flavor
	violation := {
		"message": sprintf("%s request must name a flavor", [input.request.kind]),
		"severity": "error",
	}
}
`,
	}
}

// deletionProtectionPolicy blocks destroy and purge of instances whose
// variables carry a deletion_protection flag.
func deletionProtectionPolicy() Policy {
	return Policy{
		Name:        "deletion-protection",
		Description: "Instances deployed with deletion_protection=true cannot be destroyed or purged",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety", "lifecycle"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stratus.policies.deletion

import rego.v1

destructive if input.request.kind == "destroy"
destructive if input.request.kind == "purge"

deny contains violation if {
	destructive
	input.request.variables.deletion_protection == true
	violation := {
		"message": sprintf("Service %s is deletion protected", [input.request.service_id]),
		"severity": "critical",
	}
}
`,
	}
}

// regionNamingPolicy enforces region identifier conventions.
func regionNamingPolicy() Policy {
	return Policy{
		Name:        "region-naming",
		Description: "Region identifiers must be lowercase alphanumeric with hyphens",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stratus.policies.regions

import rego.v1

deny contains violation if {
	input.request.region
	input.request.region != ""
	not regex.match("^[a-z0-9-]+$", input.request.region)
	violation := {
		"message": sprintf("Region '%s' must contain only lowercase letters, numbers, and hyphens", [input.request.region]),
		"severity": "error",
	}
}
`,
	}
}

// productionDestroyPolicy flags destroys against production-looking
// regions. A warning only; operators still decide.
func productionDestroyPolicy() Policy {
	return Policy{
		Name:        "production-destroy",
		Description: "Warns when a destroy targets a production region",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety", "lifecycle"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stratus.policies.proddestroy

import rego.v1

deny contains violation if {
	input.request.kind == "destroy"
	contains(input.request.region, "prod")
	violation := {
		"message": sprintf("Destroying service in production region '%s'", [input.request.region]),
		"severity": "warning",
	}
}
`,
	}
}
