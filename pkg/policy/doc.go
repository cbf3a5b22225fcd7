// Package policy provides Open Policy Agent (OPA) based gating of
// deployment requests.
//
// Every order passes through the engine before the orchestrator
// accepts it. Policies are Rego modules; a policy denies a request by
// adding entries to its `deny` set. Error and critical denials block
// the order, warnings are surfaced but do not.
//
// Creating an engine:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating a request:
//
//	result, err := eng.Evaluate(ctx, &policy.Request{
//	    Kind:   "deploy",
//	    Csp:    "devcloud",
//	    Region: "eu-west-1",
//	    Flavor: "small",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Printf("policy %s: %s\n", v.Policy, v.Message)
//	    }
//	}
//
// Custom policies load from .rego or .json files:
//
//	err = eng.LoadPolicies(ctx, []string{"/etc/stratus/policies"})
//
// Built-in policies cover request completeness, region naming,
// deletion protection, and production destroy warnings.
package policy
