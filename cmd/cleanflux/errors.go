package main

import "fmt"

// Error definitions for cleanflux configuration validation.
var (
	errBackendHostRequired = fmt.Errorf("backend_host is required")
	errBackendPortRequired = fmt.Errorf("backend_port must be set to a positive value")
	errNoRetentionPolicies = fmt.Errorf("retention_policies must be set when auto_retrieve_retention_policies is false")
)

func errRetentionPolicyIncomplete(index int) error {
	return fmt.Errorf("retention_policies[%d]: schema and name are required", index)
}

func errUnknownRule(name string) error {
	return fmt.Errorf("rules: %q is not a known corrective rule", name)
}
