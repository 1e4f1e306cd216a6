package secrets

import (
	"context"
	"os"
	"strings"
)

// EnvResolver reads secrets from the process environment: env://NAME.
type EnvResolver struct {
	// LookupEnv overrides os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Scheme returns "env".
func (r *EnvResolver) Scheme() string {
	return "env"
}

// Resolve returns the value of the named variable.
func (r *EnvResolver) Resolve(ctx context.Context, reference string) (string, error) {
	name := strings.TrimPrefix(reference, "env://")
	if name == "" || strings.ContainsAny(name, "/=") {
		return "", &InvalidReferenceError{Reference: reference, Reason: "expected env://VARIABLE_NAME"}
	}

	lookup := r.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(name)
	if !ok || value == "" {
		return "", &NotFoundError{Reference: reference, Backend: "environment"}
	}
	return value, nil
}
