package secrets

import (
	"context"
	"errors"
	"testing"
)

type mockResolver struct {
	scheme string
	values map[string]string
}

func (m *mockResolver) Scheme() string {
	return m.scheme
}

func (m *mockResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if v, ok := m.values[ref]; ok {
		return v, nil
	}
	return "", &NotFoundError{Reference: ref}
}

func TestRegistry_DispatchesToCorrectResolver(t *testing.T) {
	r := NewRegistry(&mockResolver{
		scheme: "mock",
		values: map[string]string{"mock://vault/item/field": "secret-value"},
	})

	val, err := r.Resolve(context.Background(), "mock://vault/item/field")
	if err != nil {
		t.Fatal(err)
	}
	if val != "secret-value" {
		t.Errorf("expected 'secret-value', got %q", val)
	}
}

func TestRegistry_UnsupportedScheme(t *testing.T) {
	r := NewRegistry(&mockResolver{scheme: "mock"})
	_, err := r.Resolve(context.Background(), "unknown://vault/item")

	var unsupported *UnsupportedSchemeError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedSchemeError, got %T", err)
	}
	if got := unsupported.Error(); got != "unsupported secret scheme: unknown (supported: mock)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestRegistry_InvalidReference(t *testing.T) {
	_, err := NewRegistry().Resolve(context.Background(), "sk-not-a-reference")

	var invalid *InvalidReferenceError
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidReferenceError, got %T", err)
	}
}

func TestRegistry_EmptyValueIsNotFound(t *testing.T) {
	r := NewRegistry(&mockResolver{scheme: "mock", values: map[string]string{"mock://empty": ""}})
	_, err := r.Resolve(context.Background(), "mock://empty")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDefault_Schemes(t *testing.T) {
	got := Default().Schemes()
	want := []string{"awssm", "env", "keychain", "op"}
	if len(got) != len(want) {
		t.Fatalf("Schemes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Schemes()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIsReference(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"env://OPENAI_API_KEY", true},
		{"op://Dev/OpenAI/key", true},
		{"awssm:///prod/key", true},
		{"sk-ant-api03-abc", false},
		{"://nothing", false},
		{"Bad Scheme://x", false},
	}
	for _, tt := range tests {
		if got := IsReference(tt.in); got != tt.want {
			t.Errorf("IsReference(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEnvResolver(t *testing.T) {
	t.Setenv("AUTHPROFILES_TEST_KEY", "sk-from-env")
	r := &EnvResolver{}

	val, err := r.Resolve(context.Background(), "env://AUTHPROFILES_TEST_KEY")
	if err != nil {
		t.Fatal(err)
	}
	if val != "sk-from-env" {
		t.Errorf("got %q", val)
	}

	_, err = r.Resolve(context.Background(), "env://AUTHPROFILES_TEST_UNSET_VAR")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = r.Resolve(context.Background(), "env://")
	var invalid *InvalidReferenceError
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidReferenceError, got %T", err)
	}
}

func TestOnePasswordErrors(t *testing.T) {
	ref := "op://Dev/OpenAI/api-key"

	var backendErr *BackendError
	err := classifyOpError("[ERROR] 2024/01/15 10:00:00 You are not currently signed in", ref)
	if !errors.As(err, &backendErr) || backendErr.Reason != "not signed in" {
		t.Errorf("not signed in: got %v", err)
	}

	err = classifyOpError(`[ERROR] "OpenAI" isn't an item`, ref)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing item: got %v", err)
	}

	err = classifyOpError(`[ERROR] "Dev" isn't a vault`, ref)
	if !errors.As(err, &backendErr) || backendErr.Reason != "vault not found or not accessible" {
		t.Errorf("missing vault: got %v", err)
	}
}

func TestOnePasswordResolver_InvalidReference(t *testing.T) {
	_, err := (&OnePasswordResolver{}).Resolve(context.Background(), "op://just-a-vault")
	var invalid *InvalidReferenceError
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidReferenceError, got %T", err)
	}
}
