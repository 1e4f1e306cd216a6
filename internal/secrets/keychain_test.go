package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestKeychainResolver(t *testing.T) {
	keyring.MockInit()
	if err := keyring.Set("authprofiles", "openai:work", "sk-keychain"); err != nil {
		t.Fatal(err)
	}
	r := &KeychainResolver{}

	val, err := r.Resolve(context.Background(), "keychain://authprofiles/openai:work")
	if err != nil {
		t.Fatal(err)
	}
	if val != "sk-keychain" {
		t.Errorf("got %q", val)
	}

	_, err = r.Resolve(context.Background(), "keychain://authprofiles/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = r.Resolve(context.Background(), "keychain://only-service")
	var invalid *InvalidReferenceError
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidReferenceError, got %T", err)
	}
}
