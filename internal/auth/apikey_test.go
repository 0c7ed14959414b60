package auth_test

import (
	"testing"

	"github.com/pipectl/pipectl/internal/auth"
)

func TestSharedKeyAuthenticator_MatchesConfiguredKey(t *testing.T) {
	a := auth.NewSharedKeyAuthenticator("sk_test_123")
	if !a.Authenticate("sk_test_123") {
		t.Error("expected matching key to authenticate")
	}
}

func TestSharedKeyAuthenticator_RejectsWrongKey(t *testing.T) {
	a := auth.NewSharedKeyAuthenticator("sk_test_123")
	if a.Authenticate("sk_test_wrong") {
		t.Error("expected mismatched key to fail")
	}
}

func TestSharedKeyAuthenticator_RejectsDifferentLength(t *testing.T) {
	a := auth.NewSharedKeyAuthenticator("sk_test_123")
	if a.Authenticate("short") {
		t.Error("expected shorter candidate to fail")
	}
}

func TestSharedKeyAuthenticator_EmptyKeyAlwaysAuthenticates(t *testing.T) {
	a := auth.NewSharedKeyAuthenticator("")
	if !a.Authenticate("anything") {
		t.Error("expected unconfigured authenticator to allow any candidate")
	}
	if !a.Authenticate("") {
		t.Error("expected unconfigured authenticator to allow empty candidate")
	}
}
