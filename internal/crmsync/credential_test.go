package crmsync_test

import (
	"testing"

	"github.com/jmerrifield20/propwatch/internal/crmsync"
)

func TestNewCredentialRejectsEmptyKey(t *testing.T) {
	if _, err := crmsync.NewCredential(""); err == nil {
		t.Fatalf("expected an error for an empty api key")
	}
}

func TestCredentialVerifyAndPlaintext(t *testing.T) {
	cred, err := crmsync.NewCredential("super-secret-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.PlaintextForRequest() != "super-secret-key" {
		t.Fatalf("plaintext = %q", cred.PlaintextForRequest())
	}
	if !cred.Verify("super-secret-key") {
		t.Fatalf("expected Verify to accept the original key")
	}
	if cred.Verify("wrong-key") {
		t.Fatalf("expected Verify to reject a different key")
	}
	if cred.StoredHash() == "super-secret-key" {
		t.Fatalf("stored hash must not equal the plaintext key")
	}
}

func TestLoadCredentialHashVerifiesAgainstStoredHash(t *testing.T) {
	cred, err := crmsync.NewCredential("super-secret-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	restored := crmsync.LoadCredentialHash(cred.StoredHash())
	if !restored.Verify("super-secret-key") {
		t.Fatalf("expected a credential loaded from a stored hash to verify the original key")
	}
	if restored.Verify("rotated-key") {
		t.Fatalf("expected a credential loaded from a stored hash to reject a different key")
	}
}
