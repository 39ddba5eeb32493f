package secrets

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/multicloud-portal/portal/internal/models"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	c, err := NewCipher(&Config{AgePublicKey: pub, AgePrivateKey: priv}, nil)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return c
}

// **Feature: deployment-portal, Property 6: Credential encryption round-trip**
// For any secret value, sealing then opening SHALL return the original value,
// and the sealed form SHALL never equal a non-empty plaintext.
func TestSealOpenRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("open(seal(x)) == x", prop.ForAll(
		func(plaintext string) bool {
			sealed, err := c.Seal(plaintext)
			if err != nil {
				return false
			}
			if plaintext != "" && sealed == plaintext {
				return false
			}
			opened, err := c.Open(sealed)
			return err == nil && opened == plaintext
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestOpenWithWrongKey(t *testing.T) {
	a := newTestCipher(t)
	b := newTestCipher(t)

	sealed, err := a.Seal("client-secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestNewCipherKeyMismatch(t *testing.T) {
	pubA, _, _ := GenerateKeyPair()
	_, privB, _ := GenerateKeyPair()
	if _, err := NewCipher(&Config{AgePublicKey: pubA, AgePrivateKey: privB}, nil); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("expected ErrKeyMismatch, got %v", err)
	}
}

func TestNewCipherEphemeral(t *testing.T) {
	c, err := NewCipher(&Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := c.Seal("x")
	if err != nil || !IsSealed(sealed) {
		t.Fatalf("seal with ephemeral key failed: %v", err)
	}
}

func TestSealCredentialIdempotent(t *testing.T) {
	c := newTestCipher(t)
	cred := models.Credential{Cloud: models.CloudAzure, ClientID: "app", Secret: "s3cret"}

	once, err := c.SealCredential(cred)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := c.SealCredential(once)
	if err != nil {
		t.Fatal(err)
	}
	if once.Secret != twice.Secret {
		t.Fatal("sealing an already sealed credential must not re-encrypt")
	}

	opened, err := c.OpenCredential(twice)
	if err != nil || opened.Secret != "s3cret" {
		t.Fatalf("OpenCredential = %q, %v", opened.Secret, err)
	}
}
