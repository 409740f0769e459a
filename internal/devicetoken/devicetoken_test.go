package devicetoken

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const secret = "0123456789abcdef-test"

func TestIssueValidate(t *testing.T) {
	iss, err := NewIssuer(secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := iss.Issue("d1", "u1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	c, err := iss.Validate(tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Subject != "d1" || c.OwnerID != "u1" {
		t.Errorf("claims = %+v", c)
	}
}

func TestValidate_Rejects(t *testing.T) {
	iss, _ := NewIssuer(secret, time.Hour)
	other, _ := NewIssuer("a-completely-different-secret", time.Hour)
	foreign, _ := other.Issue("d1", "u1")

	expiring, _ := NewIssuer(secret, time.Minute)
	expiring.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiring.Issue("d1", "u1")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "d1", Issuer: issuer}})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"garbage":      "not-a-jwt",
		"wrong secret": foreign,
		"expired":      expired,
		"alg none":     unsigned,
	} {
		if _, err := iss.Validate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestNewIssuer_ShortSecret(t *testing.T) {
	if _, err := NewIssuer("short", 0); err == nil {
		t.Error("short secret accepted")
	}
}
