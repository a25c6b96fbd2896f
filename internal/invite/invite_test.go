package invite

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/trumanellis/indranet/internal/core"
	"github.com/trumanellis/indranet/internal/identity"
)

func createTestInvite(t *testing.T, expiry time.Duration) (*Invite, *identity.SecretIdentity, core.InterfaceID) {
	t.Helper()
	issuer, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	ifaceID, _ := core.GenerateInterfaceID()
	key, err := NewInterfaceKey()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	inv, err := Create(issuer, ifaceID, key, []string{"/ip4/10.0.0.1/tcp/4001"}, expiry)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return inv, issuer, ifaceID
}

func TestEncodeParseRoundTrip(t *testing.T) {
	inv, issuer, ifaceID := createTestInvite(t, DefaultExpiry)

	encoded, err := inv.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !strings.HasPrefix(encoded, Prefix) {
		t.Errorf("encoded invite must carry the %q prefix", Prefix)
	}

	parsed, err := Parse(encoded)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.Interface() != ifaceID {
		t.Error("interface ID must round trip")
	}
	if !bytes.Equal(parsed.Key, inv.Key) {
		t.Error("key material must round trip")
	}
	gotIssuer, err := parsed.Issuer()
	if err != nil {
		t.Fatalf("issuer failed: %v", err)
	}
	if gotIssuer != issuer.Public() {
		t.Error("issuer must round trip")
	}
}

func TestParseRejectsMissingPrefix(t *testing.T) {
	if _, err := Parse("vaultd://whatever"); !errors.Is(err, ErrBadInvite) {
		t.Errorf("want ErrBadInvite, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse(Prefix + "!!!not-base64!!!"); !errors.Is(err, ErrBadInvite) {
		t.Errorf("want ErrBadInvite, got %v", err)
	}
	if _, err := Parse(Prefix + "aGVsbG8"); !errors.Is(err, ErrBadInvite) {
		t.Errorf("want ErrBadInvite for non-JSON payload, got %v", err)
	}
}

func TestParseRejectsTamperedInvite(t *testing.T) {
	inv, _, _ := createTestInvite(t, DefaultExpiry)

	// Tamper with the key material after signing.
	inv.Key[0] ^= 0xFF
	encoded, _ := inv.Encode()
	if _, err := Parse(encoded); !errors.Is(err, ErrBadInvite) {
		t.Errorf("tampered invite must fail signature check, got %v", err)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	inv, _, _ := createTestInvite(t, -time.Hour)
	encoded, _ := inv.Encode()
	if _, err := Parse(encoded); !errors.Is(err, ErrInviteExpired) {
		t.Errorf("want ErrInviteExpired, got %v", err)
	}
	if !inv.IsExpired() {
		t.Error("IsExpired must agree")
	}
}

func TestQRGeneration(t *testing.T) {
	inv, _, _ := createTestInvite(t, DefaultExpiry)

	png, err := inv.ToQR()
	if err != nil {
		t.Fatalf("qr png failed: %v", err)
	}
	if len(png) == 0 {
		t.Error("qr png should not be empty")
	}

	ascii, err := inv.ToQRString()
	if err != nil {
		t.Fatalf("qr ascii failed: %v", err)
	}
	if len(ascii) == 0 {
		t.Error("qr ascii should not be empty")
	}
}

func TestMinimalCodeRoundTrip(t *testing.T) {
	inv, _, ifaceID := createTestInvite(t, DefaultExpiry)

	code := inv.ToMinimalCode()
	gotIface, gotKey, addr, err := ParseMinimalCode(code)
	if err != nil {
		t.Fatalf("parse minimal failed: %v", err)
	}
	if gotIface != ifaceID {
		t.Error("interface ID must round trip through minimal code")
	}
	if !bytes.Equal(gotKey, inv.Key) {
		t.Error("key must round trip through minimal code")
	}
	if addr != inv.Bootstrap[0] {
		t.Errorf("bootstrap addr: want %q, got %q", inv.Bootstrap[0], addr)
	}

	if _, _, _, err := ParseMinimalCode("nope"); !errors.Is(err, ErrBadInvite) {
		t.Errorf("want ErrBadInvite, got %v", err)
	}
}
