// Package invite implements the capability used to admit a peer to an
// interface: interface ID, interface key material and optional bootstrap
// addresses, signed by the issuer and encoded as a compact string.
package invite

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/trumanellis/indranet/internal/core"
	"github.com/trumanellis/indranet/internal/identity"
)

// Prefix is the URL scheme for invites.
const Prefix = "indras://"

// DefaultExpiry is how long invites stay valid.
const DefaultExpiry = 24 * time.Hour

// InterfaceKeySize is the symmetric key material carried by an invite.
const InterfaceKeySize = 32

// ErrBadInvite reports an invite that failed structural or cryptographic
// validation.
var ErrBadInvite = errors.New("bad invite")

// ErrInviteExpired reports an invite past its expiry.
var ErrInviteExpired = errors.New("invite expired")

// Invite is the admission capability for one interface.
type Invite struct {
	InterfaceID []byte   `json:"i"`
	Key         []byte   `json:"k"`
	Bootstrap   []string `json:"b,omitempty"`
	IssuerKey   []byte   `json:"p"`
	CreatedAt   int64    `json:"c"`
	ExpiresAt   int64    `json:"e"`
	Signature   []byte   `json:"s"`
}

// NewInterfaceKey draws fresh interface key material.
func NewInterfaceKey() ([]byte, error) {
	key := make([]byte, InterfaceKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate interface key: %w", err)
	}
	return key, nil
}

// Create signs a new invite for an interface.
func Create(issuer *identity.SecretIdentity, interfaceID core.InterfaceID, key []byte, bootstrap []string, expiry time.Duration) (*Invite, error) {
	now := time.Now()
	inv := &Invite{
		InterfaceID: interfaceID[:],
		Key:         key,
		Bootstrap:   bootstrap,
		IssuerKey:   issuer.Public().Bytes(),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(expiry).Unix(),
	}

	sig, err := issuer.Sign(inv.signable())
	if err != nil {
		return nil, fmt.Errorf("failed to sign invite: %w", err)
	}
	inv.Signature = sig.Bytes()
	return inv, nil
}

// signable returns the byte string covered by the signature.
func (i *Invite) signable() []byte {
	var sb strings.Builder
	sb.WriteString(base64.StdEncoding.EncodeToString(i.InterfaceID))
	sb.WriteByte('|')
	sb.WriteString(base64.StdEncoding.EncodeToString(i.Key))
	sb.WriteByte('|')
	sb.WriteString(strings.Join(i.Bootstrap, ","))
	sb.WriteByte('|')
	fmt.Fprintf(&sb, "%d|%d", i.CreatedAt, i.ExpiresAt)
	return []byte(sb.String())
}

// Encode serializes the invite to its transportable string form.
func (i *Invite) Encode() (string, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return "", fmt.Errorf("failed to encode invite: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// ToMinimalCode returns a short unsigned form that fits in a QR code:
// indras://<base64(interface_id || key)>@<first bootstrap addr>. The
// post-quantum signature (several kilobytes) does not fit; minimal codes
// trade authentication for scannability and are verified out of band.
func (i *Invite) ToMinimalCode() string {
	payload := make([]byte, 0, len(i.InterfaceID)+len(i.Key))
	payload = append(payload, i.InterfaceID...)
	payload = append(payload, i.Key...)
	addr := ""
	if len(i.Bootstrap) > 0 {
		addr = i.Bootstrap[0]
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(payload) + "@" + addr
}

// ParseMinimalCode splits a minimal code into interface ID, key and
// bootstrap address.
func ParseMinimalCode(s string) (core.InterfaceID, []byte, string, error) {
	var ifaceID core.InterfaceID
	if !strings.HasPrefix(s, Prefix) {
		return ifaceID, nil, "", fmt.Errorf("%w: missing %q prefix", ErrBadInvite, Prefix)
	}
	body := strings.TrimPrefix(s, Prefix)
	payloadPart, addr, _ := strings.Cut(body, "@")
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil || len(payload) != 32+InterfaceKeySize {
		return ifaceID, nil, "", fmt.Errorf("%w: invalid minimal payload", ErrBadInvite)
	}
	ifaceID, _ = core.InterfaceIDFromSlice(payload[:32])
	return ifaceID, payload[32:], addr, nil
}

// ToQR renders the minimal code as a QR PNG.
func (i *Invite) ToQR() ([]byte, error) {
	return qrcode.Encode(i.ToMinimalCode(), qrcode.Low, 512)
}

// ToQRString renders an ASCII QR for terminal display.
func (i *Invite) ToQRString() (string, error) {
	qr, err := qrcode.New(i.ToMinimalCode(), qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("failed to build QR code: %w", err)
	}
	return qr.ToSmallString(false), nil
}

// Parse validates an encoded invite: shape, issuer signature, and expiry.
func Parse(s string) (*Invite, error) {
	if !strings.HasPrefix(s, Prefix) {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrBadInvite, Prefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, Prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding", ErrBadInvite)
	}

	var inv Invite
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: invalid payload", ErrBadInvite)
	}
	if len(inv.InterfaceID) != 32 {
		return nil, fmt.Errorf("%w: interface id must be 32 bytes", ErrBadInvite)
	}
	if len(inv.Key) != InterfaceKeySize {
		return nil, fmt.Errorf("%w: interface key must be %d bytes", ErrBadInvite, InterfaceKeySize)
	}

	issuer, err := identity.PublicIdentityFromBytes(inv.IssuerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid issuer key", ErrBadInvite)
	}
	sig, err := identity.SignatureFromBytes(inv.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signature shape", ErrBadInvite)
	}
	if !issuer.Verify(inv.signable(), sig) {
		return nil, fmt.Errorf("%w: signature verification failed", ErrBadInvite)
	}

	if time.Now().Unix() > inv.ExpiresAt {
		return nil, ErrInviteExpired
	}
	return &inv, nil
}

// Interface returns the typed interface ID.
func (i *Invite) Interface() core.InterfaceID {
	id, _ := core.InterfaceIDFromSlice(i.InterfaceID)
	return id
}

// Issuer returns the issuer's public identity.
func (i *Invite) Issuer() (identity.PublicIdentity, error) {
	return identity.PublicIdentityFromBytes(i.IssuerKey)
}

// IsExpired reports expiry without full validation.
func (i *Invite) IsExpired() bool {
	return time.Now().Unix() > i.ExpiresAt
}
