package story

import (
	"fmt"

	"github.com/trumanellis/indranet/internal/identity"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult int

const (
	// AuthSuccess means the story matched.
	AuthSuccess AuthResult = iota
	// AuthFailed means the story did not match the stored account.
	AuthFailed
	// AuthRehearsalDue means the story matched and a rehearsal is due.
	AuthRehearsalDue
)

// AuthError wraps failures of the story authentication flow with a
// structured reason.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "story auth: " + e.Reason
}

// Auth orchestrates account creation, authentication and story rotation
// over a Keystore plus rehearsal schedule.
type Auth struct {
	keystore  *Keystore
	rehearsal *RehearsalState
	dataDir   string
	salt      []byte
}

// CreateAccount validates the story through the entropy gate, derives keys,
// and initializes the keystore with a fresh PQ identity. The gate runs
// before anything touches disk.
func CreateAccount(dataDir string, ps *PassStory, userID []byte, timestamp uint64) (*Auth, *identity.SecretIdentity, error) {
	if err := EntropyGate(ps.Slots()); err != nil {
		return nil, nil, err
	}

	salt := BuildSalt(userID, timestamp)
	canonical, err := ps.Canonical()
	if err != nil {
		return nil, nil, &AuthError{Reason: fmt.Sprintf("canonical encoding failed: %v", err)}
	}

	master := DeriveMasterKey(canonical, salt)
	defer master.Destroy()
	keys, err := ExpandSubkeys(master)
	if err != nil {
		return nil, nil, &AuthError{Reason: fmt.Sprintf("key expansion failed: %v", err)}
	}
	defer keys.Destroy()
	token := VerificationToken(master)

	ks := NewKeystore(dataDir)
	id, err := ks.Initialize(keys.Encryption, token, salt, 1)
	if err != nil {
		return nil, nil, &AuthError{Reason: fmt.Sprintf("keystore initialization failed: %v", err)}
	}

	auth := &Auth{
		keystore:  ks,
		rehearsal: NewRehearsalState(),
		dataDir:   dataDir,
		salt:      salt,
	}
	if err := SaveRehearsal(dataDir, auth.rehearsal); err != nil {
		return nil, nil, err
	}
	return auth, id, nil
}

// Authenticate re-derives keys from the supplied story and unlocks the
// keystore. A wrong story yields (AuthFailed, nil identity), not an error.
func Authenticate(dataDir string, ps *PassStory) (*Auth, *identity.SecretIdentity, AuthResult, error) {
	ks := NewKeystore(dataDir)
	if !ks.IsInitialized() {
		return nil, nil, AuthFailed, &AuthError{Reason: "no keystore found, create an account first"}
	}

	salt, err := ks.Salt()
	if err != nil {
		return nil, nil, AuthFailed, &AuthError{Reason: fmt.Sprintf("failed to load salt: %v", err)}
	}

	canonical, err := ps.Canonical()
	if err != nil {
		return nil, nil, AuthFailed, &AuthError{Reason: fmt.Sprintf("canonical encoding failed: %v", err)}
	}

	master := DeriveMasterKey(canonical, salt)
	defer master.Destroy()
	keys, err := ExpandSubkeys(master)
	if err != nil {
		return nil, nil, AuthFailed, &AuthError{Reason: fmt.Sprintf("key expansion failed: %v", err)}
	}
	defer keys.Destroy()
	token := VerificationToken(master)

	auth := &Auth{
		keystore:  ks,
		rehearsal: LoadRehearsal(dataDir),
		dataDir:   dataDir,
		salt:      salt,
	}

	id, err := ks.Unlock(keys.Encryption, token)
	if err != nil {
		return auth, nil, AuthFailed, nil
	}

	result := AuthSuccess
	if auth.rehearsal.IsDue() {
		auth.rehearsal.RecordSuccess()
		result = AuthRehearsalDue
	}
	if err := SaveRehearsal(dataDir, auth.rehearsal); err != nil {
		return auth, id, result, err
	}
	return auth, id, result, nil
}

// Rotate re-seals the identity under a new story. The new story must pass
// the entropy gate.
func (a *Auth) Rotate(id *identity.SecretIdentity, newStory *PassStory, userID []byte, timestamp uint64) error {
	if err := EntropyGate(newStory.Slots()); err != nil {
		return err
	}

	newSalt := BuildSalt(userID, timestamp)
	canonical, err := newStory.Canonical()
	if err != nil {
		return &AuthError{Reason: fmt.Sprintf("canonical encoding failed: %v", err)}
	}

	master := DeriveMasterKey(canonical, newSalt)
	defer master.Destroy()
	keys, err := ExpandSubkeys(master)
	if err != nil {
		return &AuthError{Reason: fmt.Sprintf("key expansion failed: %v", err)}
	}
	defer keys.Destroy()
	token := VerificationToken(master)

	if err := a.keystore.Rotate(id, keys.Encryption, token, newSalt); err != nil {
		return &AuthError{Reason: fmt.Sprintf("key rotation failed: %v", err)}
	}

	a.salt = newSalt
	a.rehearsal = NewRehearsalState()
	return SaveRehearsal(a.dataDir, a.rehearsal)
}

// Rehearsal exposes the schedule.
func (a *Auth) Rehearsal() *RehearsalState {
	return a.rehearsal
}
