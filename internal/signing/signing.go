// Package signing implements the narrow sign/verify capability the engine
// expects a host to provide for journal authenticity (spec §4.5, §6
// "Signature capability"). The engine never parses signatures itself; it
// only calls Sign when publishing and Verify when receiving from a signed
// set.
package signing

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/desertwitch/lmirror/internal/lmirrorerr"
)

// Signer produces a detached signature over content.
type Signer interface {
	Sign(content []byte) ([]byte, error)
}

// Verifier checks a detached signature over content against a keyring.
type Verifier interface {
	Verify(keyring []byte, signature, content []byte) error
}

// OpenPGP signs with a single private key entity and verifies against
// whatever keyring bytes the caller supplies (spec §4.5: "lmirror.gpg"
// presence on a set means it is signed).
type OpenPGP struct {
	SigningKey *openpgp.Entity
}

// LoadSigningKey reads a single-entity armored or binary private key.
func LoadSigningKey(r io.Reader) (*openpgp.Entity, error) {
	entities, err := openpgp.ReadKeyRing(r)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	if len(entities) != 1 {
		return nil, fmt.Errorf("expected exactly one signing key entity, got %d", len(entities))
	}

	return entities[0], nil
}

// Sign produces a detached (not cleartext) signature over content.
func (o *OpenPGP) Sign(content []byte) ([]byte, error) {
	var buf bytes.Buffer

	if err := openpgp.DetachSign(&buf, o.SigningKey, bytes.NewReader(content), nil); err != nil {
		return nil, fmt.Errorf("detach sign: %w", err)
	}

	return buf.Bytes(), nil
}

// Verify checks signature against content using the public keys in
// keyring. Failure of any kind (bad keyring, bad signature, no matching
// key) surfaces as lmirrorerr.ErrBadSignature.
func (o *OpenPGP) Verify(keyring []byte, signature, content []byte) error {
	entities, err := openpgp.ReadKeyRing(bytes.NewReader(keyring))
	if err != nil {
		return fmt.Errorf("%w: read keyring: %v", lmirrorerr.ErrBadSignature, err) //nolint:errorlint
	}

	if _, err := openpgp.CheckDetachedSignature(entities, bytes.NewReader(content), bytes.NewReader(signature), nil); err != nil {
		return fmt.Errorf("%w: %v", lmirrorerr.ErrBadSignature, err) //nolint:errorlint
	}

	return nil
}

// SerializePublicKey writes the signer's public key packets, suitable for
// writing into a set's lmirror.gpg keyring file.
func (o *OpenPGP) SerializePublicKey(w io.Writer) error {
	if err := o.SigningKey.Serialize(w); err != nil {
		return fmt.Errorf("serialize public key: %w", err)
	}

	return nil
}
