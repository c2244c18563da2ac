// Package crypto implements ACIP's per-connection security: an ephemeral
// X25519 key exchange with HKDF-SHA256 key derivation, ChaCha20-Poly1305
// AEAD framing of subsequent packet payloads, and optional Ed25519
// long-term identity signing of the handshake transcript.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

const (
	saltSize   = 32
	keySize    = 32
	hkdfInfoC2S = "ascii-chat/acip client-to-server"
	hkdfInfoS2C = "ascii-chat/acip server-to-client"
)

// Role distinguishes the two sides of a handshake so each derives the
// correct send/receive key pair from the same shared secret.
type Role int

const (
	RoleInitiator Role = iota // dialed out; the client side of a connection
	RoleResponder             // accepted the connection; the server side
)

// EphemeralKeyPair is a single-use X25519 key pair generated per handshake.
type EphemeralKeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateEphemeral creates a fresh X25519 key pair using crypto/rand.
func GenerateEphemeral() (*EphemeralKeyPair, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "generate ephemeral key", err)
	}

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "derive ephemeral public key", err)
	}

	kp := &EphemeralKeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// NewStaticKeyPair derives the public half of a caller-supplied X25519
// private key, for services configured with a long-lived --encrypt-key
// instead of a per-connection ephemeral.
func NewStaticKeyPair(private [32]byte) (*EphemeralKeyPair, error) {
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return nil, acerr.Wrap(acerr.InvalidParam, "derive static public key", err)
	}
	kp := &EphemeralKeyPair{Private: private}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SessionKeys holds the two directional symmetric keys derived from one
// handshake: one for messages this side sends, one for messages it receives.
type SessionKeys struct {
	SendKey [32]byte
	RecvKey [32]byte
}

// GenerateSalt produces a fresh random session salt for HKDF.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "generate session salt", err)
	}
	return salt, nil
}

// DeriveSessionKeys runs X25519 against the peer's ephemeral public key and
// HKDF-SHA256-expands the shared secret into directional send/recv keys,
// using role to pick which HKDF info label maps to which direction.
func DeriveSessionKeys(local *EphemeralKeyPair, peerPublic [32]byte, salt []byte, role Role) (*SessionKeys, error) {
	shared, err := curve25519.X25519(local.Private[:], peerPublic[:])
	if err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "compute shared secret", err)
	}

	c2s, err := expand(shared, salt, hkdfInfoC2S)
	if err != nil {
		return nil, err
	}
	s2c, err := expand(shared, salt, hkdfInfoS2C)
	if err != nil {
		return nil, err
	}

	keys := &SessionKeys{}
	switch role {
	case RoleInitiator:
		copy(keys.SendKey[:], c2s)
		copy(keys.RecvKey[:], s2c)
	case RoleResponder:
		copy(keys.SendKey[:], s2c)
		copy(keys.RecvKey[:], c2s)
	default:
		return nil, acerr.New(acerr.InvalidParam, fmt.Sprintf("unknown handshake role %d", role))
	}
	return keys, nil
}

func expand(secret, salt []byte, info string) ([]byte, error) {
	reader := hkdf.New(sha256New, secret, salt, []byte(info))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "HKDF expand "+info, err)
	}
	return key, nil
}

// Fingerprint renders pub as "SHA-256:<64-hex>" for startup display.
func Fingerprint(pub [32]byte) string {
	return fingerprintSHA256(pub[:])
}
