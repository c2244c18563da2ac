package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// NonceSize is the explicit nonce length carried with every AEAD message.
const NonceSize = chacha20poly1305.NonceSize // 12

// TagSize is the ChaCha20-Poly1305 authentication tag length.
const TagSize = chacha20poly1305.Overhead // 16

// SecureStream seals and opens packet payloads with ChaCha20-Poly1305,
// using per-direction monotonic nonce counters.
// It wraps a single handshake's SessionKeys; one SecureStream exists per
// live connection, not per packet.
type SecureStream struct {
	sendAEAD cipher.AEAD
	recvAEAD cipher.AEAD

	mu         sync.Mutex
	sendNonce  uint64
	recvNonce  uint64
	sendWrapped bool
	recvWrapped bool
}

// NewSecureStream constructs a SecureStream from derived SessionKeys.
func NewSecureStream(keys *SessionKeys) (*SecureStream, error) {
	sendAEAD, err := chacha20poly1305.New(keys.SendKey[:])
	if err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "init send AEAD", err)
	}
	recvAEAD, err := chacha20poly1305.New(keys.RecvKey[:])
	if err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "init recv AEAD", err)
	}
	return &SecureStream{sendAEAD: sendAEAD, recvAEAD: recvAEAD}, nil
}

func nonceFromCounter(counter uint64) []byte {
	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// Seal encrypts plaintext, producing nonce ∥ ciphertext ∥ tag. The AEAD
// associated data is empty, so the packet header fields (type, sequence)
// are not covered by the AEAD tag.
func (s *SecureStream) Seal(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendWrapped {
		return nil, acerr.New(acerr.NonceExhausted, "send nonce counter exhausted")
	}

	nonce := nonceFromCounter(s.sendNonce)
	s.sendNonce++
	if s.sendNonce == 0 {
		s.sendWrapped = true
	}

	sealed := s.sendAEAD.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, NonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Open verifies and decrypts a message produced by a peer's Seal. It
// rejects messages whose embedded nonce does not match this side's
// expected recv counter, enforcing per-direction monotonicity.
func (s *SecureStream) Open(message []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recvWrapped {
		return nil, acerr.New(acerr.NonceExhausted, "recv nonce counter exhausted")
	}
	if len(message) < NonceSize+TagSize {
		return nil, acerr.New(acerr.AeadFailed, "message shorter than nonce+tag")
	}

	nonce := message[:NonceSize]
	ciphertext := message[NonceSize:]

	wantCounter := s.recvNonce
	gotCounter := binary.BigEndian.Uint64(nonce[4:])
	if gotCounter != wantCounter {
		return nil, acerr.New(acerr.SequenceRegression, "AEAD nonce counter out of order")
	}

	plaintext, err := s.recvAEAD.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, acerr.Wrap(acerr.AeadFailed, "AEAD open", err)
	}

	s.recvNonce++
	if s.recvNonce == 0 {
		s.recvWrapped = true
	}
	return plaintext, nil
}
