package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// Identity is a long-term Ed25519 key pair a peer may use to sign
// handshake transcripts, persisted on disk as the 32-byte public key
// followed by the 64-byte secret key.
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateIdentity creates a fresh Ed25519 identity key pair.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "generate identity key", err)
	}
	return &Identity{Public: pub, Private: priv}, nil
}

// MarshalIdentityFile renders id as the 96-byte on-disk layout: 32-byte
// public key followed by 64-byte secret key.
func MarshalIdentityFile(id *Identity) []byte {
	out := make([]byte, ed25519.PublicKeySize+ed25519.PrivateKeySize)
	copy(out[:ed25519.PublicKeySize], id.Public)
	copy(out[ed25519.PublicKeySize:], id.Private)
	return out
}

// ParseIdentityFile parses the on-disk layout produced by MarshalIdentityFile.
func ParseIdentityFile(data []byte) (*Identity, error) {
	want := ed25519.PublicKeySize + ed25519.PrivateKeySize
	if len(data) != want {
		return nil, acerr.New(acerr.InvalidParam, "identity file has wrong size")
	}
	id := &Identity{
		Public:  make(ed25519.PublicKey, ed25519.PublicKeySize),
		Private: make(ed25519.PrivateKey, ed25519.PrivateKeySize),
	}
	copy(id.Public, data[:ed25519.PublicKeySize])
	copy(id.Private, data[ed25519.PublicKeySize:])
	return id, nil
}

// Transcript builds the signed material for a handshake: session UUID
// bytes, both ephemeral public keys, and the salt, concatenated in a
// fixed order so both sides sign/verify the identical byte string.
func Transcript(sessionUUID, localEphemeral, peerEphemeral, salt []byte) []byte {
	out := make([]byte, 0, len(sessionUUID)+len(localEphemeral)+len(peerEphemeral)+len(salt))
	out = append(out, sessionUUID...)
	out = append(out, localEphemeral...)
	out = append(out, peerEphemeral...)
	out = append(out, salt...)
	return out
}

// Sign signs transcript with the identity's long-term secret key.
func Sign(id *Identity, transcript []byte) []byte {
	return ed25519.Sign(id.Private, transcript)
}

// Verify checks a signature produced by Sign against pub.
func Verify(pub ed25519.PublicKey, transcript, signature []byte) bool {
	return ed25519.Verify(pub, transcript, signature)
}
