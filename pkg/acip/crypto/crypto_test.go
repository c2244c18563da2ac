package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeDerivesMatchingKeys(t *testing.T) {
	initiator, err := GenerateEphemeral()
	require.NoError(t, err)
	responder, err := GenerateEphemeral()
	require.NoError(t, err)

	salt, err := GenerateSalt()
	require.NoError(t, err)

	initKeys, err := DeriveSessionKeys(initiator, responder.Public, salt, RoleInitiator)
	require.NoError(t, err)
	respKeys, err := DeriveSessionKeys(responder, initiator.Public, salt, RoleResponder)
	require.NoError(t, err)

	require.Equal(t, initKeys.SendKey, respKeys.RecvKey)
	require.Equal(t, initKeys.RecvKey, respKeys.SendKey)
}

func TestSecureStreamRoundTrip(t *testing.T) {
	initiator, responder := mustHandshake(t)

	initStream, err := NewSecureStream(initiator)
	require.NoError(t, err)
	respStream, err := NewSecureStream(responder)
	require.NoError(t, err)

	sealed, err := initStream.Seal([]byte("hello from initiator"))
	require.NoError(t, err)

	opened, err := respStream.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "hello from initiator", string(opened))
}

func TestSecureStreamRejectsOutOfOrder(t *testing.T) {
	initiator, responder := mustHandshake(t)
	initStream, err := NewSecureStream(initiator)
	require.NoError(t, err)
	respStream, err := NewSecureStream(responder)
	require.NoError(t, err)

	msg1, err := initStream.Seal([]byte("one"))
	require.NoError(t, err)
	msg2, err := initStream.Seal([]byte("two"))
	require.NoError(t, err)

	// Deliver out of order: responder expects counter 0 first.
	_, err = respStream.Open(msg2)
	require.Error(t, err)

	_, err = respStream.Open(msg1)
	require.NoError(t, err)
}

func TestSecureStreamTamperDetected(t *testing.T) {
	initiator, responder := mustHandshake(t)
	initStream, err := NewSecureStream(initiator)
	require.NoError(t, err)
	respStream, err := NewSecureStream(responder)
	require.NoError(t, err)

	sealed, err := initStream.Seal([]byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = respStream.Open(sealed)
	require.Error(t, err)
}

func TestIdentityFileRoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	data := MarshalIdentityFile(id)
	parsed, err := ParseIdentityFile(data)
	require.NoError(t, err)
	require.Equal(t, id.Public, parsed.Public)
	require.Equal(t, id.Private, parsed.Private)
}

func TestSignVerify(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	transcript := Transcript([]byte("session"), []byte("eph-a"), []byte("eph-b"), []byte("salt"))
	sig := Sign(id, transcript)
	require.True(t, Verify(id.Public, transcript, sig))
	require.False(t, Verify(id.Public, append(transcript, 0x00), sig))
}

func TestLoadOrCreateIdentityPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "discovery_identity")

	created, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)
	require.Equal(t, created.Public, loaded.Public)
	require.Equal(t, created.Private, loaded.Private)
}

func TestFingerprintFormat(t *testing.T) {
	kp, err := GenerateEphemeral()
	require.NoError(t, err)
	fp := Fingerprint(kp.Public)
	require.Regexp(t, `^SHA-256:[0-9a-f]{64}$`, fp)
}

func mustHandshake(t *testing.T) (*SessionKeys, *SessionKeys) {
	t.Helper()
	initiator, err := GenerateEphemeral()
	require.NoError(t, err)
	responder, err := GenerateEphemeral()
	require.NoError(t, err)
	salt, err := GenerateSalt()
	require.NoError(t, err)

	initKeys, err := DeriveSessionKeys(initiator, responder.Public, salt, RoleInitiator)
	require.NoError(t, err)
	respKeys, err := DeriveSessionKeys(responder, initiator.Public, salt, RoleResponder)
	require.NoError(t, err)
	return initKeys, respKeys
}
