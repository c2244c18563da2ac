package election

import (
	"encoding/binary"

	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
)

// SigningTranscript builds the byte string a participant signs before
// broadcasting its NAT-quality record: session UUID + participant UUID +
// a deterministic encoding of the quality fields that feed the election
// comparison.
func SigningTranscript(sessionUUID [16]byte, q Quality) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, sessionUUID[:]...)
	buf = append(buf, q.ParticipantUUID[:]...)
	buf = appendUint32(buf, uint32(Tier(q)))
	buf = appendUint32(buf, q.UploadKbps)
	buf = appendUint32(buf, q.DownloadKbps)
	buf = appendUint32(buf, q.RTTToDiscoveryMs)
	if q.LANReachable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// SignQuality signs a participant's NAT-quality broadcast with its
// long-term identity key.
func SignQuality(id *crypto.Identity, sessionUUID [16]byte, q Quality) []byte {
	return crypto.Sign(id, SigningTranscript(sessionUUID, q))
}

// VerifyQuality checks a signature produced by SignQuality.
func VerifyQuality(pub []byte, sessionUUID [16]byte, q Quality, signature []byte) bool {
	return crypto.Verify(pub, SigningTranscript(sessionUUID, q), signature)
}
