package election

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQualityWireRoundTrip(t *testing.T) {
	q := Quality{
		HasPublicIP:      true,
		UPnPAvailable:    true,
		UPnPMappedPort:   27225,
		NATType:          NATModerate,
		LANReachable:     true,
		StunLatencyMs:    23,
		PublicAddress:    "198.51.100.7",
		PublicPort:       40123,
		UploadKbps:       2500,
		DownloadKbps:     90000,
		RTTToDiscoveryMs: 41,
		JitterMs:         3,
		PacketLossPct:    0.25,
		Candidates:       CandidateSummary{HasHost: true, HasSrflx: true},
		ParticipantUUID:  uuidFill(0x42),
		WeAreInitiator:   true,
	}

	decoded, err := DecodeQuality(EncodeQuality(q))
	require.NoError(t, err)
	require.Equal(t, q, decoded)
}

func TestQualityWireTruncated(t *testing.T) {
	encoded := EncodeQuality(Quality{PublicAddress: "10.0.0.1"})
	for _, cut := range []int{0, 1, 5, len(encoded) - 1} {
		_, err := DecodeQuality(encoded[:cut])
		require.Error(t, err, "cut at %d must not decode", cut)
	}
}

func TestSignedQualityRoundTrip(t *testing.T) {
	sq := SignedQuality{
		Quality:   Quality{HasPublicIP: true, UploadKbps: 10, ParticipantUUID: uuidFill(0x07)},
		PubKey:    bytesFill(0x11, 32),
		Signature: bytesFill(0x22, 64),
	}

	decoded, err := DecodeSignedQuality(EncodeSignedQuality(sq))
	require.NoError(t, err)
	require.Equal(t, sq, decoded)
}

func TestSignedQualityUnsigned(t *testing.T) {
	sq := SignedQuality{
		Quality: Quality{NATType: NATSymmetric, ParticipantUUID: uuidFill(0x09)},
		PubKey:  make([]byte, 32),
	}
	decoded, err := DecodeSignedQuality(EncodeSignedQuality(sq))
	require.NoError(t, err)
	require.Nil(t, decoded.Signature)
	require.Equal(t, sq.Quality, decoded.Quality)
}

func bytesFill(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
