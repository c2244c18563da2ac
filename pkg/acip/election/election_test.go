package election

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
)

func TestTierComputation(t *testing.T) {
	cases := []struct {
		name string
		q    Quality
		want int
	}{
		{"public ip wins tier 0 regardless of other flags", Quality{HasPublicIP: true, NATType: NATSymmetric}, 0},
		{"upnp available is tier 1", Quality{UPnPAvailable: true, NATType: NATModerate}, 1},
		{"open nat with lan reachable is tier 2", Quality{NATType: NATOpen, LANReachable: true}, 2},
		{"open nat without lan reachable falls through", Quality{NATType: NATOpen, LANReachable: false}, 4},
		{"moderate nat is tier 3", Quality{NATType: NATModerate}, 3},
		{"symmetric nat is tier 4", Quality{NATType: NATSymmetric}, 4},
		{"unknown nat is tier 4", Quality{NATType: NATUnknown}, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Tier(tc.q))
		})
	}
}

// TestElectionTieScenario: two tier-0
// participants, equal upload/download/rtt, both lan_reachable. A is the
// initiator with UUID aa..., B is not with UUID bb...; A must win from
// both sides' perspective.
func TestElectionTieScenario(t *testing.T) {
	a := Quality{
		HasPublicIP: true, UploadKbps: 1000, DownloadKbps: 5000, RTTToDiscoveryMs: 20,
		LANReachable: true, WeAreInitiator: true,
		ParticipantUUID: uuidFill(0xaa),
	}
	b := Quality{
		HasPublicIP: true, UploadKbps: 1000, DownloadKbps: 5000, RTTToDiscoveryMs: 20,
		LANReachable: true, WeAreInitiator: false,
		ParticipantUUID: uuidFill(0xbb),
	}

	require.Equal(t, WeHost, Compare(a, b), "A, viewing itself as us, must conclude it hosts")
	require.Equal(t, TheyHost, Compare(b, a), "B, viewing itself as us, must conclude the peer (A) hosts")
}

func TestCompareHigherUploadWins(t *testing.T) {
	us := Quality{HasPublicIP: true, UploadKbps: 2000}
	peer := Quality{HasPublicIP: true, UploadKbps: 1000}
	require.Equal(t, WeHost, Compare(us, peer))
	require.Equal(t, TheyHost, Compare(peer, us))
}

func TestCompareLowerTierWins(t *testing.T) {
	us := Quality{NATType: NATModerate}   // tier 3
	peer := Quality{HasPublicIP: true}    // tier 0
	require.Equal(t, TheyHost, Compare(us, peer))
}

func TestCompareDeterministicAcrossRepeatedRuns(t *testing.T) {
	us := Quality{HasPublicIP: true, UploadKbps: 500, ParticipantUUID: uuidFill(0x01)}
	peer := Quality{HasPublicIP: true, UploadKbps: 500, ParticipantUUID: uuidFill(0x02)}

	first := Compare(us, peer)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, Compare(us, peer))
	}
}

func TestElectAmongMultiplePeers(t *testing.T) {
	us := Quality{NATType: NATSymmetric, ParticipantUUID: uuidFill(0x01)} // tier 4
	peerTier3 := Quality{NATType: NATModerate, ParticipantUUID: uuidFill(0x02)}
	peerTier0 := Quality{HasPublicIP: true, ParticipantUUID: uuidFill(0x03)}

	winner := Elect(us, []Quality{peerTier3, peerTier0})
	require.Equal(t, peerTier0.ParticipantUUID, winner)
}

func TestSignAndVerifyQuality(t *testing.T) {
	// Signing/verification round-trip without depending on the crypto
	// package's own identity generation test.
	session := uuidFill(0x10)
	q := Quality{HasPublicIP: true, UploadKbps: 100, ParticipantUUID: uuidFill(0x20)}

	transcriptA := SigningTranscript(session, q)
	transcriptB := SigningTranscript(session, q)
	require.Equal(t, transcriptA, transcriptB, "signing transcript must be deterministic")

	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	sig := SignQuality(id, session, q)
	require.True(t, VerifyQuality(id.Public, session, q, sig))
}

func uuidFill(b byte) [16]byte {
	var out [16]byte
	for i := range out {
		out[i] = b
	}
	return out
}
