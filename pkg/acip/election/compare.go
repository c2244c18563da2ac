package election

import "bytes"

// Outcome is the result of comparing two participants' Quality records.
type Outcome int

const (
	WeHost Outcome = iota
	TheyHost
)

// Compare decides, given our own NAT-quality record and a peer's, who
// should host: lower tier wins; ties break on upload_kbps
// (higher wins), then download_kbps (higher wins), then
// rtt_to_discovery_service_ms (lower wins), then lexicographic
// participant UUID; the WeAreInitiator flag on either record breaks only
// the one specific remaining tie (equal on everything above, with
// lan_reachable true on both).
func Compare(us, peer Quality) Outcome {
	usTier, peerTier := Tier(us), Tier(peer)
	if usTier != peerTier {
		if usTier < peerTier {
			return WeHost
		}
		return TheyHost
	}

	if us.UploadKbps != peer.UploadKbps {
		if us.UploadKbps > peer.UploadKbps {
			return WeHost
		}
		return TheyHost
	}

	if us.DownloadKbps != peer.DownloadKbps {
		if us.DownloadKbps > peer.DownloadKbps {
			return WeHost
		}
		return TheyHost
	}

	if us.RTTToDiscoveryMs != peer.RTTToDiscoveryMs {
		if us.RTTToDiscoveryMs < peer.RTTToDiscoveryMs {
			return WeHost
		}
		return TheyHost
	}

	// Tier, upload, download, and RTT are all equal. The we_are_initiator
	// flag breaks only this one specific tie, and only when both sides
	// observe LAN reachability and exactly one of them is the initiator;
	// otherwise fall back to lexicographic participant UUID so every side
	// still agrees deterministically.
	if us.LANReachable && peer.LANReachable && us.WeAreInitiator != peer.WeAreInitiator {
		if us.WeAreInitiator {
			return WeHost
		}
		return TheyHost
	}

	if cmp := bytes.Compare(us.ParticipantUUID[:], peer.ParticipantUUID[:]); cmp < 0 {
		return WeHost
	}
	return TheyHost
}

// Elect runs Compare across every peer in peers and returns the UUID of
// the participant who should host the session. us is included implicitly:
// if Compare(us, peer) ever yields TheyHost, peer (or a peer that beats
// peer) wins; the loop keeps the current best performer.
func Elect(us Quality, peers []Quality) [16]byte {
	best := us
	for _, peer := range peers {
		if Compare(best, peer) == TheyHost {
			best = peer
		}
	}
	return best.ParticipantUUID
}
