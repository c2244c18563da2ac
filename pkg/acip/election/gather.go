package election

import (
	"context"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/stun/v3"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// GatherCandidateSummary runs a short ICE candidate-gathering pass using
// the given STUN/TURN URLs and classifies what came back into the
// host/srflx/relay summary carried in the NAT-quality record.
func GatherCandidateSummary(ctx context.Context, stunURLs, turnURLs []string, timeout time.Duration) (CandidateSummary, error) {
	agent, err := ice.NewAgent(&ice.AgentConfig{
		NetworkTypes: []ice.NetworkType{ice.NetworkTypeUDP4, ice.NetworkTypeUDP6},
		Urls:         parseICEURLs(stunURLs, turnURLs),
	})
	if err != nil {
		return CandidateSummary{}, acerr.Wrap(acerr.HandshakeFailed, "create ice agent", err)
	}
	defer agent.Close()

	var summary CandidateSummary
	done := make(chan struct{})

	if err := agent.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			close(done)
			return
		}
		switch c.Type() {
		case ice.CandidateTypeHost:
			summary.HasHost = true
		case ice.CandidateTypeServerReflexive, ice.CandidateTypePeerReflexive:
			summary.HasSrflx = true
		case ice.CandidateTypeRelay:
			summary.HasRelay = true
		}
	}); err != nil {
		return CandidateSummary{}, acerr.Wrap(acerr.HandshakeFailed, "register candidate callback", err)
	}

	if err := agent.GatherCandidates(); err != nil {
		return CandidateSummary{}, acerr.Wrap(acerr.HandshakeFailed, "gather ice candidates", err)
	}

	select {
	case <-done:
	case <-time.After(timeout):
	case <-ctx.Done():
		return summary, acerr.Wrap(acerr.Timeout, "ice gathering cancelled", ctx.Err())
	}

	return summary, nil
}

func parseICEURLs(stunURLs, turnURLs []string) []*stun.URI {
	var out []*stun.URI
	for _, raw := range stunURLs {
		if u, err := stun.ParseURI(raw); err == nil {
			out = append(out, u)
		}
	}
	for _, raw := range turnURLs {
		if u, err := stun.ParseURI(raw); err == nil {
			out = append(out, u)
		}
	}
	return out
}
