package fetcher

import (
	"context"
	"net/url"

	"go.uber.org/zap"
)

// IdentityStatus is the outcome of the pre-run session probe.
type IdentityStatus string

const (
	IdentityAuthenticated IdentityStatus = "authenticated"
	IdentityExpired       IdentityStatus = "expired"
	IdentityInconclusive  IdentityStatus = "inconclusive"
)

// VerifyIdentity probes a session-revealing path once and classifies the
// session. Best effort: any transport problem or ambiguous page is
// Inconclusive and the harvest proceeds regardless of the answer.
func (s *Session) VerifyIdentity(ctx context.Context, probePath string) IdentityStatus {
	probeURL := s.origin.ResolveReference(&url.URL{Path: probePath})

	resp, err := s.GetOnce(ctx, probeURL.String())
	if err != nil {
		zap.L().Debug("identity probe failed", zap.Error(err))
		return IdentityInconclusive
	}

	if walled, kind := DetectWall(resp.FinalURL, resp.Body); walled {
		zap.L().Info("identity probe hit a wall, session cookies look expired",
			zap.String("wall", string(kind)),
		)
		return IdentityExpired
	}

	if resp.OK() {
		return IdentityAuthenticated
	}
	return IdentityInconclusive
}
