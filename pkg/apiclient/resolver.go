package apiclient

import "strings"

// ResolverConfig lists where the payments API may live.
type ResolverConfig struct {
	Override    string
	Development bool
	ProxyPath   string
	ProxyOrigin string
	Remote      string
}

// Candidate is one base address tried by Client.Call. Relative candidates
// are proxy paths joined onto Origin.
type Candidate struct {
	Base     string
	Relative bool
	Origin   string
}

// URL joins the candidate with endpoint.
func (c Candidate) URL(endpoint string) string {
	base := strings.TrimRight(c.Base, "/")
	if c.Relative {
		base = strings.TrimRight(c.Origin, "/") + "/" + strings.TrimLeft(base, "/")
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}

// Label is the base as configured, used for logs and metrics.
func (c Candidate) Label() string {
	return c.Base
}

// ResolveCandidates orders the bases to try: an explicit override alone;
// otherwise in development the proxy path then the remote; otherwise the
// remote alone. Empty entries are skipped.
func ResolveCandidates(cfg ResolverConfig) []Candidate {
	if o := strings.TrimSpace(cfg.Override); o != "" {
		return []Candidate{newCandidate(o, cfg.ProxyOrigin)}
	}

	out := make([]Candidate, 0, 2)
	if cfg.Development {
		if p := strings.TrimSpace(cfg.ProxyPath); p != "" {
			out = append(out, newCandidate(p, cfg.ProxyOrigin))
		}
	}
	if r := strings.TrimSpace(cfg.Remote); r != "" {
		out = append(out, newCandidate(r, cfg.ProxyOrigin))
	}
	return out
}

func newCandidate(base, origin string) Candidate {
	if isAbsolute(base) {
		return Candidate{Base: base}
	}
	return Candidate{Base: base, Relative: true, Origin: origin}
}

func isAbsolute(base string) bool {
	lower := strings.ToLower(base)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
