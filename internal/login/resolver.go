package login

import (
	"context"
	"strings"
	"time"
)

// Candidates is an ordered list of selectors for one logical form field.
// Earlier entries are preferred.
type Candidates []string

// NewCandidates builds a list from a primary selector followed by fallbacks,
// dropping blanks and repeats while keeping the first position of each.
func NewCandidates(primary string, fallbacks ...string) Candidates {
	seen := make(map[string]struct{}, len(fallbacks)+1)
	out := make(Candidates, 0, len(fallbacks)+1)
	for _, s := range append([]string{primary}, fallbacks...) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Group joins the candidates into one selector group matching any of them.
func (c Candidates) Group() string {
	return strings.Join(c, ", ")
}

// ResolveFirstVisible waits up to perCandidate for each selector in turn and
// returns the first one that becomes visible. Later candidates are never
// probed once one matches. ok is false when every candidate timed out or ctx ended.
func ResolveFirstVisible(ctx context.Context, page Page, candidates Candidates, perCandidate time.Duration) (selector string, ok bool) {
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return "", false
		}
		waitCtx, cancel := context.WithTimeout(ctx, perCandidate)
		err := page.WaitVisible(waitCtx, candidate)
		cancel()
		if err == nil {
			return candidate, true
		}
	}
	return "", false
}
