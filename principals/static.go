// Package principals provides a static, in-memory matcher.PrincipalProvider
// for standalone deployments where the real identity/subscription system
// (spec §1 Non-goals) is not wired in. It mirrors notify.StaticChatResolver's
// fixed-map seam implementation, generalized from chat-id lookup to full
// Principal records.
package principals

import (
	"context"
	"sync"

	"github.com/tradesignal/alertcore/types"
)

// Static is a fixed userID -> Principal registry, safe for concurrent reads
// and writes.
type Static struct {
	mu         sync.RWMutex
	principals map[string]types.Principal
}

// NewStatic creates an empty registry; callers populate it via Set before
// serving traffic.
func NewStatic() *Static {
	return &Static{principals: make(map[string]types.Principal)}
}

// Set upserts a principal record.
func (s *Static) Set(p types.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals[p.UserID] = p
}

// PrincipalsWithAnyPlan implements matcher.PrincipalProvider.
func (s *Static) PrincipalsWithAnyPlan(_ context.Context, planIDs map[string]bool) ([]types.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Principal
	for _, p := range s.principals {
		if p.HasAnyPlan(planIDs) {
			out = append(out, p)
		}
	}
	return out, nil
}
