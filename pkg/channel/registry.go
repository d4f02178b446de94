package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mercator-hq/dispatch/pkg/scheduler"
)

// Registry resolves channels for platform accounts. A channel registered for
// a specific account wins over the platform-wide channel.
type Registry struct {
	mu         sync.RWMutex
	byAccount  map[string]scheduler.Channel
	byPlatform map[scheduler.Platform]scheduler.Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byAccount:  make(map[string]scheduler.Channel),
		byPlatform: make(map[scheduler.Platform]scheduler.Channel),
	}
}

// Register sets the channel used for every account on platform.
func (r *Registry) Register(platform scheduler.Platform, ch scheduler.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPlatform[platform] = ch
}

// RegisterAccount sets the channel for one platform account.
func (r *Registry) RegisterAccount(accountID string, ch scheduler.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAccount[accountID] = ch
}

// Resolve implements scheduler.ChannelResolver.
func (r *Registry) Resolve(ctx context.Context, agent *scheduler.Agent, account *scheduler.PlatformAccount) (scheduler.Channel, error) {
	if account == nil {
		return nil, fmt.Errorf("%w: channel for nil account", scheduler.ErrNotFound)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if ch, ok := r.byAccount[account.ID]; ok {
		return ch, nil
	}
	if ch, ok := r.byPlatform[account.Platform]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("%w: channel for platform %s", scheduler.ErrNotFound, account.Platform)
}

// Platforms returns the platforms with a platform-wide channel, sorted.
func (r *Registry) Platforms() []scheduler.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]scheduler.Platform, 0, len(r.byPlatform))
	for p := range r.byPlatform {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
