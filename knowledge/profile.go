package knowledge

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/room4-2/graphcall/logger"
)

const profileTTL = 10 * time.Minute

// Profiles resolves an agent's business name for the greeting.
type Profiles struct {
	client *Client
	cache  *cache.Cache
}

func NewProfiles(client *Client) *Profiles {
	return &Profiles{
		client: client,
		cache:  cache.New(profileTTL, 2*profileTTL),
	}
}

// BusinessName returns the display name for agentID, or "" when unknown.
// Successful lookups (including empty names) are cached per agent.
func (p *Profiles) BusinessName(ctx context.Context, agentID string) string {
	if agentID == "" || !p.client.Configured() {
		return ""
	}
	if name, ok := p.cache.Get(agentID); ok {
		return name.(string)
	}

	ctx, cancel := context.WithTimeout(ctx, p.client.Timeout())
	defer cancel()

	var out businessProfile
	resp, err := p.client.request(ctx, "").
		SetQueryParam("agentId", agentID).
		Get(profilePath)
	if err == nil {
		err = decode(resp, &out)
	}
	if err != nil {
		logger.Warn("business profile lookup failed", zap.String("agent_id", agentID), zap.Error(err))
		return ""
	}

	name := strings.TrimSpace(out.BusinessName)
	p.cache.SetDefault(agentID, name)
	return name
}
