package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Composite tries routers in order and returns the first plan. With Strict
// set, a remote failure is terminal instead of falling through. A default
// plan, when configured, terminates the chain for unmatched aliases.
type Composite struct {
	routers []Router
	cache   *PlanCache
	// freezeKeys remembers, per (alias, api), the freeze_key the last cached
	// plan was stored under, so lookups use the same key. The stickiness
	// plan_token is a separate mechanism and never enters the cache key.
	freezeKeys sync.Map
	// Strict turns remote-router errors into request failures.
	Strict bool
	// Default, when non-nil, synthesizes a plan from the global upstream.
	Default *Upstream
}

// NewComposite builds the composite over the given routers (nil entries are
// skipped) with an optional shared plan cache.
func NewComposite(cache *PlanCache, routers ...Router) *Composite {
	var kept []Router
	for _, r := range routers {
		if r != nil {
			kept = append(kept, r)
		}
	}
	return &Composite{routers: kept, cache: cache}
}

func (c *Composite) Name() string { return "composite" }

// Plan resolves through the chain. Cached plans short-circuit every router;
// only plans that carry cache control are stored, under
// (alias, api, freeze_key).
func (c *Composite) Plan(ctx context.Context, req *RouteRequest) (*RoutePlan, error) {
	if c.cache != nil {
		freezeKey := ""
		if v, ok := c.freezeKeys.Load(req.Alias + "|" + req.API); ok {
			freezeKey = v.(string)
		}
		if plan := c.cache.Get(CacheKey(req.Alias, req.API, freezeKey)); plan != nil {
			plan.CacheState = "hit"
			return plan, nil
		}
	}

	var lastErr error
	for _, r := range c.routers {
		plan, err := r.Plan(ctx, req)
		if err == nil {
			if c.cache != nil && plan.Cache != nil {
				c.cache.Put(CacheKey(req.Alias, req.API, plan.Cache.FreezeKey), plan)
				c.freezeKeys.Store(req.Alias+"|"+req.API, plan.Cache.FreezeKey)
				plan.CacheState = "miss"
			}
			return plan, nil
		}
		lastErr = err
		if c.Strict && r.Name() == "remote" {
			// Strict mode turns any remote refusal into a gateway failure;
			// a plain no-route would otherwise map to not-found downstream.
			if errors.Is(err, ErrNoRoute) {
				return nil, fmt.Errorf("%w: remote router rejected alias %s", ErrRouter, req.Alias)
			}
			return nil, err
		}
	}

	if c.Default != nil {
		up := *c.Default
		if up.ModelID == "" {
			up.ModelID = req.Alias
		}
		return &RoutePlan{
			RouteID:     newRouteID(),
			Upstream:    up,
			ContentUsed: req.ContentUsed,
			Backend:     "default",
		}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s", ErrNoRoute, req.Alias)
	}
	return nil, lastErr
}
