package routing

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// StickinessCache remembers the plan token the router issued for a
// conversation so the next turn replays it and stays pinned to the same
// upstream. Capacity-bounded; eviction is by recency on insert.
type StickinessCache struct {
	cache *lru.Cache[string, string]
}

// DefaultStickinessCapacity bounds the conversation map when unconfigured.
const DefaultStickinessCapacity = 10000

// NewStickinessCache builds the LRU with the given capacity.
func NewStickinessCache(capacity int) (*StickinessCache, error) {
	if capacity <= 0 {
		capacity = DefaultStickinessCapacity
	}
	cache, err := lru.New[string, string](capacity)
	if err != nil {
		return nil, err
	}
	return &StickinessCache{cache: cache}, nil
}

// Token returns the remembered plan token for a conversation, if any.
func (s *StickinessCache) Token(conversationID string) (string, bool) {
	if conversationID == "" {
		return "", false
	}
	return s.cache.Get(conversationID)
}

// Remember stores the plan token for a conversation.
func (s *StickinessCache) Remember(conversationID, planToken string) {
	if conversationID == "" || planToken == "" {
		return
	}
	s.cache.Add(conversationID, planToken)
}

// Len reports the number of tracked conversations.
func (s *StickinessCache) Len() int {
	return s.cache.Len()
}
