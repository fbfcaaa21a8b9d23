package syncengine

import "github.com/google/uuid"

func (e *Engine) SubscriptionRefs(storyID uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sub, ok := e.subs[storyID]; ok {
		return sub.refs
	}
	return 0
}

