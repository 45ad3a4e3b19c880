// Package ratelimit gates how often a recipient may be notified.
//
// Every backend implements the same clock-gated acquire: TryAcquire succeeds
// and stamps now iff the key has no successful acquisition in the trailing
// window. Acquisition at T blocks the key until T+window.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jobwatch/internal/domain"
)

const DefaultWindow = 5 * time.Minute

// Limiter is the acquire capability used by the pipeline. Check-then-set is
// atomic per key in every implementation.
type Limiter interface {
	TryAcquire(ctx context.Context, key string, now time.Time) (bool, error)
}

// Scope selects what a window is keyed on.
type Scope string

const (
	// ScopeRecipient allows one notification per recipient per window,
	// regardless of keyword.
	ScopeRecipient Scope = "recipient"
	// ScopeRecipientKeyword allows one notification per (recipient, keyword)
	// per window.
	ScopeRecipientKeyword Scope = "recipient_keyword"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeRecipient:
		return ScopeRecipient, nil
	case ScopeRecipientKeyword, "recipient-keyword":
		return ScopeRecipientKeyword, nil
	default:
		return "", fmt.Errorf("unknown rate limit scope %q", s)
	}
}

// Key builds the limiter key for a candidate notification.
func (s Scope) Key(m domain.Match) string {
	if s == ScopeRecipientKeyword {
		return m.RecipientID + "|" + m.Keyword
	}
	return m.RecipientID
}
