package sync

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/steveyegge/launchboard/internal/board/validate"
)

// OrderPolicy controls how submitted order values are stored.
type OrderPolicy string

const (
	// OrderPreserve stores submitted order values verbatim. Clients are
	// expected to submit whole recomputed sibling groups.
	OrderPreserve OrderPolicy = "preserve"
	// OrderDense re-sequences every sibling group touched by a batch update
	// to 0..n-1 inside the write transaction.
	OrderDense OrderPolicy = "dense"
)

// ErrorScope controls who receives error events.
type ErrorScope string

const (
	// ErrorsToAll broadcasts error events to every session.
	ErrorsToAll ErrorScope = "all"
	// ErrorsToOrigin sends error events only to the session that submitted
	// the failing intent.
	ErrorsToOrigin ErrorScope = "origin"
)

// ParseOrderPolicy parses an order policy name. Empty means OrderPreserve.
func ParseOrderPolicy(s string) (OrderPolicy, error) {
	switch p := OrderPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return OrderPreserve, nil
	case OrderPreserve, OrderDense:
		return p, nil
	default:
		return "", fmt.Errorf("unknown order policy %q (want preserve or dense)", s)
	}
}

// ParseErrorScope parses an error scope name. Empty means ErrorsToAll.
func ParseErrorScope(s string) (ErrorScope, error) {
	switch sc := ErrorScope(strings.ToLower(strings.TrimSpace(s))); sc {
	case "":
		return ErrorsToAll, nil
	case ErrorsToAll, ErrorsToOrigin:
		return sc, nil
	default:
		return "", fmt.Errorf("unknown error scope %q (want all or origin)", s)
	}
}

// Config holds engine settings.
type Config struct {
	OrderPolicy OrderPolicy
	ErrorScope  ErrorScope

	// SignedURLTTL is the lifetime of the iconUrl attached to asset icons.
	SignedURLTTL time.Duration

	// Validator defaults to validate.MustNew().
	Validator *validate.Validator

	// Logger defaults to the standard logrus logger.
	Logger *log.Entry
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		OrderPolicy:  OrderPreserve,
		ErrorScope:   ErrorsToAll,
		SignedURLTTL: time.Hour,
	}
}
