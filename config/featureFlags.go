package config

import (
	"os"
	"strings"
)

// StrictOrderDocImmutability enables guardrails for order documents:
// a weighed (Prepared) order cannot have its lines edited; it must be
// cancelled and recreated so ledger consumption stays reconstructable.
//
// Set via env:
// - STRICT_ORDER_DOC_IMMUTABLE=true
func StrictOrderDocImmutability() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_ORDER_DOC_IMMUTABLE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// OutboxDirectPublish makes order events publish synchronously after commit
// instead of waiting for the dispatcher poll. Used in dev environments.
//
// Set via env:
// - OUTBOX_DIRECT_PUBLISH=true
func OutboxDirectPublish() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OUTBOX_DIRECT_PUBLISH")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
