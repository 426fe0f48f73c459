// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAgentMissing indicates an ingest event referenced an agent that could
// not be resolved or created; the event is skipped, not fatal.
var ErrAgentMissing = errors.New("agent missing for ingest event")
