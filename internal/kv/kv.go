// Package kv provides the key-value persistence used for issued reminder
// sets, active schedules and adherence records.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent. Callers treat it as
// an empty value, never as a failure.
var ErrNotFound = errors.New("kv: key not found")

// Store is the persistence capability injected into every component
type Store interface {
	// Get returns the stored bytes or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Set overwrites the value under key
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key; deleting an absent key is not an error
	Delete(ctx context.Context, key string) error
	// Scan returns every entry whose key starts with prefix
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)
	Close() error
}

// Key namespaces
const (
	SchedulePrefix  = "schedule:"
	SpecPrefix      = "spec:"
	AdherencePrefix = "adherence:"
)
