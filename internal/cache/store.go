// Package cache memoizes computed EV results by run id and by instance
// fingerprint.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stitts-dev/survivor-ev/internal/models"
)

var ErrNotFound = errors.New("result not found in cache")

const (
	resultKeyPrefix   = "ev:result:"
	instanceKeyPrefix = "ev:instance:"
)

// Store persists results for later retrieval. Implementations must be safe
// for concurrent use.
type Store interface {
	// SaveResult stores result under its ID and, when fingerprint is not
	// empty, points the fingerprint at that ID. A zero ttl means no expiry.
	SaveResult(ctx context.Context, result *models.EVResult, fingerprint string, ttl time.Duration) error
	GetResult(ctx context.Context, id string) (*models.EVResult, error)
	// LookupInstance returns the ID of the result last stored for fingerprint.
	LookupInstance(ctx context.Context, fingerprint string) (string, error)
	Ping(ctx context.Context) error
	Name() string
}

func resultKey(id string) string {
	return fmt.Sprintf("%s%s", resultKeyPrefix, id)
}

func instanceKey(fingerprint string) string {
	return fmt.Sprintf("%s%s", instanceKeyPrefix, fingerprint)
}
