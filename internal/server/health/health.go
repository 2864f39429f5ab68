// Package health exposes liveness and readiness checks.
package health

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/dmitrijs2005/postboard/internal/server/blobstore"
)

const (
	checkTimeout       = 2 * time.Second
	maxGoroutines      = 10000
	databaseCheckName  = "database"
	blobstoreCheckName = "blobstore"
)

// NewHandler serves /live and /ready. Liveness only guards against a
// goroutine leak; readiness requires both the database and the blob store.
func NewHandler(db *sql.DB, store blobstore.Store) http.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))
	if db != nil {
		h.AddReadinessCheck(databaseCheckName, healthcheck.DatabasePingCheck(db, checkTimeout))
	}
	if store != nil {
		h.AddReadinessCheck(blobstoreCheckName, StoreCheck(store, checkTimeout))
	}
	return h
}

// StoreCheck pings the blob store within timeout.
func StoreCheck(store blobstore.Store, timeout time.Duration) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return store.Ping(ctx)
	}
}
