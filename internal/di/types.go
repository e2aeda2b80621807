// Package di provides dependency injection type definitions.
package di

import (
	"github.com/aristath/arena/internal/chain/devchain"
	"github.com/aristath/arena/internal/clients/storage"
	"github.com/aristath/arena/internal/database"
	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/session"
	"github.com/aristath/arena/internal/telemetry"
)

// Container holds all dependencies for the application.
//
// It is created by Wire() and passed to main for server and scheduler setup.
type Container struct {
	// Databases
	ChainDB   *database.DB // Dev chain state (blocks, transactions, agents, executions)
	StorageDB *database.DB // Local storage node objects; unused with the S3 backend

	// Infrastructure
	Chain        *devchain.Chain
	StoreBackend storage.Backend
	EventBus     *events.Bus
	EventManager *events.Manager

	// Sessions own the per-wallet clients and run coordinators
	Sessions *session.Manager

	ShutdownTelemetry telemetry.Shutdown
}

// Databases returns every open database for health checks and maintenance
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	for _, db := range []*database.DB{c.ChainDB, c.StorageDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close releases the session and closes the databases
func (c *Container) Close() {
	if c.Sessions != nil {
		c.Sessions.Disconnect()
	}
	for _, db := range c.Databases() {
		db.Close()
	}
}
