// Package app is the composition layer for walletchat.
//
// # Architecture Role
//
// The app package composes the domain services into a running application.
// It holds no business logic: pricing and debits belong to internal/ledger,
// conversations to internal/messaging, file trees to internal/filestore.
//
// # Package Structure
//
//	internal/app/
//	├── application.go   # Application struct, wiring and lifecycle
//	├── backend.go       # Backend Adapter and locker selection from config
//	└── system/          # Service interface and lifecycle Manager
//
// # Wiring
//
// New opens the backend named by config (memory, supabase or postgres, with
// blobs optionally routed to a second implementation through
// database.Composite), picks a Redis or in-process locker, and builds the
// services in dependency order:
//
//	accounts -> ledger -> messaging
//	                   -> filestore
//
// Every service shares the same locker, so a user's balance and file tree are
// serialised across services as well as within one.
//
// # Lifecycle
//
// Background work implements system.Service and is registered with the
// Manager. The ledger sweeper, which refunds pending debits older than
// ledger.pending_ttl, is registered by New. Start runs services in
// registration order; Stop runs them in reverse and then closes backend
// connections.
//
// # Testing
//
// NewWithDeps accepts an explicit backend, locker and metrics so tests can run
// the full wiring against database.MockRepository.
package app
