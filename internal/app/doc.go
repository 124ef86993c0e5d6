// Package app composes the settlement engines into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── backends.go         # Record store and locker selection from config
//	├── httpapi/            # HTTP routes and handlers (gorilla/mux)
//	├── metrics/            # Prometheus collectors
//	└── system/             # Lifecycle manager
//
// # What Belongs Here vs services/
//
// The app package wires dependencies. Business rules (coin movements,
// fulfillment, purchases, pickups, contracts) live in services/; record
// stores and locks live in internal/database and internal/lock.
//
// # Dependency Direction
//
//	cmd/scrapd, cmd/scrapctl
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► services/* (engines)
//	      │           │
//	      │           └──► internal/database, internal/lock
//	      │
//	      └──► internal/config, internal/middleware
package app
