// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - KeyValueStore: Durable local storage backing the cache and pending queue
//   - FHIRClient: The remote service mutations are replayed against
//   - Prober: Active reachability check of the remote service
//   - LinkMonitor: Passive local network link signal
//   - ConfigStore: Application configuration
//   - SchedulerStore: Scheduler task state and history
//
// # Optional Interfaces
//
// A FHIRClient may additionally implement these; the resource service
// resolves them once at construction:
//
//   - TextSearcher: Full-text search returning a bundle
//   - ResourceSearcher: Parameter search returning a list
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
