// Package entitlement owns the application-side entitlement record: the
// stored belief about what a user may access, kept consistent with the
// billing provider by the reconciliation engine.
//
// The package provides three things:
//
//   - Record and its defaulting rules, applied once at the store-read
//     boundary so downstream code always sees a fully populated struct.
//   - The pure evaluator functions (HasAccess, HasPlanAccess,
//     StatusSummary) used by the rest of the application for access
//     decisions. These never touch the network.
//   - The Store interface with a MongoDB implementation for production
//     and an in-memory one for tests.
//
// Writes are intentionally narrow. ApplySnapshot overwrites only the
// derived subscription fields and is the single write path used by
// reconciliation; the trial flag and manual override grants have their
// own methods and are never included in a snapshot, which makes the
// "trial used at most once" guarantee structural rather than procedural.
package entitlement
