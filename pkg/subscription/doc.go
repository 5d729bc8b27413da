// Package subscription is the lifecycle engine that keeps billing
// provider subscription state consistent with the application's
// entitlement records.
//
// The engine owns three kinds of work:
//
//   - User mutations: create (with a one-time trial for eligible
//     customers), cancel at period end, resume, and plan changes. All are
//     idempotent from the caller's perspective; current provider state is
//     checked before mutating so a retry after a crash never creates a
//     second subscription, cancels twice, or double-resumes.
//   - Webhook ingestion: signature-verified events are deduplicated by
//     provider event ID and dispatched. Subscription events reconcile from
//     the object embedded in the payload; invoice events trigger a fresh
//     provider read since their payloads carry only references.
//   - Reconciliation: a full-state overwrite of the derived entitlement
//     fields from a provider snapshot. Because it is an overwrite rather
//     than an incremental apply, duplicate and out-of-order deliveries
//     converge to the same record without coordination.
//
// The engine is the only writer of derived entitlement state. Access
// decisions are made by the entitlement package's pure evaluators over
// the stored record and never call the provider.
package subscription
