// Package billing abstracts the payment provider behind the Provider
// interface and supplies the Stripe implementation.
//
// The interface returns neutral snapshot types so the subscription engine
// never imports the provider SDK. Webhook deliveries are authenticated
// with the provider's own verification library and parsed into a small
// Event type whose payload accessors tolerate schema drift across
// provider API versions.
//
// The Stripe implementation holds an injected API client; no package
// global SDK state is configured. Mutating calls carry fresh idempotency
// keys and every call is bounded by a per-request timeout.
package billing
