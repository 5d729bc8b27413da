// Package billing is the HTTP module exposing the subscription lifecycle:
// authenticated user mutations, the admin subscriber surface, and the
// provider webhook ingress. Bearer tokens authenticate users and admins;
// webhooks authenticate by payload signature only.
package billing
