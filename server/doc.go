// Package server implements the authorization server core: dynamic client
// registration, the authorization code flow with PKCE, token issuance with
// refresh rotation and reuse detection, consent evaluation, and token
// revocation.
//
// The package is transport-agnostic. It operates on request structs and
// storage records; the root package adapts it to HTTP. Errors returned from
// flow operations carry an RFC 6749 error code prefix ("invalid_grant: ...")
// that the HTTP layer maps to wire responses, while detailed failure causes
// stay in structured logs.
//
// Security posture:
//   - Authorization codes are single-use, enforced atomically by the store.
//     A replayed code revokes every outstanding token of the owning client.
//   - Refresh tokens rotate by default; a rotated token presented again is
//     audited as a theft signal.
//   - PKCE is required by default; the plain method is opt-in only.
//   - Redirect URIs are validated at registration against SSRF and open
//     redirect classes (private IPs, link-local, dangerous schemes).
//   - Failure responses to clients are generic; specifics are logged.
package server
