// Package security provides the HTTP protections the front end puts in
// front of the embedded protocol engine: security headers with HSTS,
// plain-HTTP to HTTPS redirection, request ID propagation, and per-client
// rate limiting.
package security
