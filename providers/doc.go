// Package providers hosts the wearable source integrations. The root package
// carries the shared OAuth 1.0a handshake machinery; each source lives in its
// own subpackage and configures or extends it.
package providers
