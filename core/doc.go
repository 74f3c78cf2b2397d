// Package core holds the domain model and service facade for the wearable
// integration subsystem: member-to-provider integrations, the OAuth 1.0a
// handshake session lifecycle, credential encoding/encryption, and the
// contracts implemented by stores, providers, and transport bindings.
package core
