// Package webhooks ingests provider push notifications. Garmin pings and
// Oura event notifications are verified, deduped by delivery id, coalesced
// per member inside a burst window, and turned into queued background syncs.
package webhooks
