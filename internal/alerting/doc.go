// Package alerting provides the business boundary for herald's reminder delivery.
// It defines the Service (event scheduling), Rules (event -> alert specs),
// Collapse (stale tier cancellation), Poller (the periodic delivery driver), the
// Store interface (persistence plus the claim primitive), and domain models.
package alerting
