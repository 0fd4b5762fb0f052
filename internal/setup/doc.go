// Package setup implements the configuration flow that adds an Aptus portal
// account to the bridge.
//
// A flow step takes the portal URL and credentials, validates the URL shape,
// rejects a portal that is already configured, probes the credentials with a
// real login and, on success, stores a config Entry. Failures come back as
// form errors keyed by field ("host", "base") rather than Go errors, so an
// HTTP or MQTT front end can render them directly.
//
// Entries are keyed by their normalised portal URL; one portal account per
// URL.
package setup
