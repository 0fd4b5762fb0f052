// Package aptus bridges Aptus Home portals to the internal MQTT bus.
//
// Each configured portal entry contributes its entrance doors to a shared
// lock registry. The bridge listens for commands and requests, talks to the
// portal, and publishes the results:
//
//	aptushome/command/aptus/{device_id}   -> unlock, lock, doorman_unlock, doorman_lock
//	aptushome/ack/aptus/{device_id}       <- accepted / failed + error code
//	aptushome/request/aptus/{request_id}  -> read_state, read_all, discover, doorman_status
//	aptushome/response/aptus/{request_id} <-
//	aptushome/state/aptus/{entity_id}     <- retained door state
//	aptushome/discovery/aptus             <- retained door list
//	aptushome/event/aptus/buzz            <- entrance panel call
//	aptushome/health/aptus                <- retained health
//
// Entrance doors cannot be locked remotely; a lock command is acknowledged
// with NOT_SUPPORTED. Doors report unlocked for their unlock window after a
// successful unlock and locked otherwise.
package aptus
