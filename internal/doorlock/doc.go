// Package doorlock maps the portal's entrance doors to lock entities.
//
// Entrance doors are buzz-open only: the portal can release a door for a few
// seconds but cannot lock it, and it never reports door state. An Entity
// therefore derives its state locally. After a successful Unlock it reads as
// unlocked for the unlock window (5 s by default); the next Update past the
// window reads it as locked again. A door that has never been unlocked reads
// as locked once updated, and as unknown (nil) before the first update.
//
// The Registry holds the entities of all configured portal entries, keyed by
// the stable unique id aptus_lock_<portal id>, and persists them so door ids
// and names survive restarts.
package doorlock
