// Package audit stores the audit trail of door commands and setup changes in
// the audit_logs table.
//
// Every unlock, lock and doorman command is recorded with where it came from
// (api or mqtt) and whether the portal accepted it. Setup changes (entries
// created or removed) are recorded the same way. Door codes and passwords are
// never written to Details.
package audit

// Actions.
const (
	ActionUnlock        = "unlock"
	ActionLock          = "lock"
	ActionDoormanUnlock = "doorman_unlock"
	ActionDoormanLock   = "doorman_lock"
	ActionEntryCreate   = "entry_create"
	ActionEntryDelete   = "entry_delete"
	ActionLogin         = "login"
)

// Entity types.
const (
	EntityLock    = "lock"
	EntityDoorman = "doorman"
	EntityEntry   = "entry"
	EntityUser    = "user"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
