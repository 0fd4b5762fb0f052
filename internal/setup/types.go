package setup

import "time"

// EntryTitle is the display title of every created entry.
const EntryTitle = "Aptus Home"

// StepUser is the only step of the flow.
const StepUser = "user"

// ResultType tells the caller what to do with a flow Result.
type ResultType string

const (
	// ResultForm asks for (corrected) input.
	ResultForm ResultType = "form"

	// ResultCreateEntry reports a stored entry.
	ResultCreateEntry ResultType = "create_entry"

	// ResultAbort ends the flow without creating anything.
	ResultAbort ResultType = "abort"
)

// Form error keys and abort reasons.
const (
	ErrorRequired      = "required"
	ErrorInvalidHost   = "invalid_host"
	ErrorInvalidAuth   = "invalid_auth"
	ErrorCannotConnect = "cannot_connect"
	ErrorUnknown       = "unknown"

	AbortAlreadyConfigured = "already_configured"
)

// Form field names. FieldBase keys errors that are not tied to one field.
const (
	FieldHost     = "host"
	FieldUsername = "username"
	FieldPassword = "password"
	FieldBase     = "base"
)

// Input is the user step's form data.
type Input struct {
	Host     string `json:"host"`
	Username string `json:"username"`
	Password string `json:"password"` //nolint:gosec // credential input, never logged
}

// Field describes one input of the user step.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Schema is the user step's form.
var Schema = []Field{
	{Name: FieldHost, Type: "url", Required: true},
	{Name: FieldUsername, Type: "string", Required: true},
	{Name: FieldPassword, Type: "password", Required: true},
}

// Result is the outcome of one flow step.
type Result struct {
	Type   ResultType        `json:"type"`
	StepID string            `json:"step_id,omitempty"`
	Schema []Field           `json:"data_schema,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
	Reason string            `json:"reason,omitempty"`
	Title  string            `json:"title,omitempty"`
	Entry  *Entry            `json:"entry,omitempty"`
}

// Entry is a configured portal account.
type Entry struct {
	ID        string    `json:"id"`
	Host      string    `json:"host"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
