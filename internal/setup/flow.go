package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/aptus-home/internal/aptus"
)

// PortalClient is the part of a portal client the flow and entry setup need.
type PortalClient interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
}

// ClientFactory builds an unauthenticated portal client for an entry.
type ClientFactory func(Entry) (PortalClient, error)

// Logger is the subset of logging.Logger the flow uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Flow runs the user step of the configuration flow.
type Flow struct {
	store     Store
	newClient ClientFactory
	logger    Logger
}

// NewFlow creates a flow that stores entries in store and probes
// credentials with clients from newClient.
func NewFlow(store Store, newClient ClientFactory) *Flow {
	return &Flow{store: store, newClient: newClient}
}

// SetLogger sets the logger for unexpected probe failures.
func (f *Flow) SetLogger(logger Logger) {
	f.logger = logger
}

// Submit runs the user step. A nil input shows the empty form.
//
// Validation and login problems are reported in Result.Errors; the returned
// error is reserved for storage failures.
func (f *Flow) Submit(ctx context.Context, in *Input) (*Result, error) {
	if in == nil {
		return formResult(nil), nil
	}

	input := Input{
		Host:     strings.TrimSpace(in.Host),
		Username: strings.TrimSpace(in.Username),
		Password: in.Password,
	}

	errs := make(map[string]string)
	if input.Host == "" {
		errs[FieldHost] = ErrorRequired
	}
	if input.Username == "" {
		errs[FieldUsername] = ErrorRequired
	}
	if input.Password == "" {
		errs[FieldPassword] = ErrorRequired
	}
	if len(errs) > 0 {
		return formResult(errs), nil
	}

	host, err := ValidateHost(input.Host)
	if err != nil {
		return formResult(map[string]string{FieldHost: ErrorInvalidHost}), nil
	}

	// The normalised host is the entry's unique id.
	if _, err := f.store.GetByHost(ctx, host); err == nil {
		return abortResult(AbortAlreadyConfigured), nil
	} else if !errors.Is(err, ErrEntryNotFound) {
		return nil, fmt.Errorf("checking existing entries: %w", err)
	}

	entry := Entry{
		Host:     host,
		Username: input.Username,
		Password: input.Password,
		Title:    EntryTitle,
	}

	if code := f.probe(ctx, entry); code != "" {
		return formResult(map[string]string{FieldBase: code}), nil
	}

	entry.ID = uuid.NewString()
	if err := f.store.Create(ctx, &entry); err != nil {
		if errors.Is(err, ErrEntryExists) {
			return abortResult(AbortAlreadyConfigured), nil
		}
		return nil, fmt.Errorf("storing entry: %w", err)
	}

	return &Result{
		Type:  ResultCreateEntry,
		Title: entry.Title,
		Entry: &entry,
	}, nil
}

// probe logs in with the entry's credentials and returns a form error code,
// or "" when the login worked. The probe session is logged out again.
func (f *Flow) probe(ctx context.Context, entry Entry) string {
	client, err := f.newClient(entry)
	if err != nil {
		return f.classify(entry, err)
	}

	if err := client.Login(ctx); err != nil {
		return f.classify(entry, err)
	}

	if err := client.Logout(ctx); err != nil && f.logger != nil {
		f.logger.Debug("probe logout failed", "host", entry.Host, "error", err)
	}
	return ""
}

func (f *Flow) classify(entry Entry, err error) string {
	code := ErrorCode(err)
	if code == ErrorUnknown && f.logger != nil {
		f.logger.Error("unexpected error validating portal login", "host", entry.Host, "error", err)
	}
	return code
}

// ErrorCode maps a portal login error to a form error key.
func ErrorCode(err error) string {
	var apiErr *aptus.APIError
	switch {
	case errors.Is(err, aptus.ErrInvalidCredentials), errors.Is(err, aptus.ErrMissingCredentials):
		return ErrorInvalidAuth
	case errors.Is(err, aptus.ErrConnectionFailed),
		errors.Is(err, aptus.ErrLoginPage),
		errors.Is(err, aptus.ErrSessionExpired),
		errors.Is(err, aptus.ErrInvalidBaseURL),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &apiErr):
		return ErrorCannotConnect
	default:
		return ErrorUnknown
	}
}

func formResult(errs map[string]string) *Result {
	return &Result{
		Type:   ResultForm,
		StepID: StepUser,
		Schema: Schema,
		Errors: errs,
	}
}

func abortResult(reason string) *Result {
	return &Result{Type: ResultAbort, Reason: reason}
}
