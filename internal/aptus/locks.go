package aptus

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
)

const (
	unlockEntryDoorPath    = "Lock/UnlockEntryDoor"
	lockStatusTempDataPath = "Lock/SetLockStatusTempData"
	doormanLockStatusPath  = "LockAsync/DoormanLockStatus"
	lockDoormanPath        = "Lock/LockDoormanLock"
	unlockDoormanPath      = "Lock/UnlockDoormanLock"
	pollOngoingCallPath    = "Lock/PollOngingCall" // sic: the portal's spelling
)

// Lock is an entrance door listed on the portal's Lock page.
type Lock struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	RawID string `json:"raw_id"`
}

// Result is the decoded JSON body of a portal AJAX endpoint. The portal does
// not document these payloads, so they are passed through as-is.
type Result map[string]any

// String returns the first non-empty string field among keys.
func (r Result) String(keys ...string) string {
	for _, k := range keys {
		if s, ok := r[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ListEntranceDoors scrapes the entrance doors available to the account.
func (c *Client) ListEntranceDoors(ctx context.Context) ([]Lock, error) {
	var locks []Lock
	err := c.withSession(ctx, func() error {
		page, err := c.fetchPage(ctx, lockPath)
		if err != nil {
			return err
		}
		locks, err = parseLockCards(bytes.NewReader(page))
		return err
	})
	if err != nil {
		return nil, err
	}
	return locks, nil
}

// UnlockEntranceDoor buzzes the entrance door open.
//
// Besides an expired session, a transport failure also triggers one re-login
// and retry: the portal tends to drop idle sessions by resetting the
// connection.
func (c *Client) UnlockEntranceDoor(ctx context.Context, lockID int) (Result, error) {
	endpoint := fmt.Sprintf("%s/%d", unlockEntryDoorPath, lockID)

	var result Result
	err := c.withSession(ctx, func() error {
		var err error
		result, err = c.getJSON(ctx, endpoint, nil)
		return err
	}, ErrConnectionFailed)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DoormanLockStatus reads the apartment (doorman) lock state. The portal
// needs SetLockStatusTempData called first within the same session.
func (c *Client) DoormanLockStatus(ctx context.Context) (Result, error) {
	var result Result
	err := c.withSession(ctx, func() error {
		if _, err := c.ajax(ctx, lockStatusTempDataPath, nil); err != nil {
			return err
		}
		var err error
		result, err = c.getJSON(ctx, doormanLockStatusPath, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LockDoorman locks the apartment (doorman) lock.
func (c *Client) LockDoorman(ctx context.Context) (Result, error) {
	return c.sessionJSON(ctx, lockDoormanPath, nil)
}

// UnlockDoorman unlocks the apartment (doorman) lock with the user's code.
func (c *Client) UnlockDoorman(ctx context.Context, code string) (Result, error) {
	return c.sessionJSON(ctx, unlockDoormanPath, url.Values{"code": {code}})
}

// PollOngoingCall reports whether someone is calling from the entrance panel.
func (c *Client) PollOngoingCall(ctx context.Context) (Result, error) {
	return c.sessionJSON(ctx, pollOngoingCallPath, nil)
}

func (c *Client) sessionJSON(ctx context.Context, endpoint string, query url.Values) (Result, error) {
	var result Result
	err := c.withSession(ctx, func() error {
		var err error
		result, err = c.getJSON(ctx, endpoint, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
