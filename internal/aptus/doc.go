// Package aptus is a client for the Aptus Home tenant portal
// (https://<domain>.aptustotal.se/AptusPortal/).
//
// The portal has no public API. The client drives the same endpoints the web
// UI uses: a form login guarded by an anti-forgery token, HTML scraping of
// the Lock page for the entrance doors, and XMLHttpRequest-style JSON
// endpoints for unlocking.
//
// # Session
//
// Login stores the session cookie in a per-client jar. Calls that need a
// session return ErrNotLoggedIn until Login succeeds. When the portal later
// redirects a call to its login page the client logs in again, shared across
// concurrent callers, and retries the call once.
//
// # Usage
//
//	client, err := aptus.New(aptus.Config{
//	    BaseURL:  "https://demo.aptustotal.se/AptusPortal/",
//	    Username: user,
//	    Password: pass,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := client.Login(ctx); err != nil {
//	    return err
//	}
//	doors, err := client.ListEntranceDoors(ctx)
//	...
//	_, err = client.UnlockEntranceDoor(ctx, doors[0].ID)
package aptus
