package aptus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"
)

const (
	testUser     = "tenant@example.com"
	testPassword = "s3cret!"
	testToken    = "tok-123"
	testSalt     = "487"
	sessionName  = "ASP.NET_SessionId"
)

const loginPageHTML = `<!DOCTYPE html>
<html><body>
<form action="/AptusPortal/Account/Login" method="post">
  <input name="__RequestVerificationToken" type="hidden" value="tok-123" />
  <input id="PasswordSalt" name="PasswordSalt" type="hidden" value="487" />
  <input id="UserName" name="UserName" type="text" />
</form>
</body></html>`

const lockPageHTML = `<!DOCTYPE html>
<html><body>
<div class="lockCard" id="entranceDoor_12">
  <div class="lockName">Main entrance<span>Building A</span></div>
</div>
<div class="lockCard wide" id="entranceDoor_7">
  <div>Bike room</div>
</div>
<div class="lockCard" id="doormanLock_1"><div>Apartment</div></div>
<div class="lockCard" id="entranceDoor_abc"><div>Broken</div></div>
</body></html>`

// fakePortal emulates the parts of the Aptus portal the client talks to.
type fakePortal struct {
	t *testing.T

	mu          sync.Mutex
	sessions    map[string]bool
	tempData    map[string]bool
	nextSession int
	logins      int
	lastForm    url.Values
	unlocked    []int
	requests    int
	ajaxMissing int

	loginPage  string
	lockPage   string
	pollBody   string
	loginDelay time.Duration
}

func newFakePortal(t *testing.T) (*fakePortal, *httptest.Server) {
	t.Helper()
	p := &fakePortal{
		t:         t,
		sessions:  make(map[string]bool),
		tempData:  make(map[string]bool),
		loginPage: loginPageHTML,
		lockPage:  lockPageHTML,
		pollBody:  `{"HasOngoingCall":false}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /AptusPortal/Account/Login", p.handleLoginPage)
	mux.HandleFunc("POST /AptusPortal/Account/Login", p.handleLoginPost)
	mux.HandleFunc("GET /AptusPortal/Account/LogOff", p.handleLogoff)
	mux.HandleFunc("GET /AptusPortal/{$}", p.session(p.handleLanding, false))
	mux.HandleFunc("GET /AptusPortal/Lock", p.session(p.handleLockPage, false))
	mux.HandleFunc("GET /AptusPortal/Lock/UnlockEntryDoor/{id}", p.session(p.handleUnlock, true))
	mux.HandleFunc("GET /AptusPortal/Lock/SetLockStatusTempData", p.session(p.handleTempData, true))
	mux.HandleFunc("GET /AptusPortal/LockAsync/DoormanLockStatus", p.session(p.handleDoormanStatus, true))
	mux.HandleFunc("GET /AptusPortal/Lock/LockDoormanLock", p.session(p.handleDoormanLock, true))
	mux.HandleFunc("GET /AptusPortal/Lock/UnlockDoormanLock", p.session(p.handleDoormanUnlock, true))
	mux.HandleFunc("GET /AptusPortal/Lock/PollOngingCall", p.session(p.handlePoll, true))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.requests++
		p.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return p, srv
}

func (p *fakePortal) baseURL(srv *httptest.Server) string {
	return srv.URL + "/AptusPortal/"
}

func (p *fakePortal) expireSessions() {
	p.mu.Lock()
	p.sessions = make(map[string]bool)
	p.mu.Unlock()
}

func (p *fakePortal) stats() (logins, requests int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logins, p.requests
}

func (p *fakePortal) sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionName)
	if err != nil {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return c.Value, p.sessions[c.Value]
}

// session rejects requests without a live session the way the portal does:
// by redirecting to the login page.
func (p *fakePortal) session(next func(http.ResponseWriter, *http.Request, string), ajax bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := p.sessionID(r)
		if !ok {
			http.Redirect(w, r, "/AptusPortal/Account/Login?ReturnUrl="+url.QueryEscape(r.URL.Path), http.StatusFound)
			return
		}
		if ajax && r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
			p.mu.Lock()
			p.ajaxMissing++
			p.mu.Unlock()
		}
		next(w, r, id)
	}
}

func (p *fakePortal) page(field *string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *field
}

func (p *fakePortal) handleLoginPage(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	delay := p.loginDelay
	p.mu.Unlock()
	time.Sleep(delay)
	fmt.Fprint(w, p.page(&p.loginPage))
}

func (p *fakePortal) handleLoginPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.logins++
	p.lastForm = r.PostForm
	p.mu.Unlock()

	ok := r.URL.Query().Get("ReturnUrl") == "/AptusPortal/" &&
		r.PostForm.Get("__RequestVerificationToken") == testToken &&
		r.PostForm.Get("UserName") == testUser &&
		r.PostForm.Get("PwEnc") == EncryptPassword(testPassword, testSalt)
	if !ok {
		fmt.Fprint(w, p.page(&p.loginPage))
		return
	}

	p.mu.Lock()
	p.nextSession++
	id := "sess-" + strconv.Itoa(p.nextSession)
	p.sessions[id] = true
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: sessionName, Value: id, Path: "/"})
	http.Redirect(w, r, "/AptusPortal/", http.StatusFound)
}

func (p *fakePortal) handleLogoff(w http.ResponseWriter, r *http.Request) {
	if id, ok := p.sessionID(r); ok {
		p.mu.Lock()
		delete(p.sessions, id)
		p.mu.Unlock()
	}
	http.Redirect(w, r, "/AptusPortal/Account/Login", http.StatusFound)
}

func (p *fakePortal) handleLanding(w http.ResponseWriter, _ *http.Request, _ string) {
	fmt.Fprint(w, `<html><body><nav>L&#229;s</nav><a href="/AptusPortal/Account/LogOff">Log ud</a></body></html>`)
}

func (p *fakePortal) handleLockPage(w http.ResponseWriter, _ *http.Request, _ string) {
	fmt.Fprint(w, p.page(&p.lockPage))
}

func (p *fakePortal) handleUnlock(w http.ResponseWriter, r *http.Request, _ string) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"errorMessage": "Unknown door"})
		return
	}
	p.mu.Lock()
	p.unlocked = append(p.unlocked, id)
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"StatusText": "Door opened", "DoorId": id})
}

func (p *fakePortal) handleTempData(w http.ResponseWriter, _ *http.Request, session string) {
	p.mu.Lock()
	p.tempData[session] = true
	p.mu.Unlock()
	fmt.Fprint(w, "OK")
}

func (p *fakePortal) handleDoormanStatus(w http.ResponseWriter, _ *http.Request, session string) {
	p.mu.Lock()
	ready := p.tempData[session]
	p.mu.Unlock()
	if !ready {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errorMessage": "No temp data", "HeaderStatusText": "Error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"IsLocked": true, "StatusText": "Locked"})
}

func (p *fakePortal) handleDoormanLock(w http.ResponseWriter, _ *http.Request, _ string) {
	writeJSON(w, http.StatusOK, map[string]any{"StatusText": "Locked"})
}

func (p *fakePortal) handleDoormanUnlock(w http.ResponseWriter, r *http.Request, _ string) {
	if r.URL.Query().Get("code") != "1234" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errorMessage": "Wrong code", "HeaderStatusText": "Error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"StatusText": "Unlocked"})
}

func (p *fakePortal) handlePoll(w http.ResponseWriter, _ *http.Request, _ string) {
	body := p.page(&p.pollBody)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test server
}
