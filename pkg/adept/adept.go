// Package adept implements the Adobe Adept device-registration protocol:
// the five-step sequence (device key, device file, user, sign in,
// activate) a reading application runs once per authorization directory
// against an Adobe Content Server.
//
// XML bodies are built and parsed with encoding/xml the way the teacher's
// pkg/opds builds its Atom feeds (namespace on the root element via an
// xmlns attribute field, plain field tags otherwise) — which also gives
// the namespace tolerance the protocol needs for free: encoding/xml
// matches struct tags by local name regardless of the document's prefix,
// so a reply using a default xmlns or a "adept:" prefix decodes
// identically.
package adept

import (
	"net/http"
	"sync"

	"github.com/go-bookloader/bookloader/pkg/keystore"
)

// Namespace is the XML namespace every Adept request and reply element
// lives in.
const Namespace = "http://ns.adobe.com/adept"

// State is the registration state machine: Uninitialized -> HasDevice ->
// HasUser -> SignedIn -> Activated. Any step may be re-run from
// Uninitialized after the store is reset.
type State int

const (
	Uninitialized State = iota
	HasDevice
	HasUser
	SignedIn
	Activated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case HasDevice:
		return "has_device"
	case HasUser:
		return "has_user"
	case SignedIn:
		return "signed_in"
	case Activated:
		return "activated"
	default:
		return "unknown"
	}
}

// Session drives the five-step registration sequence against a single
// Adobe Content Server. It takes its store and HTTP client explicitly —
// there is no process-global "current account path" the way the Python
// original's libadobe.update_account_path mutates module state; every
// call is scoped to this Session.
type Session struct {
	mu sync.Mutex

	store      *keystore.Store
	httpClient *http.Client
	fulfillURL string // Adobe Content Server base URL for createUser/signIn/activate

	state State

	deviceSalt []byte
	deviceKey  []byte // AES-128 key derived from deviceSalt, encrypts the signIn password

	authServiceURL string
	userUUID       string
	username       string
}

// NewSession returns a Session that persists into store and talks to the
// content server at fulfillURL, using httpClient for requests. state is
// inferred from whatever the store already contains.
func NewSession(store *keystore.Store, httpClient *http.Client, fulfillURL string) *Session {
	s := &Session{
		store:      store,
		httpClient: httpClient,
		fulfillURL: fulfillURL,
	}
	s.state = inferState(store)
	return s
}

func inferState(store *keystore.Store) State {
	if store.IsAuthorized() {
		return Activated
	}
	return Uninitialized
}

// State returns the session's current position in the registration state
// machine.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
