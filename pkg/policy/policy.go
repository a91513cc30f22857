// Package policy implements the filter/policy plane (spec.md C9): a
// composable chain of pure predicates over a request context, any one of
// which can short-circuit the request with 401/403.
package policy

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"sync"
)

// RequestContext is the subset of the HTTP request context (spec.md §3)
// that filters need to see.
type RequestContext struct {
	Method  string
	URI     string
	IP      string
	User    string
	Headers map[string]string
	GETs    []KV
}

// KV is one ordered GET argument.
type KV struct{ Key, Value string }

// Decision is the outcome of one filter.
type Decision struct {
	Allowed bool
	Status  int // 401 or 403 when !Allowed
}

func allow() Decision           { return Decision{Allowed: true} }
func deny(status int) Decision { return Decision{Allowed: false, Status: status} }

// UserStore holds the Basic-auth registered-users set, keyed by username,
// mapping to the pre-encoded base64 of "user:pass" (spec.md §6's
// persisted-state note: authorization tokens are not persisted, but this
// table is loaded from configuration, which is a different concern).
type UserStore struct {
	mu    sync.RWMutex
	users map[string]string // username -> base64(user:pass)
}

func NewUserStore() *UserStore { return &UserStore{users: map[string]string{}} }

func (u *UserStore) Set(username, basicAuthValue string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[username] = basicAuthValue
}

// CheckBasic validates an "Authorization: Basic <b64>" header value,
// returning the authenticated username on success.
func (u *UserStore) CheckBasic(header string) (username string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	encoded := strings.TrimPrefix(header, prefix)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	pair := string(decoded)
	colon := strings.IndexByte(pair, ':')
	if colon < 0 {
		return "", false
	}
	username = pair[:colon]

	u.mu.RLock()
	defer u.mu.RUnlock()
	expected, exists := u.users[username]
	if !exists {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(encoded)) != 1 {
		return "", false
	}
	return username, true
}

// TokenStore holds the bearer-token set. Tokens are never persisted
// (spec.md §6).
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string // token -> username
}

func NewTokenStore() *TokenStore { return &TokenStore{tokens: map[string]string{}} }

func (t *TokenStore) Issue(token, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[token] = username
}

func (t *TokenStore) Revoke(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, token)
}

// CheckBearer validates an "Authorization: Bearer <token>" header value.
func (t *TokenStore) CheckBearer(header string) (username string, ok bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(header, prefix)

	t.mu.RLock()
	defer t.mu.RUnlock()
	username, ok = t.tokens[token]
	return username, ok
}

// Authenticate implements pipeline step 5 of the HTTP engine (spec.md
// §4.6): Basic first, then Bearer; anything else denies with 401.
func Authenticate(users *UserStore, tokens *TokenStore, authorizationHeader string) (username string, decision Decision) {
	if authorizationHeader == "" {
		return "", deny(401)
	}
	if u, ok := users.CheckBasic(authorizationHeader); ok {
		return u, allow()
	}
	if u, ok := tokens.CheckBearer(authorizationHeader); ok {
		return u, allow()
	}
	return "", deny(401)
}

// AETAllowList is the AET allow-list for DICOM requests: a static
// configuration table plus a "same-AET" fallback rule.
type AETAllowList struct {
	mu          sync.RWMutex
	configured  map[string]bool
	allowSameAE bool
	ownAET      string
}

func NewAETAllowList(ownAET string, allowSameAE bool) *AETAllowList {
	return &AETAllowList{configured: map[string]bool{}, allowSameAE: allowSameAE, ownAET: ownAET}
}

func (a *AETAllowList) Add(aet string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configured[aet] = true
}

func (a *AETAllowList) Allowed(aet string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.configured[aet] {
		return true
	}
	return a.allowSameAE && aet == a.ownAET
}

// TransferSyntaxFamily groups the transfer syntaxes an administrator can
// allow or deny as a unit (spec.md §4.9).
type TransferSyntaxFamily string

const (
	FamilyDeflated     TransferSyntaxFamily = "Deflated"
	FamilyJPEG         TransferSyntaxFamily = "JPEG"
	FamilyJPEG2000     TransferSyntaxFamily = "JPEG2000"
	FamilyJPEGLossless TransferSyntaxFamily = "JPEGLossless"
	FamilyJPIP         TransferSyntaxFamily = "JPIP"
	FamilyMPEG2        TransferSyntaxFamily = "MPEG2"
	FamilyMPEG4        TransferSyntaxFamily = "MPEG4"
	FamilyRLE          TransferSyntaxFamily = "RLE"
)

// TransferSyntaxAllowList tracks which families are enabled. All families
// are allowed by default.
type TransferSyntaxAllowList struct {
	mu       sync.RWMutex
	disabled map[TransferSyntaxFamily]bool
}

func NewTransferSyntaxAllowList() *TransferSyntaxAllowList {
	return &TransferSyntaxAllowList{disabled: map[TransferSyntaxFamily]bool{}}
}

func (t *TransferSyntaxAllowList) Disable(f TransferSyntaxFamily) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disabled[f] = true
}

func (t *TransferSyntaxAllowList) Allowed(f TransferSyntaxFamily) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.disabled[f]
}

// ReceivedInstanceOutcome is the result of the received-instance callback.
type ReceivedInstanceOutcome int

const (
	KeepAsIs ReceivedInstanceOutcome = iota
	Modify
	Discard
)

// ReceivedInstanceResult carries the outcome and, for Modify, the new bytes.
type ReceivedInstanceResult struct {
	Outcome ReceivedInstanceOutcome
	NewData []byte
}

// ScriptedPredicate is a scripted filter call signature, backed by
// pkg/scripthost at the composition root; kept as a function type here so
// policy has no import-time dependency on the script host.
type ScriptedPredicate func(ctx RequestContext) bool

// Chain runs every filter in order; the first denial short-circuits.
type Chain struct {
	filters []func(RequestContext) Decision
}

func NewChain() *Chain { return &Chain{} }

func (c *Chain) Add(f func(RequestContext) Decision) { c.filters = append(c.filters, f) }

func (c *Chain) Evaluate(ctx RequestContext) Decision {
	for _, f := range c.filters {
		if d := f(ctx); !d.Allowed {
			return d
		}
	}
	return allow()
}

// ScriptedFilter adapts a ScriptedPredicate into a Chain-compatible filter,
// denying with 403 (an authorization filter failure, not an authentication
// one) when the script returns false.
func ScriptedFilter(p ScriptedPredicate) func(RequestContext) Decision {
	return func(ctx RequestContext) Decision {
		if p == nil || p(ctx) {
			return allow()
		}
		return deny(403)
	}
}
