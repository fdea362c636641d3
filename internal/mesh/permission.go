package mesh

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
	"github.com/luxfi/zhtp-core/internal/identity"
	"github.com/luxfi/zhtp-core/internal/permission"
)

const timestampWindow = 5 * time.Minute

var (
	// ErrCredentialExpired is returned for a timestamp outside the 5
	// minute window (spec §4.2 security/permissions).
	ErrCredentialExpired = errors.New("mesh: credential timestamp outside allowed window")
	// ErrCredentialNonceEmpty is returned for an empty nonce.
	ErrCredentialNonceEmpty = errors.New("mesh: credential nonce is empty")
	// ErrCredentialBadSignature is returned when the Dilithium signature
	// does not verify.
	ErrCredentialBadSignature = errors.New("mesh: credential signature invalid")
	// ErrInsufficientPermission is returned when the caller's level is
	// below the operation's required minimum.
	ErrInsufficientPermission = errors.New("mesh: insufficient permission")
)

// Credential authenticates a caller for a sensitive operation (spec §4.2:
// "(caller PublicKey, signature, timestamp within 5 min, non-empty
// nonce)").
type Credential struct {
	PublicKey cryptoprovider.SignPublicKey
	Signature []byte
	Timestamp time.Time
	Nonce     string
}

// signedMessage reconstructs the bytes the caller must have signed:
// operation name and nonce, bound to the timestamp.
func signedMessage(operation string, nonce string, ts time.Time) []byte {
	var tsBytes [8]byte
	unix := ts.Unix()
	for i := 0; i < 8; i++ {
		tsBytes[i] = byte(unix >> (8 * i))
	}
	return append([]byte(operation+"|"+nonce+"|"), tsBytes[:]...)
}

// AuditEntry is one append-only audit log row (spec §4.2: "An append-only
// audit log records every attempt", spec §6 audit log record: operation,
// caller, target, permission level, timestamp, allowed, reason).
type AuditEntry struct {
	Operation string
	Caller    identity.NodeID
	Target    identity.NodeID
	Level     permission.Level
	Timestamp time.Time
	Allowed   bool
	Reason    string
}

// PermissionTable tracks each known node's access level and authorizes
// sensitive operations against signed credentials, logging every attempt
// (spec §4.2 "permission table (Owner, Admin, User, None)").
type PermissionTable struct {
	mu     sync.Mutex
	levels map[identity.NodeID]permission.Level
	audit  []AuditEntry
	now    func() time.Time
}

// NewPermissionTable builds an empty table; all unknown callers default
// to permission.LevelNone.
func NewPermissionTable() *PermissionTable {
	return &PermissionTable{
		levels: make(map[identity.NodeID]permission.Level),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLevel assigns caller's permission level.
func (t *PermissionTable) SetLevel(caller identity.NodeID, level permission.Level) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.levels[caller] = level
}

// LevelOf returns caller's configured level, LevelNone if unknown.
func (t *PermissionTable) LevelOf(caller identity.NodeID) permission.Level {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.levels[caller]
}

// Authorize validates cred against the signed-message convention and the
// caller's assigned permission level, appending an audit entry regardless
// of outcome (spec §4.2 security/permissions). target identifies the
// resource or peer the operation acts on, if any (the zero NodeID for
// operations with no specific target, e.g. a node-wide emergency stop).
func (t *PermissionTable) Authorize(operation string, caller identity.NodeID, target identity.NodeID, cred Credential, minLevel permission.Level) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	err := t.checkCredential(operation, caller, cred, minLevel, now)
	t.audit = append(t.audit, AuditEntry{
		Operation: operation,
		Caller:    caller,
		Target:    target,
		Level:     t.levels[caller],
		Timestamp: now,
		Allowed:   err == nil,
		Reason:    reasonOf(err),
	})
	return err
}

func (t *PermissionTable) checkCredential(operation string, caller identity.NodeID, cred Credential, minLevel permission.Level, now time.Time) error {
	if cred.Nonce == "" {
		return ErrCredentialNonceEmpty
	}
	if now.Sub(cred.Timestamp) > timestampWindow || cred.Timestamp.Sub(now) > timestampWindow {
		return ErrCredentialExpired
	}
	msg := signedMessage(operation, cred.Nonce, cred.Timestamp)
	if !cryptoprovider.Verify(cred.PublicKey, msg, cred.Signature) {
		return ErrCredentialBadSignature
	}
	if !t.levels[caller].AtLeast(minLevel) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientPermission, t.levels[caller], minLevel)
	}
	return nil
}

func reasonOf(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

// AuditLog returns a copy of the recorded attempts.
func (t *PermissionTable) AuditLog() []AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]AuditEntry{}, t.audit...)
}
