package domain

import (
	"time"

	"github.com/google/uuid"

	esDomain "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
)

// MaxRetryCount bounds publish retries. The fifth failed publish is
// terminal: the entry is marked failed and left for an operator.
const MaxRetryCount = 5

// LockToken identifies one claimed batch. All lock bookkeeping is keyed
// by it, so resolving a batch cannot touch entries claimed by someone
// else.
type LockToken uuid.UUID

func NewLockToken() LockToken {
	return LockToken(uuid.New())
}

func (t LockToken) String() string {
	return uuid.UUID(t).String()
}

// Entry is one message staged for delivery to the broker. Entries are
// created inside the same transaction as the business event they stem
// from, which is what makes "event happened" and "message will be
// delivered" atomic.
//
// At most one of AcknowledgedAt/FailedAt is ever set, and never unset
// again. LockedAt and LockToken are both set or both absent. RetryCount
// only grows.
type Entry struct {
	ID             uuid.UUID
	Target         string
	RoutingKey     string
	Payload        esDomain.Document
	CreatedAt      time.Time
	LockedAt       *time.Time
	LockToken      *LockToken
	AcknowledgedAt *time.Time
	FailedAt       *time.Time
	RetryCount     int
}

// NewEntry stages a message for the given broker destination.
func NewEntry(target string, routingKey string, payload esDomain.Document) Entry {
	return Entry{
		ID:         uuid.New(),
		Target:     target,
		RoutingKey: routingKey,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
}

// IsLocked reports whether the entry is currently claimed.
func (e Entry) IsLocked() bool {
	return e.LockedAt != nil
}

// IsResolved reports whether the entry reached a terminal state.
func (e Entry) IsResolved() bool {
	return e.AcknowledgedAt != nil || e.FailedAt != nil
}
