package common

import "fmt"

// LockStatus is the outcome of a remote lock request. The numeric value is
// sent over the wire.
type LockStatus uint8

const (
	LockOK LockStatus = iota
	LockNotLocked
	LockDeadlocked
)

func (s LockStatus) String() string {
	switch s {
	case LockOK:
		return "OK_LOCKED"
	case LockNotLocked:
		return "NOT_LOCKED"
	case LockDeadlocked:
		return "DEAD_LOCKED"
	default:
		return fmt.Sprintf("LockStatus(%d)", uint8(s))
	}
}

// LockResult carries a message only if the status is LockDeadlocked
type LockResult struct {
	Status  LockStatus
	Message string
}

// LockedResult is returned when all requested locks were granted
func LockedResult() LockResult {
	return LockResult{Status: LockOK}
}

// NotLockedResult is returned when the locks could not be taken and the
// slave may try again
func NotLockedResult() LockResult {
	return LockResult{Status: LockNotLocked}
}

// DeadlockResult is returned when waiting for the locks would deadlock
func DeadlockResult(message string) LockResult {
	return LockResult{Status: LockDeadlocked, Message: message}
}

func (r LockResult) String() string {
	if r.Status == LockDeadlocked {
		return fmt.Sprintf("%s: %s", r.Status, r.Message)
	}
	return r.Status.String()
}
