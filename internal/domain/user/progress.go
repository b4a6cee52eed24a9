package user

import "github.com/subvoyager/subvoyager/internal/domain/shared"

// Progress is the state of one (user, expedition) pair.
// The only valid path is Locked -> Unlocked -> Completed.
type Progress int

const (
	ProgressLocked Progress = iota
	ProgressUnlocked
	ProgressCompleted
)

// String returns the lowercase state name.
func (p Progress) String() string {
	switch p {
	case ProgressLocked:
		return "locked"
	case ProgressUnlocked:
		return "unlocked"
	case ProgressCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ProgressOf derives the state from the two membership tests.
func ProgressOf(unlocked, completed bool) Progress {
	switch {
	case completed:
		return ProgressCompleted
	case unlocked:
		return ProgressUnlocked
	default:
		return ProgressLocked
	}
}

// CanUnlock returns ErrAlreadyUnlocked unless the pair is still locked.
func (p Progress) CanUnlock() error {
	if p != ProgressLocked {
		return shared.ErrAlreadyUnlocked
	}
	return nil
}

// CanComplete checks the completed state first so a finished pair reports
// "already completed" rather than "must unlock first".
func (p Progress) CanComplete() error {
	switch p {
	case ProgressCompleted:
		return shared.ErrAlreadyCompleted
	case ProgressLocked:
		return shared.ErrMustUnlockFirst
	default:
		return nil
	}
}
