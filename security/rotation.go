package security

import "time"

// KeyRotationWindow bounds the lifetime of one sealing key version. Outside
// the window the managed provider refuses the key for both sealing new
// credentials and opening stored ones, which forces stragglers onto the
// rotation schedule instead of silently extending an old key.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

// Allows reports whether the key version may be used at the given instant.
// Zero bounds are open-ended.
func (w KeyRotationWindow) Allows(at time.Time) bool {
	instant := at.UTC()
	switch {
	case !w.NotBefore.IsZero() && instant.Before(w.NotBefore.UTC()):
		return false
	case !w.NotAfter.IsZero() && instant.After(w.NotAfter.UTC()):
		return false
	default:
		return true
	}
}
