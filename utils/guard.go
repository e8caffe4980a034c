package utils

// Guard runs a cleanup only when a function that allocates a resource fails part way through.
// Usage:
//
//	guard := NewGuard(func() { sock.Close() })
//	defer guard.OnFail()
//	if err != nil { return err }
//	guard.Success()
//	return nil
type Guard struct {
	OnFail  func()
	success bool
}

// NewGuard returns a Guard.
func NewGuard(onFailCleanup func()) *Guard {
	ret := &Guard{}
	ret.OnFail = func() {
		if !ret.success {
			onFailCleanup()
		}
	}
	return ret
}

// Success declares the function succeeded and the cleanup does not need to run.
func (guard *Guard) Success() {
	guard.success = true
}
