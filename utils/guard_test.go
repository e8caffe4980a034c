package utils

import (
	"testing"

	"go.viam.com/test"
)

func TestGuard(t *testing.T) {
	cleaned := 0
	run := func(succeed bool) {
		guard := NewGuard(func() { cleaned++ })
		defer guard.OnFail()
		if !succeed {
			return
		}
		guard.Success()
	}

	run(true)
	test.That(t, cleaned, test.ShouldEqual, 0)
	run(false)
	test.That(t, cleaned, test.ShouldEqual, 1)
}
