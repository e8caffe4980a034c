package inject

import (
	"context"

	"go.viam.com/wifimodule/components/board"
)

// GPIOPin is an injected GPIOPin.
type GPIOPin struct {
	board.GPIOPin

	SetFunc func(ctx context.Context, high bool) error
	GetFunc func(ctx context.Context) (bool, error)
}

// Set calls the injected Set or the real version.
func (gp *GPIOPin) Set(ctx context.Context, high bool) error {
	if gp.SetFunc == nil {
		return gp.GPIOPin.Set(ctx, high)
	}
	return gp.SetFunc(ctx, high)
}

// Get calls the injected Get or the real version.
func (gp *GPIOPin) Get(ctx context.Context) (bool, error) {
	if gp.GetFunc == nil {
		return gp.GPIOPin.Get(ctx)
	}
	return gp.GetFunc(ctx)
}
