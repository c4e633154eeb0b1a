package tui

import (
	"context"

	"github.com/charmbracelet/huh/spinner"
)

// ShowSpinner will display a spinner while the action is being performed.
// Without a terminal the action just runs. The error returned is the one from
// action.
func ShowSpinner(ctx context.Context, title string, action func(ctx context.Context) error) error {
	if !HasTTY {
		return action(ctx)
	}
	spinCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var err error
	s := spinner.New().Context(spinCtx).Title(title).Action(func() {
		defer cancel()
		err = action(spinCtx)
	})
	if runErr := s.Run(); runErr != nil && err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
