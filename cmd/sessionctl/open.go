package main

import (
	"context"
	"fmt"
	"time"

	"github.com/agentuity/go-sessions/session"
	"github.com/agentuity/go-sessions/tui"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
	"golang.org/x/sync/errgroup"
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open sessions for one or more engine types",
	Example: `  sessionctl open --type python --type spark --property executorCores=2
  sessionctl open --type hive --detached --hold 1h30m --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		types, _ := cmd.Flags().GetStringSlice("type")
		pairs, _ := cmd.Flags().GetStringArray("property")
		detached, _ := cmd.Flags().GetBool("detached")
		keep, _ := cmd.Flags().GetBool("keep")
		holdFlag, _ := cmd.Flags().GetString("hold")
		format, _ := cmd.Flags().GetString("format")

		if len(types) == 0 {
			return fmt.Errorf("at least one --type is required")
		}
		props, err := parseProperties(pairs)
		if err != nil {
			return err
		}
		var hold time.Duration
		if holdFlag != "" {
			if hold, err = str2duration.ParseDuration(holdFlag); err != nil {
				return fmt.Errorf("invalid --hold: %w", err)
			}
		}

		rt, err := setup(cmd, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		handles := make([]*session.Handle, len(types))
		err = tui.ShowSpinner(rt.ctx, "Opening sessions ...", func(ctx context.Context) error {
			g, ctx := errgroup.WithContext(ctx)
			for i, sessionType := range types {
				def := session.Definition{Type: sessionType, Properties: props}
				g.Go(func() error {
					var err error
					if detached {
						handles[i], err = rt.manager.CreateDetached(ctx, def)
					} else {
						handles[i], err = rt.manager.Get(ctx, def)
					}
					return err
				})
			}
			return g.Wait()
		})
		if err != nil {
			closeOpened(rt, handles, detached)
			return err
		}
		if err := printHandles(cmd.OutOrStdout(), format, handles); err != nil {
			return err
		}
		if keep {
			return nil
		}
		if hold > 0 {
			rt.logger.Info("holding sessions for %s", str2duration.String(hold))
			select {
			case <-rt.ctx.Done():
			case <-time.After(hold):
			}
		}
		closeOpened(rt, handles, detached)
		return nil
	},
}

// closeOpened closes whatever was opened. It runs after the command context may
// already be cancelled by a signal.
func closeOpened(rt *runtime, handles []*session.Handle, detached bool) {
	ctx := context.WithoutCancel(rt.ctx)
	if !detached {
		if err := rt.manager.CloseAll(ctx); err != nil {
			rt.logger.Warn("error closing sessions: %s", err)
		}
		return
	}
	for _, h := range handles {
		if h == nil {
			continue
		}
		rt.manager.Close(ctx, h).Discard(func(err error) {
			rt.logger.Warn("session %s was not closed cleanly: %s", h, err)
		})
	}
}

func init() {
	openCmd.Flags().StringSliceP("type", "t", nil, "The engine type to open a session for, repeatable")
	openCmd.Flags().StringArrayP("property", "p", nil, "A session property as key=value, repeatable")
	openCmd.Flags().Bool("detached", false, "Create sessions that are not shared with the cache")
	openCmd.Flags().Bool("keep", false, "Leave the sessions open on exit")
	openCmd.Flags().String("hold", "", "Keep the sessions open for this long before closing them, e.g. 90s, 1h30m, 2d")
	rootCmd.AddCommand(openCmd)
}
