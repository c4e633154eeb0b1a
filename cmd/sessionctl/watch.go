package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentuity/go-sessions/eventing"
	"github.com/agentuity/go-sessions/session"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print session lifecycle events as they are published",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		format, _ := cmd.Flags().GetString("format")
		rt, err := setup(cmd, false)
		if err != nil {
			return err
		}
		defer rt.Close()
		if rt.events == nil {
			return fmt.Errorf("--redis-url or SESSIONS_REDIS_URL is required to watch events")
		}

		var mu sync.Mutex
		out := cmd.OutOrStdout()
		sub, err := rt.events.Subscribe(rt.ctx, subject, func(ctx context.Context, msg eventing.Message) {
			ev, err := session.DecodeEvent(msg.Data())
			if err != nil {
				rt.logger.Warn("skipping undecodable event on %s: %s", msg.Subject(), err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if err := printEvent(out, format, ev); err != nil {
				rt.logger.Warn("error printing event: %s", err)
			}
		})
		if err != nil {
			return err
		}
		defer sub.Close()
		rt.logger.Info("watching %s", subject)
		<-rt.ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
