package main

import (
	"github.com/agentuity/go-sessions/session"
	"github.com/agentuity/go-sessions/tui"
	"github.com/spf13/cobra"
)

var closeCmd = &cobra.Command{
	Use:     "close",
	Short:   "Close a session",
	Example: `  sessionctl close --session '{"type":"python","session_id":"42"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("session")
		handle, err := parseHandle(raw, cmd.InOrStdin())
		if err != nil {
			return err
		}
		rt, err := setup(cmd, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		res := rt.manager.Close(rt.ctx, handle)
		if res.IsErr(session.ErrMissingType) {
			return res.Err
		}
		if res.IsErr() {
			tui.ShowWarning(cmd.OutOrStdout(), "closed %s with a server error: %s", handle, res.Err)
			return nil
		}
		tui.ShowSuccess(cmd.OutOrStdout(), "closed %s", handle)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:     "restart",
	Short:   "Close a session and open a new one of the same type",
	Example: `  sessionctl open --type python --keep --format json | jq -c '.[0]' | sessionctl restart --session -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("session")
		format, _ := cmd.Flags().GetString("format")
		handle, err := parseHandle(raw, cmd.InOrStdin())
		if err != nil {
			return err
		}
		rt, err := setup(cmd, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		newHandle, err := rt.manager.Restart(rt.ctx, handle)
		if err != nil {
			return err
		}
		return printHandles(cmd.OutOrStdout(), format, []*session.Handle{newHandle})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{closeCmd, restartCmd} {
		cmd.Flags().StringP("session", "s", "", "The session as JSON, or - to read it from stdin")
		cmd.MarkFlagRequired("session")
		rootCmd.AddCommand(cmd)
	}
}
