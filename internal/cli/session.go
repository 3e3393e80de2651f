package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session state and worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			ready, err := c.Ready(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "state:   %s\n", c.State())
			fmt.Fprintf(out, "ready:   %t\n", ready)
			if ready {
				sid, err := c.SessionID(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "session: %s\n", sid)
				if exp, err := c.Expiry(ctx); err == nil && !exp.IsZero() {
					fmt.Fprintf(out, "expires: %s\n", exp.Format(time.RFC3339))
				}
			}
			st := c.PoolStats()
			fmt.Fprintf(out, "workers: %d (%d busy), %d queued\n", st.Workers, st.Busy, st.Queued)
			return nil
		},
	}
}

func (a *app) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session cleared")
			return nil
		},
	}
}

func (a *app) newBearerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bearer",
		Short: "Print a short-lived bearer token for the established session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			token, err := c.MintBearer(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
