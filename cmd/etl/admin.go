package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"animehub/internal/auth"
	"animehub/internal/state"
)

func (a *app) stateCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show or reset the saved ingestion state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := state.NewFile(a.cfg.Pipeline.StateDir)
			if reset {
				if err := st.Reset(); err != nil {
					return err
				}
				fmt.Println("state reset; next run starts at page 1")
				return nil
			}

			cur, err := st.Load()
			if err != nil {
				return err
			}
			fmt.Printf("file:           %s\n", st.Path)
			fmt.Printf("last page:      %d\n", cur.LastPage)
			fmt.Printf("last data page: %d\n", cur.LastDataPage)
			fmt.Printf("next page:      %d\n", cur.NextPage())
			if cur.LastRunID != "" {
				fmt.Printf("last run:       %s at %s\n", cur.LastRunID, cur.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "delete the state so the next run starts at page 1")
	return cmd
}

func (a *app) tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token for the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = a.cfg.Auth.JWTTTL
			}
			ts := auth.TokenService{
				Secret:   []byte(a.cfg.Auth.JWTSecret),
				Issuer:   a.cfg.Auth.JWTIssuer,
				Duration: ttl,
			}
			tok, exp, err := ts.Sign(subject)
			if err != nil {
				return fmt.Errorf("%w (set auth.jwt_secret or ANIMEHUB_AUTH_JWT_SECRET)", err)
			}
			fmt.Println(tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	return cmd
}
