package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leaderbot/leaderbot/internal/privacy"
)

// newUserKeyCmd prints the pseudonymous key for a platform id, so operators
// can locate a user's audit rows without the bot ever storing the raw id.
func newUserKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "userkey <platform-id>",
		Short: "Derive the user key and log id for a platform user id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			deriver, err := privacy.NewDeriver(cfg.Privacy.Pepper)
			if err != nil {
				return err
			}
			key := deriver.ToUserKey(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "user_key=%s\nlog_user=%s\n", key, privacy.ToLogUser(key))
			return nil
		},
	}
}
