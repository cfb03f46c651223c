package main

import (
	"github.com/spf13/cobra"
)

var totpCmd = &cobra.Command{
	Use:   "totp",
	Short: "Manage the time-based second factor",
}

var totpEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enrol a TOTP second factor and print the authenticator URI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := unlockInteractive(cmd.Context())
		if err != nil {
			return err
		}
		uri, err := sess.EnableSecondFactor(password)
		if err != nil {
			return err
		}
		printf("Scan this URI with your authenticator app:")
		printf("%s", uri)
		return nil
	},
}

var totpDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Remove the TOTP second factor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := unlockInteractive(cmd.Context())
		if err != nil {
			return err
		}
		if err := sess.DisableSecondFactor(password); err != nil {
			return err
		}
		printf("Second factor disabled.")
		return nil
	},
}

func init() {
	totpCmd.AddCommand(totpEnableCmd)
	totpCmd.AddCommand(totpDisableCmd)
}
