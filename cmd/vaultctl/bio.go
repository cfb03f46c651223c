package main

import (
	"github.com/spf13/cobra"
)

var bioCmd = &cobra.Command{
	Use:   "bio",
	Short: "Manage biometric unlock",
}

var bioEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Escrow the master password behind the platform biometric prompt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := unlockInteractive(cmd.Context())
		if err != nil {
			return err
		}
		if err := sess.EnableBiometrics(password); err != nil {
			return err
		}
		printf("Biometric unlock enabled.")
		return nil
	},
}

var bioDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Remove the biometric escrow",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := sess.DisableBiometrics(); err != nil {
			return err
		}
		printf("Biometric unlock disabled.")
		return nil
	},
}

var bioStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether biometric unlock is enabled",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printf("Biometric unlock enabled: %t", sess.IsBiometricsEnabled())
		return nil
	},
}

var bioUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock the vault through the biometric prompt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		totpRequired, err := sess.UnlockWithBiometrics(cmd.Context())
		if err != nil {
			return err
		}
		if totpRequired {
			code, err := promptLine("Second-factor code")
			if err != nil {
				return err
			}
			if err := sess.VerifySecondFactor(code); err != nil {
				return err
			}
		}
		printf("Vault unlocked.")
		return nil
	},
}

func init() {
	bioCmd.AddCommand(bioEnableCmd)
	bioCmd.AddCommand(bioDisableCmd)
	bioCmd.AddCommand(bioStatusCmd)
	bioCmd.AddCommand(bioUnlockCmd)
}
