package main

import (
	"errors"

	"github.com/Hussein-Mazeh/VaultCore/internal/session"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set the master password and create the encrypted vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sess.IsConfigured() {
			return errors.New("vault is already initialized; use rotate to change the password")
		}
		password, err := promptNewPassword("New master password")
		if err != nil {
			return err
		}
		if err := sess.SetMasterPassword(cmd.Context(), password); err != nil {
			return err
		}
		printf("Vault created at %s", sess.StorePath())
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Verify the master password (and second factor) against the vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := unlockInteractive(cmd.Context()); err != nil {
			return err
		}
		printf("Vault unlocked.")
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a password without touching unlock state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptPassword("Master password")
		if err != nil {
			return err
		}
		ok, err := sess.VerifyPassword(password)
		if err != nil {
			return err
		}
		if !ok {
			return session.ErrInvalidPassword
		}
		printf("Password is correct.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the vault's configuration state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printf("Store:      %s", sess.StorePath())
		printf("Configured: %t", sess.IsConfigured())
		printf("Biometrics: %t", sess.IsBiometricsEnabled())
		return nil
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Change the master password and re-encrypt the vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := promptPassword("Current master password")
		if err != nil {
			return err
		}
		next, err := promptNewPassword("New master password")
		if err != nil {
			return err
		}
		if err := sess.Rotate(cmd.Context(), current, next); err != nil {
			return err
		}
		printf("Master password rotated.")
		return nil
	},
}
