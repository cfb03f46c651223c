package main

import (
	"context"
	"fmt"

	"github.com/Hussein-Mazeh/VaultCore/internal/config"
	"github.com/Hussein-Mazeh/VaultCore/internal/session"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgPath   string
	vaultPath string
	verbose   bool

	log  = logrus.New()
	sess *session.Session
)

var rootCmd = &cobra.Command{
	Use:           "vaultctl",
	Short:         "vaultctl manages the local encrypted vault",
	Long:          "vaultctl initializes, unlocks, rotates and inspects a local SQLCipher-backed secrets vault.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = logrus.InfoLevel
		}
		if verbose {
			level = logrus.DebugLevel
		}
		log.SetLevel(level)

		storePath := cfg.StorePath()
		if vaultPath != "" {
			storePath = vaultPath
		}
		sess = session.New(storePath, session.Options{
			Log:        log,
			KDF:        cfg.KDF,
			AuditPath:  cfg.AuditPath(),
			EnableHIBP: cfg.CheckBreaches,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sess != nil {
			sess.Lock()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&vaultPath, "vault", "", "path to the vault store file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(kdfCmd)
	rootCmd.AddCommand(totpCmd)
	rootCmd.AddCommand(bioCmd)
}

// unlockInteractive prompts for the password (and, when enrolled, the
// second-factor code) and leaves the session unlocked. It returns the
// verified password for commands that re-use it.
func unlockInteractive(ctx context.Context) (string, error) {
	password, err := promptPassword("Master password")
	if err != nil {
		return "", err
	}
	totpRequired, err := sess.Unlock(ctx, password)
	if err != nil {
		return "", err
	}
	if totpRequired {
		code, err := promptLine("Second-factor code")
		if err != nil {
			return "", err
		}
		if err := sess.VerifySecondFactor(code); err != nil {
			return "", err
		}
	}
	return password, nil
}

func printf(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}
