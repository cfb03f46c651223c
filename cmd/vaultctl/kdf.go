package main

import (
	"github.com/Hussein-Mazeh/VaultCore/krypto"

	"github.com/spf13/cobra"
)

var (
	kdfMemoryKiB   uint32
	kdfTimeCost    uint32
	kdfParallelism uint8
)

var kdfCmd = &cobra.Command{
	Use:   "kdf",
	Short: "Re-derive the vault key under new Argon2id cost parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := krypto.Argon2Params{
			MemoryKiB:   kdfMemoryKiB,
			TimeCost:    kdfTimeCost,
			Parallelism: kdfParallelism,
		}
		if err := params.Validate(); err != nil {
			return err
		}
		password, err := promptPassword("Master password")
		if err != nil {
			return err
		}
		if err := sess.UpdateKDFParams(cmd.Context(), password, params); err != nil {
			return err
		}
		printf("KDF parameters updated: %d KiB memory, %d passes, %d threads.",
			params.MemoryKiB, params.TimeCost, params.Parallelism)
		return nil
	},
}

func init() {
	defaults := krypto.DefaultArgon2Params()
	kdfCmd.Flags().Uint32Var(&kdfMemoryKiB, "memory", defaults.MemoryKiB, "Argon2id memory in KiB")
	kdfCmd.Flags().Uint32Var(&kdfTimeCost, "time", defaults.TimeCost, "Argon2id time cost (passes)")
	kdfCmd.Flags().Uint8Var(&kdfParallelism, "parallelism", defaults.Parallelism, "Argon2id parallelism (threads)")
}
