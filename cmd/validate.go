package cmd

import (
	"errors"
	"fmt"

	"powchain/core"
	"powchain/logger"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the integrity of the stored chain",
	Long: `Load every stored block and re-verify genesis, linkage, sequence, hashes
and difficulty. Exits non-zero and names the first bad block on failure.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	difficulty, err := chainDifficulty(cfg, store)
	if err != nil {
		return err
	}
	blocks, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to read stored blocks: %w", err)
	}
	if len(blocks) == 0 {
		return core.ErrEmptyChain
	}

	chain, err := core.LoadBlockchain(blocks, difficulty)
	if err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			logger.Errorf("Chain invalid at block %d: %s", verr.Index, verr.Reason())
		}
		return err
	}
	tip, err := chain.Tip()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "chain valid: %d blocks, difficulty %d, tip %s\n", chain.Len(), difficulty, tip.Hash.Hex())
	return nil
}
