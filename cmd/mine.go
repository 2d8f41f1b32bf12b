package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"powchain/logger"

	"github.com/spf13/cobra"
)

var (
	mineCount    int
	mineData     string
	mineAttempts int
)

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Mine blocks into the local chain",
	Long: `Mine the given number of blocks on top of the stored chain and persist
them. Each mined block is printed as JSON.`,
	RunE: runMine,
}

func init() {
	mineCmd.Flags().IntVarP(&mineCount, "count", "n", 1, "Number of blocks to mine")
	mineCmd.Flags().StringVar(&mineData, "data", "", "Payload of every mined block")
	mineCmd.Flags().IntVar(&mineAttempts, "attempts", 1, "Rounds to try per block when the nonce space runs out")
}

func runMine(cmd *cobra.Command, args []string) error {
	if mineCount < 1 {
		return fmt.Errorf("count must be at least 1, got %d", mineCount)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	n, err := openNode(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Errorf("Failed to close node: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(cmd.OutOrStdout())
	for i := 0; i < mineCount; i++ {
		block, err := n.controller.MineNextWithRetry(ctx, []byte(mineData), mineAttempts)
		if block != nil && err != nil {
			// hanya ada di memori; tetap tampilkan block-nya
			_ = enc.Encode(block)
		}
		if err != nil {
			return fmt.Errorf("mining block %d of %d: %w", i+1, mineCount, err)
		}
		if err := enc.Encode(block); err != nil {
			return err
		}
	}
	stats := n.controller.Stats()
	logger.Infof("Mined %d blocks, chain height is now %d", stats.BlocksFound, n.chain.Len()-1)
	return nil
}
