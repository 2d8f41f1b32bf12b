package cmd

import (
	"errors"
	"fmt"

	"powchain/config"
	"powchain/consensus"
	"powchain/core"
	"powchain/database"
	"powchain/logger"
	"powchain/miner"
)

// node is the wired set of components behind every command.
type node struct {
	cfg        *config.Config
	store      *database.BlockStore
	chain      *core.Blockchain
	queue      *miner.WorkQueue
	controller *miner.Controller
}

// loadConfig resolves the effective config and applies its logging
// settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.GetLogLevel())
	logger.SetJSON(cfg.LogJSON)
	return cfg, nil
}

// openStore opens the LevelDB block store under the data directory.
func openStore(cfg *config.Config) (*database.BlockStore, error) {
	db, err := database.NewLevelDB(cfg.GetDataSubDir("chaindata"), database.Options{
		CacheMB: cfg.Cache,
		Handles: cfg.Handles,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open chain database: %w", err)
	}
	return database.NewBlockStore(db, cfg.CacheSize, cfg.CacheTTL), nil
}

// chainDifficulty returns the difficulty recorded with the stored chain,
// falling back to the configured one for a new store.
func chainDifficulty(cfg *config.Config, store *database.BlockStore) (uint, error) {
	stored, ok, err := store.Difficulty()
	if err != nil {
		return 0, err
	}
	if !ok {
		return cfg.Difficulty, nil
	}
	if stored != cfg.Difficulty {
		logger.Warningf("Configured difficulty %d differs from stored chain difficulty %d, using %d", cfg.Difficulty, stored, stored)
	}
	return stored, nil
}

// loadChain membangun ulang chain dari store, atau membuat dan menyimpan
// block genesis jika store masih kosong.
func loadChain(cfg *config.Config, store *database.BlockStore) (*core.Blockchain, error) {
	difficulty, err := chainDifficulty(cfg, store)
	if err != nil {
		return nil, err
	}

	blocks, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to read stored blocks: %w", err)
	}
	if len(blocks) > 0 {
		chain, err := core.LoadBlockchain(blocks, difficulty)
		if err != nil {
			return nil, fmt.Errorf("stored chain failed validation: %w", err)
		}
		logger.Infof("Loaded chain with %d blocks at difficulty %d", chain.Len(), difficulty)
		return chain, nil
	}

	logger.Infof("No stored chain found, mining genesis at difficulty %d", difficulty)
	chain, err := core.NewBlockchain(difficulty)
	if err != nil {
		return nil, err
	}
	genesis, err := chain.Tip()
	if err != nil {
		return nil, err
	}
	if err := store.Save(genesis); err != nil {
		return nil, fmt.Errorf("failed to persist genesis: %w", err)
	}
	if err := store.SetDifficulty(difficulty); err != nil {
		return nil, fmt.Errorf("failed to record chain difficulty: %w", err)
	}
	logger.Infof("Genesis block created. Hash: %s", genesis.Hash.Hex())
	return chain, nil
}

func openNode(cfg *config.Config) (*node, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	chain, err := loadChain(cfg, store)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	engine := consensus.NewProofOfWork(cfg.CheckInterval)
	queue, err := miner.NewWorkQueue(engine, miner.QueueConfig{
		Workers:     cfg.Workers,
		NonceLimit:  cfg.NonceLimit,
		StopTimeout: cfg.StopTimeout,
	})
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	controller := miner.NewController(chain, queue, miner.ControllerConfig{
		Store:        store,
		LoopInterval: cfg.MiningInterval,
	})
	return &node{cfg: cfg, store: store, chain: chain, queue: queue, controller: controller}, nil
}

// Close menghentikan mining dan melepaskan database.
func (n *node) Close() error {
	if n.controller.IsRunning() {
		n.controller.Stop()
	}
	n.queue.Close()
	logger.Info("Closing chain database...")
	return n.store.Close()
}
