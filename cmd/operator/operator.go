// Package operator implements the operator sub-commands: locking batch
// randomness, revealing the selection seed and finalizing payouts.
package operator

import (
	"context"
	"os"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	cmdCommon "github.com/volarelabs/flightcast/cmd/common"
	"github.com/volarelabs/flightcast/config"
	"github.com/volarelabs/flightcast/forecast/finalize"
	"github.com/volarelabs/flightcast/ledger"
	"github.com/volarelabs/flightcast/log"
)

const moduleName = "operator"

var (
	// Path to the configuration file.
	configFile string
	batchHex   string
	seedHex    string

	operatorCmd = &cobra.Command{
		Use:   "operator",
		Short: "Operator actions on a batch",
	}

	lockCmd = &cobra.Command{
		Use:   "lock",
		Short: "Lock the randomness reference point for a batch",
		Run: func(cmd *cobra.Command, args []string) {
			runAction(func(ctx context.Context, lc ledger.Client, batchHash ethCommon.Hash, logger *log.Logger) error {
				if err := lc.LockRandomness(ctx, batchHash); err != nil {
					return err
				}
				logger.Info("randomness locked", "batch", batchHash.Hex())
				return nil
			})
		},
	}

	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Reveal the selection seed for a batch",
		Run: func(cmd *cobra.Command, args []string) {
			runAction(func(ctx context.Context, lc ledger.Client, batchHash ethCommon.Hash, logger *log.Logger) error {
				if err := lc.RevealSeed(ctx, batchHash, ethCommon.HexToHash(seedHex)); err != nil {
					return err
				}
				logger.Info("seed revealed", "batch", batchHash.Hex())
				return nil
			})
		},
	}

	finalizeCmd = &cobra.Command{
		Use:   "finalize",
		Short: "Finalize a batch and distribute its bounty",
		Run: func(cmd *cobra.Command, args []string) {
			runAction(runFinalize)
		},
	}
)

func runAction(action func(context.Context, ledger.Client, ethCommon.Hash, *log.Logger) error) {
	// Initialize config.
	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}

	// Initialize common environment.
	if err = cmdCommon.Init(cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	logger := cmdCommon.RootLogger().WithModule(moduleName)

	ledgerCfg := ledgerConfig(cfg)
	if ledgerCfg == nil {
		logger.Error("no ledger config provided")
		os.Exit(1)
	}

	ctx := context.Background()
	lc, err := cmdCommon.NewLedgerClient(ctx, ledgerCfg, logger)
	if err != nil {
		logger.Error("failed to create ledger client", "error", err)
		os.Exit(1)
	}

	if err := action(ctx, lc, ethCommon.HexToHash(batchHex), logger); err != nil {
		logger.Error("operator action failed",
			"batch", batchHex,
			"error", err,
		)
		os.Exit(1)
	}
}

func ledgerConfig(cfg *config.Config) *config.LedgerConfig {
	switch {
	case cfg.Server != nil:
		return cfg.Server.Ledger
	case cfg.Worker != nil:
		return cfg.Worker.Ledger
	default:
		return nil
	}
}

// runFinalize computes the uniform payout split over the joined
// providers and submits the one-shot finalize transition. Providers
// that joined but never committed are left out of the payout set:
// the selected index is only defined over a non-empty commit list.
func runFinalize(ctx context.Context, lc ledger.Client, batchHash ethCommon.Hash, logger *log.Logger) error {
	batch, err := lc.GetBatch(ctx, batchHash)
	if err != nil {
		return err
	}
	providers, err := lc.ListProviders(ctx, batchHash)
	if err != nil {
		return err
	}

	payees := make([]ethCommon.Address, 0, len(providers))
	selected := make(map[ethCommon.Address]uint64, len(providers))
	for _, p := range providers {
		count, err := lc.GetCommitCount(ctx, batchHash, p)
		if err != nil {
			return err
		}
		if count == 0 {
			logger.Info("excluding provider with no commits",
				"batch", batchHash.Hex(),
				"provider", p.Hex(),
			)
			continue
		}
		idx, err := lc.GetSelectedCommitIndex(ctx, batchHash, p)
		if err != nil {
			return err
		}
		payees = append(payees, p)
		selected[p] = idx
	}

	result, err := finalize.Build(finalize.Input{
		BatchID:         batch.ID,
		BatchHash:       batch.Hash,
		Operator:        batch.Operator,
		Funder:          batch.Funder,
		Bounty:          batch.Bounty,
		CreatedAt:       batch.WindowStart,
		Providers:       payees,
		SelectedIndices: selected,
	})
	if err != nil {
		return err
	}

	if err := lc.Finalize(ctx, batchHash,
		result.Providers, result.Payouts, result.SelectedIndices, result.ScoresHash); err != nil {
		return err
	}

	logger.Info("batch finalized",
		"batch", batchHash.Hex(),
		"providers", len(result.Providers),
		"scores_hash", result.ScoresHash.Hex(),
		"record", string(result.RecordJSON),
	)
	return nil
}

// Register registers the operator sub-commands.
func Register(parentCmd *cobra.Command) {
	operatorCmd.PersistentFlags().StringVar(&configFile, "config", "./config/local.yml", "path to the config.yml file")
	operatorCmd.PersistentFlags().StringVar(&batchHex, "batch", "", "batch hash, 0x-prefixed")
	seedCmd.Flags().StringVar(&seedHex, "seed", "", "selection seed, 0x-prefixed 32 bytes")

	operatorCmd.AddCommand(lockCmd)
	operatorCmd.AddCommand(seedCmd)
	operatorCmd.AddCommand(finalizeCmd)
	parentCmd.AddCommand(operatorCmd)
}
