// Command facilitator runs the x402 facilitator HTTP server: it verifies
// and settles EIP-3009 and SPL TransferChecked payments, serves the
// discovery/supported endpoints, and (for demo purposes) fronts any
// resource registered in its own price table with the challenge/verify/
// settle middleware.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/x402kit/facilitator/internal/circuitbreaker"
	"github.com/x402kit/facilitator/internal/config"
	"github.com/x402kit/facilitator/internal/dbpool"
	"github.com/x402kit/facilitator/internal/httpserver"
	"github.com/x402kit/facilitator/internal/ledger"
	"github.com/x402kit/facilitator/internal/lifecycle"
	"github.com/x402kit/facilitator/internal/logger"
	"github.com/x402kit/facilitator/internal/metrics"
	"github.com/x402kit/facilitator/internal/monitoring"
	"github.com/x402kit/facilitator/internal/solana"
	"github.com/x402kit/facilitator/pkg/facilitator"
	"github.com/x402kit/facilitator/pkg/x402"
	"github.com/x402kit/facilitator/pkg/x402/evm"
	"github.com/x402kit/facilitator/pkg/x402/svm"
)

func main() {
	configPath := flag.String("config", "configs/local.yaml", "path to facilitator config yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "x402-facilitator",
		Environment: cfg.Logging.Environment,
	})
	log.Logger = appLogger

	resources := lifecycle.NewManager()
	defer resources.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, chain := range cfg.EVM.Chains {
		evm.RegisterChain(evm.ChainConfig{
			Network:       x402.Network(chain.Network),
			ChainID:       big.NewInt(chain.ChainID),
			RPCURL:        chain.RPCURL,
			Confirmations: chain.Confirmations,
		})
	}
	for _, cluster := range cfg.SVM.Clusters {
		svm.RegisterCluster(svm.ClusterConfig{
			Network:       x402.Network(cluster.Network),
			RPCURL:        cluster.RPCURL,
			WSURL:         cluster.WSURL,
			Commitment:    rpc.CommitmentType(cluster.Commitment),
			Confirmations: cluster.Confirmations,
		})
	}

	facCfg := facilitator.Config{
		Kinds: supportedKinds(cfg),
	}

	var evmSigner *evm.Signer
	if len(cfg.EVM.Chains) > 0 {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.EVM.SettlementPrivKey, "0x"))
		if err != nil {
			appLogger.Fatal().Err(err).Msg("facilitator.invalid_evm_settlement_key")
		}
		evmSigner = evm.NewSigner(privateKey)
		facCfg.EVMSigner = evmSigner
		for _, chain := range cfg.EVM.Chains {
			facCfg.EVMNetworks = append(facCfg.EVMNetworks, x402.Network(chain.Network))
		}
	}

	var svmFeePayer solanago.PrivateKey
	if len(cfg.SVM.Clusters) > 0 {
		feePayer, err := solana.ParsePrivateKey(cfg.SVM.FeePayerKey)
		if err != nil {
			appLogger.Fatal().Err(err).Msg("facilitator.invalid_svm_fee_payer_key")
		}
		svmFeePayer = feePayer
		facCfg.SVMFeePayer = feePayer
		for _, cluster := range cfg.SVM.Clusters {
			facCfg.SVMNetworks = append(facCfg.SVMNetworks, x402.Network(cluster.Network))
		}
	}

	fac, err := facilitator.Build(ctx, facCfg)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("facilitator.build_failed")
	}

	pool, err := dbpool.NewSharedPool(cfg.Ledger.PostgresURL, cfg.Ledger.PostgresPool)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("facilitator.ledger_db_open_failed")
	}
	resources.Register("ledger-db", pool)

	txLedger, err := ledger.NewPostgresLedgerWithDB(pool.DB())
	if err != nil {
		appLogger.Fatal().Err(err).Msg("facilitator.ledger_init_failed")
	}

	sweeper := ledger.NewSweeper(txLedger, txLedger, func(tx ledger.Transaction) {
		replayFailedSettlement(ctx, appLogger, fac, txLedger, tx)
	})
	sweeper.Start()
	resources.RegisterFunc("sweeper", func() error {
		sweeper.Stop()
		return nil
	})

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	evmBalanceClients := make(map[string]*ethclient.Client, len(cfg.EVM.Chains))
	for _, chain := range cfg.EVM.Chains {
		client, err := ethclient.DialContext(ctx, chain.RPCURL)
		if err != nil {
			appLogger.Fatal().Err(err).Str("network", chain.Network).Msg("facilitator.monitoring_dial_failed")
		}
		evmBalanceClients[chain.Network] = client
		resources.RegisterFunc("evm-monitor-client:"+chain.Network, func() error {
			client.Close()
			return nil
		})
	}

	svmBalanceClients := make([]*rpc.Client, 0, len(cfg.SVM.Clusters))
	for _, cluster := range cfg.SVM.Clusters {
		svmBalanceClients = append(svmBalanceClients, rpc.New(cluster.RPCURL))
	}

	var evmWallet common.Address
	if evmSigner != nil {
		evmWallet = evmSigner.Address()
	}
	var svmWallet solanago.PublicKey
	if len(svmFeePayer) > 0 {
		svmWallet = svmFeePayer.PublicKey()
	}

	balanceMonitor := monitoring.NewBalanceMonitor(cfg, breakers, evmWallet, evmBalanceClients, svmWallet, svmBalanceClients)
	balanceMonitor.Start(ctx)
	resources.RegisterFunc("balance-monitor", func() error {
		balanceMonitor.Stop()
		return nil
	})

	var svmFeePayerPubkey string
	if len(svmFeePayer) > 0 {
		svmFeePayerPubkey = svmWallet.String()
	}

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	priceTable := httpserver.NewPriceTable(svmFeePayerPubkey)

	srv := httpserver.New(cfg, fac, txLedger, txLedger, priceTable, metricsCollector, appLogger)

	go func() {
		appLogger.Info().Str("address", cfg.Server.Address).Msg("facilitator.listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal().Err(err).Msg("facilitator.serve_failed")
		}
	}()

	<-ctx.Done()
	appLogger.Info().Msg("facilitator.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("facilitator.shutdown_error")
	}
}

// replayFailedSettlement resubmits a settlement the ledger sweeper found
// stuck in StatusFailed with attempts remaining. It decodes the original
// payload/requirements stored at Begin time, so a flaky RPC provider or a
// transient revert doesn't require the original caller to resend anything.
func replayFailedSettlement(ctx context.Context, appLogger zerolog.Logger, fac *facilitator.Facilitator, txLedger *ledger.PostgresLedger, tx ledger.Transaction) {
	logEvent := appLogger.Warn().Str("request_hash", tx.RequestHash).Str("network", string(tx.Network))

	if tx.Payload == "" {
		logEvent.Msg("facilitator.replay_skipped_no_payload")
		return
	}
	payload, requirements, err := x402.DecodeReplayRecord(tx.Payload)
	if err != nil {
		appLogger.Error().Err(err).Str("request_hash", tx.RequestHash).Msg("facilitator.replay_decode_failed")
		return
	}
	if err := txLedger.MarkProcessing(ctx, tx.RequestHash); err != nil {
		appLogger.Error().Err(err).Str("request_hash", tx.RequestHash).Msg("facilitator.replay_mark_processing_failed")
		return
	}

	result, err := fac.Settle(ctx, payload, requirements)
	if err != nil {
		_ = txLedger.Complete(ctx, tx.RequestHash, ledger.StatusFailed, ledger.SettlementOutcome{FailReason: err.Error()})
		appLogger.Warn().Err(err).Str("request_hash", tx.RequestHash).Msg("facilitator.replay_failed")
		return
	}
	_ = txLedger.Complete(ctx, tx.RequestHash, ledger.StatusSettled, ledger.SettlementOutcome{
		TxHash:      result.TxHash,
		BlockNumber: result.BlockNumber,
		GasUsed:     result.GasUsed,
		GasPrice:    result.GasPrice,
	})
	appLogger.Info().Str("request_hash", tx.RequestHash).Str("tx_hash", result.TxHash).Msg("facilitator.replay_settled")
}

func supportedKinds(cfg *config.Config) []x402.SupportedKind {
	kinds := make([]x402.SupportedKind, 0, len(cfg.EVM.Chains)+len(cfg.SVM.Clusters))
	for _, chain := range cfg.EVM.Chains {
		kinds = append(kinds, x402.SupportedKind{Scheme: x402.SchemeExact, Network: x402.Network(chain.Network)})
	}
	for _, cluster := range cfg.SVM.Clusters {
		kinds = append(kinds, x402.SupportedKind{Scheme: x402.SchemeExact, Network: x402.Network(cluster.Network)})
	}
	return kinds
}
