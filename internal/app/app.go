package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"epoch-vault/internal/alerts"
	"epoch-vault/internal/chain"
	"epoch-vault/internal/chain/stream"
	"epoch-vault/internal/config"
	"epoch-vault/internal/derive"
	"epoch-vault/internal/journal"
	"epoch-vault/internal/metrics"
	"epoch-vault/internal/server"
	"epoch-vault/internal/state/sqlite"
	"epoch-vault/internal/token"
	"epoch-vault/internal/vault"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App wires the vault controller to its stores, protocol clients and the
// HTTP surface. In paper mode every remote protocol is simulated in
// process against a shared token ledger.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	params  vault.Params
	store   *sqlite.Store
	chain   *chain.Client
	stream  *stream.Client
	ctrl    *vault.Controller
	journal *journal.Writer
	prom    *metrics.Prometheus
	server  *http.Server
}

const shutdownGrace = 5 * time.Second

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	params, err := vaultParams(cfg.Vault)
	if err != nil {
		store.Close()
		return nil, err
	}

	var (
		chainClient  *chain.Client
		streamClient *stream.Client
		tokens       token.Service
		protocols    vault.Protocols
		faucet       server.Faucet
	)
	if cfg.RPC.Paper {
		ledger := token.NewMemory()
		tokens = ledger
		faucet = ledger
		protocols = vault.NewPaperProtocols(ledger, cfg.Vault.AssetMint)
		log.Info("paper mode enabled, protocol calls are simulated in process")
	} else {
		signer, err := chain.NewSigner(cfg.RPC.SignerKey)
		if err != nil {
			store.Close()
			return nil, err
		}
		chainClient, err = chain.NewClient(cfg.RPC.BaseURL, cfg.RPC.Timeout, signer, log)
		if err != nil {
			store.Close()
			return nil, err
		}
		tokenProgram, err := solana.PublicKeyFromBase58(cfg.Vault.TokenProgram)
		if err != nil {
			store.Close()
			return nil, err
		}
		tokens = token.NewRPC(chainClient, tokenProgram)
		protocols = vault.NewRPCProtocols(chainClient, params)
		if cfg.Stream.URL != "" {
			streamClient = stream.New(cfg.Stream.URL, cfg.Stream.ReconnectDelay, cfg.Stream.PingInterval, log)
		}
	}

	prom := metrics.NewPrometheus()
	ctrl := vault.NewController(params, tokens, protocols, store, clockwork.NewRealClock(), log, prom.Metrics)
	ctrl.SetAlerter(alerts.NewNotifier(alerts.NewTelegram(cfg.Telegram, log), log))

	writer, err := journal.New(cfg.Journal, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	if writer != nil {
		ctrl.SetJournal(writer)
	}

	srv := server.New(ctrl, log, cfg.Server.AdminToken, prom.Handler())
	if faucet != nil {
		srv.SetFaucet(faucet, cfg.Vault.AssetMint)
	}
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}
	return &App{
		cfg:     cfg,
		log:     log,
		params:  params,
		store:   store,
		chain:   chainClient,
		stream:  streamClient,
		ctrl:    ctrl,
		journal: writer,
		prom:    prom,
		server:  httpServer,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.journal.Close()

	if a.chain != nil {
		if err := a.chain.InitNonceStore(ctx, a.store); err != nil {
			a.log.Warn("nonce store init failed", zap.Error(err))
		}
	}
	if err := a.ctrl.Restore(ctx); err != nil {
		return err
	}
	a.log.Info("restored vaults", zap.Strings("vaults", a.ctrl.List()))
	a.journal.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server listening", zap.String("addr", a.cfg.Server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	if a.stream != nil {
		g.Go(func() error {
			return a.watchAccounts(ctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// watchAccounts subscribes to balance pushes for every restored vault's
// collateral account and logs them. Operations still read balances over
// RPC; the stream exists so drift shows up before the next operation.
func (a *App) watchAccounts(ctx context.Context) error {
	if err := a.stream.Connect(ctx); err != nil {
		return err
	}
	for _, name := range a.ctrl.List() {
		acc, _, err := derive.VaultAccounts(
			a.params.Programs, a.params.Market, a.params.Reserve, a.params.Group, name)
		if err != nil {
			a.log.Warn("derive failed for stream subscription", zap.String("vault", name), zap.Error(err))
			continue
		}
		if err := a.stream.SubscribeAccount(ctx, acc.VaultUsdc.String()); err != nil {
			a.log.Warn("account subscription failed", zap.String("vault", name), zap.Error(err))
		}
	}
	return a.stream.Run(ctx, func(raw json.RawMessage) {
		env, err := stream.ParseEnvelope(raw)
		if err != nil {
			a.log.Warn("bad stream message", zap.Error(err))
			return
		}
		if env.Channel != "account" {
			return
		}
		upd, err := stream.ParseAccountUpdate(env.Data)
		if err != nil {
			a.log.Warn("bad account update", zap.Error(err))
			return
		}
		a.log.Debug("account balance push",
			zap.String("account", upd.Account),
			zap.Uint64("balance", upd.Balance),
			zap.Uint64("slot", upd.Slot),
		)
	})
}

func vaultParams(cfg config.VaultConfig) (vault.Params, error) {
	var p vault.Params
	var err error
	if p.Programs.Vault, err = solana.PublicKeyFromBase58(cfg.VaultProgram); err != nil {
		return p, err
	}
	if p.Programs.Lending, err = solana.PublicKeyFromBase58(cfg.LendingProgram); err != nil {
		return p, err
	}
	if p.Programs.Derivatives, err = solana.PublicKeyFromBase58(cfg.DerivativesProgram); err != nil {
		return p, err
	}
	if p.Market, err = solana.PublicKeyFromBase58(cfg.Market); err != nil {
		return p, err
	}
	if p.Reserve, err = solana.PublicKeyFromBase58(cfg.Reserve); err != nil {
		return p, err
	}
	if p.Group, err = solana.PublicKeyFromBase58(cfg.Group); err != nil {
		return p, err
	}
	p.AssetMint = cfg.AssetMint
	return p, nil
}
