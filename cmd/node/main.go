package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tpsl/params"
	"github.com/uhyunpark/tpsl/pkg/abci"
	"github.com/uhyunpark/tpsl/pkg/api"
	"github.com/uhyunpark/tpsl/pkg/app/core/escrow"
	"github.com/uhyunpark/tpsl/pkg/app/tpsl"
	"github.com/uhyunpark/tpsl/pkg/consensus"
	"github.com/uhyunpark/tpsl/pkg/crypto"
	"github.com/uhyunpark/tpsl/pkg/keeper"
	"github.com/uhyunpark/tpsl/pkg/oracle"
	"github.com/uhyunpark/tpsl/pkg/p2p"
	"github.com/uhyunpark/tpsl/pkg/storage"
	"github.com/uhyunpark/tpsl/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	var logger *zap.Logger
	var err error
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	} else {
		logger, err = util.NewLogger(cfg.Node.Verbose)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if !cfg.Node.Sequencer {
		// a relay executes no blocks, so it has no live escrows to watch
		if cfg.Keeper.Enabled {
			sugar.Fatal("keeper_requires_sequencer")
		}
		if cfg.P2P.ListenAddr == "" {
			sugar.Fatal("relay_requires_p2p")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- State ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "state"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()

	genesis, err := tpsl.LoadGenesis(cfg.Node.GenesisFile)
	if err != nil {
		sugar.Fatalw("genesis_load_failed", "file", cfg.Node.GenesisFile, "err", err)
	}

	// ---- Oracle guardians ----
	var guardianSigner *crypto.BLSSigner
	if cfg.Oracle.PublisherSeed != "" {
		guardianSigner, err = crypto.NewBLSSignerFromSeed([]byte(cfg.Oracle.PublisherSeed))
		if err != nil {
			sugar.Fatalw("publisher_key_invalid", "err", err)
		}
		if len(genesis.Guardians) == 0 {
			// devnet: the local publisher is the only guardian
			genesis.Guardians = []string{guardianSigner.PubkeyHex()}
		}
	}
	guardians, err := genesis.GuardianSet(cfg.Oracle.Threshold)
	if err != nil {
		sugar.Fatalw("guardian_set_invalid", "err", err)
	}

	// ---- App ----
	feedID := common.HexToHash(cfg.Program.FeedID)
	domain := crypto.DefaultDomain()
	app, err := tpsl.NewApp(store, tpsl.Options{
		Logger:    sugar,
		Domain:    domain,
		Escrow:    escrow.Config{FeedID: feedID, MaxPriceAge: cfg.Program.MaxPriceAge},
		Guardians: guardians,
	})
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	if err := app.InitChain(genesis); err != nil {
		sugar.Fatalw("genesis_apply_failed", "err", err)
	}

	// ---- Gossip ----
	// Only the sequencer queues txs; a relay validates and lets gossipsub forward.
	onTx := app.PushTx
	if !cfg.Node.Sequencer {
		onTx = func([]byte) error { return nil }
	}
	var relay api.Relay
	if cfg.P2P.ListenAddr != "" {
		gossip, err := p2p.NewGossip(ctx, p2p.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Bootstrap:  cfg.P2P.Bootstrap,
			Logger:     sugar,
			Validate:   app.CheckTx,
		}, onTx)
		if err != nil {
			sugar.Fatalw("libp2p_init_failed", "err", err)
		}
		defer gossip.Close()
		relay = gossip.Broadcast
		sugar.Infow("gossip_enabled", "addrs", gossip.Addrs())
	}

	// ---- Block production ----
	producer := consensus.NewProducer("sequencer", &abci.Bridge{App: app}, store, util.RealClock{})
	producer.MinBlockTime = cfg.Node.MinBlockTime
	producer.Logger = sugar
	producer.VerboseLogging = cfg.Node.Verbose
	sugar.Infow("node_starting",
		"sequencer", cfg.Node.Sequencer,
		"height", producer.Head().Height,
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds(),
		"feed_id", feedID.Hex(),
		"max_price_age", cfg.Program.MaxPriceAge,
		"guardians", len(genesis.Guardians),
		"threshold", guardians.Threshold())

	// ---- API Server ----
	apiServer := api.NewServer(app, api.Options{Logger: sugar, Relay: relay, RelayOnly: !cfg.Node.Sequencer})
	go func() {
		if err := apiServer.Run(ctx, cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// ---- Price stream: devnet publisher and keeper ----
	sink := &txSink{ctx: ctx, app: app, queue: cfg.Node.Sequencer, relay: relay, log: sugar}
	var onPrice []func(int64)
	if guardianSigner != nil {
		pub := keeper.NewPricePublisher(oracle.NewPublisher(guardianSigner, 0), feedID, cfg.Keeper.PriceExpo, sink, util.RealClock{}, sugar)
		onPrice = append(onPrice, pub.OnPrice)
	}
	if cfg.Keeper.Enabled {
		signer, err := crypto.FromPrivateKeyHex(cfg.Keeper.KeyHex)
		if err != nil {
			sugar.Fatalw("keeper_key_invalid", "err", err)
		}
		k := keeper.New(keeper.Config{
			Signer:        signer,
			Domain:        domain,
			SubmitsPerSec: cfg.Keeper.SubmitsPerSec,
			RetryAfter:    cfg.Keeper.RetryAfter,
			Logger:        sugar,
		}, app, sink)
		onPrice = append(onPrice, func(p int64) { k.OnPrice(p) })
	}
	if len(onPrice) > 0 {
		prices := make(chan int64, 64)
		go keeper.NewTradeStream(cfg.Keeper.StreamURL, cfg.Keeper.PriceExpo, sugar).Run(ctx, prices)
		go keeper.Follow(ctx, prices, onPrice...)
	}

	// ---- Run ----
	if !cfg.Node.Sequencer {
		sugar.Info("relay_mode")
		<-ctx.Done()
		return
	}
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := app.Status()
				sugar.Infow("chain_progress", "height", st.Height, "pending", app.PendingTxs(), "app_hash", st.AppHash.String())
			}
		}
	}()

	if err := producer.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Fatalw("producer_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

// txSink takes locally generated txs. A sequencer queues them; every node
// gossips them.
type txSink struct {
	ctx   context.Context
	app   *tpsl.App
	queue bool
	relay api.Relay
	log   *zap.SugaredLogger
}

func (s *txSink) PushTx(raw []byte) error {
	if !s.queue {
		if err := s.app.CheckTx(raw); err != nil {
			return err
		}
		return s.relay(s.ctx, raw)
	}
	if err := s.app.PushTx(raw); err != nil {
		return err
	}
	if s.relay != nil {
		if err := s.relay(s.ctx, raw); err != nil {
			s.log.Warnw("tx_relay_failed", "err", err)
		}
	}
	return nil
}
