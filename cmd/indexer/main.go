// Command indexer is the process entrypoint, the Go translation of
// cmd/server/main.go's wiring (config/flags -> stores -> fetchers ->
// runners -> HTTP) adapted to the single-chain-per-process shape
// SPEC_FULL.md settles on: one configured blockchain, one store, one
// chain-sync loop.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eutxo/indexer/internal/blockprovider"
	"github.com/eutxo/indexer/internal/chainadapter"
	"github.com/eutxo/indexer/internal/chainclient"
	"github.com/eutxo/indexer/internal/config"
	"github.com/eutxo/indexer/internal/indexer"
	"github.com/eutxo/indexer/internal/monitor"
	"github.com/eutxo/indexer/internal/schema"
	"github.com/eutxo/indexer/internal/store"
	"github.com/eutxo/indexer/internal/syncer"
	"github.com/eutxo/indexer/internal/writeengine"
)

func main() {
	configPath := flag.String("config", "config/config.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	sch, err := schema.LoadOrdered(cfg.Indexer.SchemaPath)
	if err != nil {
		log.Fatalf("load schema %s: %v", cfg.Indexer.SchemaPath, err)
	}

	if err := os.MkdirAll(cfg.Indexer.DbPath, 0755); err != nil {
		log.Fatalf("create db path %s: %v", cfg.Indexer.DbPath, err)
	}
	st, err := store.Open(cfg.Indexer.DbPath, store.SpecsFromSchema(sch))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	engine := writeengine.New(st, sch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[indexer] received %s, shutting down...", sig)
		cancel()
	}()

	mon := monitor.New(cfg.Blockchain)

	var mux *http.ServeMux
	if cfg.HTTP.Enable {
		mux = http.NewServeMux()
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("ok"))
		})
		server := &http.Server{Addr: cfg.HTTP.BindAddress, Handler: mux}
		go func() {
			log.Printf("[http] listening on %s", cfg.HTTP.BindAddress)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[http] error: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			server.Close()
		}()
	}

	cs, err := buildSyncer(cfg, sch, st, engine, mon)
	if err != nil {
		log.Fatalf("build syncer: %v", err)
	}

	for {
		err := cs.Sync(ctx)
		if err != nil {
			if err != context.Canceled {
				log.Printf("[indexer] sync stopped: %v", err)
			}
			break
		}
		// Sync returns nil once a pull provider has caught up with the
		// tip: poll again after a second.
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			continue
		}
		break
	}
	log.Println("[indexer] shutdown complete")
}

func buildSyncer(cfg *config.Config, sch *schema.Schema, st *store.Store, engine *writeengine.Engine, mon *monitor.Monitor) (*syncer.ChainSyncer, error) {
	minBatch := cfg.Indexer.MinBatchWeight
	if minBatch <= 0 {
		minBatch = 1000
	}

	switch cfg.Blockchain {
	case "bitcoin":
		client := chainclient.NewBitcoinClient(cfg.Bitcoin.ApiHost, cfg.Bitcoin.ApiUsername, cfg.Bitcoin.ApiPassword)
		adapter := chainadapter.NewBitcoinAdapter(sch, client)
		resolver := indexer.NewForkResolver(st, client, adapter)
		idx := indexer.New(st, engine, resolver)
		provider := blockprovider.NewPullProvider(client, adapter)
		provider.FetchConcurrency = cfg.Indexer.FetchingParallelism.Numeric()
		provider.DecodeConcurrency = cfg.Indexer.ProcessingParallelism.Numeric()
		return &syncer.ChainSyncer{
			Provider:     provider,
			Engine:       idx,
			Monitor:      mon,
			MinBatchSize: minBatch,
			TipHeight:    client.TipHeight,
		}, nil

	case "ergo":
		client := chainclient.NewErgoClient(cfg.Ergo.ApiHost, cfg.Ergo.ApiKey)
		adapter := chainadapter.NewErgoAdapter(sch)
		resolver := indexer.NewForkResolver(st, client, adapter)
		idx := indexer.New(st, engine, resolver)
		provider := blockprovider.NewPullProvider(client, adapter)
		provider.FetchConcurrency = cfg.Indexer.FetchingParallelism.Numeric()
		provider.DecodeConcurrency = cfg.Indexer.ProcessingParallelism.Numeric()
		return &syncer.ChainSyncer{
			Provider:     provider,
			Engine:       idx,
			Monitor:      mon,
			MinBatchSize: minBatch,
			TipHeight:    client.TipHeight,
		}, nil

	case "cardano":
		client := chainclient.NewCardanoClient(cfg.Cardano.SocketPath, cfg.Cardano.NetworkMagic)
		adapter := chainadapter.NewCardanoAdapter(sch)
		// No ForkResolver: Cardano's own node-to-client protocol pushes an
		// explicit RollBackward message instead of this process having to
		// detect a fork itself.
		idx := indexer.New(st, engine, nil)
		provider := blockprovider.NewStreamProvider(client, adapter, idx.IntersectPoints)
		return &syncer.ChainSyncer{
			Provider:     provider,
			Engine:       idx,
			Monitor:      mon,
			MinBatchSize: minBatch,
		}, nil

	default:
		return nil, &unknownChainError{cfg.Blockchain}
	}
}

type unknownChainError struct{ chain string }

func (e *unknownChainError) Error() string { return "unknown blockchain: " + e.chain }
