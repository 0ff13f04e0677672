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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/config"
	"github.com/gastroline/backoffice/internal/eventlog"
	"github.com/gastroline/backoffice/internal/fiscal"
	"github.com/gastroline/backoffice/internal/idempotency"
	"github.com/gastroline/backoffice/internal/inventory"
	"github.com/gastroline/backoffice/internal/registry"
	"github.com/gastroline/backoffice/internal/stocktake"
	"github.com/gastroline/backoffice/internal/streams"
	"github.com/gastroline/backoffice/internal/transfer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to yaml config")
	envFile := flag.String("env-file", "", "optional .env file")
	flag.Parse()

	log.Println("Starting back-office actor host...")

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	config.ApplyEnv(cfg, *envFile)

	// 1. Persistence backends

	stateStore, closeState, err := buildStateStore(cfg)
	if err != nil {
		log.Fatalf("state store: %v", err)
	}
	defer closeState()

	journal, closeJournal, err := buildJournal(cfg)
	if err != nil {
		log.Fatalf("journal store: %v", err)
	}
	defer closeJournal()

	// 2. Stream bus

	bus, closeBus, err := buildBus(cfg)
	if err != nil {
		log.Fatalf("stream bus: %v", err)
	}
	defer closeBus()

	// 3. Actor host and factories

	registryProm := prometheus.NewRegistry()
	host := actor.NewHost(actor.NewMetrics(registryProm))

	host.Register(actor.KindInventory, inventory.NewFactory(journal, host, bus, inventory.FactoryConfig{
		MovementLogLimit: cfg.Inventory.MovementLogLimit,
	}))
	host.Register(actor.KindInventoryLedger, inventory.NewLedgerFactory(stateStore))
	host.Register(actor.KindTransfer, transfer.NewFactory(journal, host, bus))
	host.Register(actor.KindStockTake, stocktake.NewFactory(journal, host, bus))
	host.Register(actor.KindTse, fiscal.NewTseFactory(stateStore, bus))
	host.Register(actor.KindFiscalTransaction, fiscal.NewTransactionFactory(stateStore, host))
	host.Register(actor.KindFiscalDevice, fiscal.NewDeviceFactory(stateStore))
	host.Register(actor.KindOrderFiscal, fiscal.NewOrderBridgeFactory(stateStore, host, bus))
	host.Register(actor.KindIdempotency, idempotency.NewFactory(stateStore))
	host.Register(actor.KindFiscalDeviceRegistry, registry.NewDeviceRegistryFactory(stateStore))
	host.Register(actor.KindTransactionIndex, registry.NewTransactionIndexFactory(stateStore))
	host.Register(actor.KindLocationRegistry, registry.NewLocationRegistryFactory(journal))

	// 4. Background services

	for _, org := range cfg.Server.Orgs {
		idempotency.RegisterCleanupTimer(host, org)
	}

	scanCtx, stopScans := context.WithCancel(context.Background())
	defer stopScans()

	analyzer := inventory.NewAnalyzer(host, bus, inventory.AnalyzerConfig{
		CriticalDays:    cfg.Analyzers.Expiry.CriticalDays,
		UrgentDays:      cfg.Analyzers.Expiry.UrgentDays,
		WarningDays:     cfg.Analyzers.Expiry.WarningDays,
		Alerting:        cfg.Analyzers.Expiry.Alerting,
		ClassAThreshold: cfg.Analyzers.ABC.ClassAThreshold,
		ClassBThreshold: cfg.Analyzers.ABC.ClassBThreshold,
		AnalysisDays:    cfg.Analyzers.Reorder.AnalysisDays,
		DefaultLeadTime: cfg.Analyzers.Reorder.DefaultLeadTime,
		OrderingCost:    cfg.Analyzers.Reorder.OrderingCost,
		HoldingCostRate: cfg.Analyzers.Reorder.HoldingCostRate,
	})
	go analyzer.RunExpiryScans(scanCtx, time.Hour)

	if cfg.Fiscal.CloudEnabled {
		client, err := fiscal.NewCloudClient(fiscal.CloudConfig{
			APIKey:      cfg.Fiscal.APIKey,
			APISecret:   cfg.Fiscal.APISecret,
			Region:      cfg.Fiscal.Region,
			Environment: cfg.Fiscal.Environment,
		})
		if err != nil {
			log.Fatalf("cloud tss client: %v", err)
		}
		coordinator := fiscal.NewCoordinator(bus, client)
		for _, org := range cfg.Server.Orgs {
			coordinator.Start(org)
		}
	}

	// 5. Metrics endpoint

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registryProm, promhttp.HandlerOpts{}))
		addr := ":" + cfg.Server.MetricsPort
		log.Printf("metrics listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()

	// 6. Run until SIGINT/SIGTERM, then drain

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("shutting down, draining actors...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := host.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("bye")
}

func buildStateStore(cfg *config.Config) (actor.StateStore, func(), error) {
	switch cfg.Stores.State.Backend {
	case "redis":
		s, err := actor.NewRedisStateStore(cfg.Stores.State.Addr, cfg.Stores.State.Password, cfg.Stores.State.DB)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return actor.NewMemoryStateStore(), func() {}, nil
	}
}

func buildJournal(cfg *config.Config) (eventlog.JournalStore, func(), error) {
	switch cfg.Stores.Journal.Backend {
	case "postgres":
		s, err := eventlog.NewPostgresJournalStore(cfg.Stores.Journal.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return eventlog.NewMemoryJournalStore(), func() {}, nil
	}
}

func buildBus(cfg *config.Config) (streams.Bus, func(), error) {
	switch cfg.Streams.Backend {
	case "kafka":
		b := streams.NewKafkaBus(cfg.Streams.Brokers, cfg.Streams.TopicPrefix)
		if err := b.EnsureTopics(
			streams.NamespaceInventory,
			streams.NamespaceAlerts,
			streams.NamespaceFiscalTse,
			streams.NamespaceFiskaly,
			streams.NamespaceOrders,
		); err != nil {
			log.Printf("kafka topic setup: %v", err)
		}
		return b, func() { b.Close() }, nil
	case "pubsub":
		b, err := streams.NewPubSubBus(cfg.Streams.ProjectID, cfg.Streams.TopicID)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { b.Close() }, nil
	default:
		return streams.NewMemoryBus(), func() {}, nil
	}
}
