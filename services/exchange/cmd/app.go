package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/kyungseok/msa-exchange-go/common/idgen"
	"github.com/kyungseok/msa-exchange-go/common/logger"
	"github.com/kyungseok/msa-exchange-go/common/retry"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/config"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/pickup"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository/memory"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/service"
)

// app 명령들이 공유하는 구성 요소
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *sql.DB
	storage storage
	service service.ExchangeService
}

type storage struct {
	tx        repository.Transactor
	orders    repository.OrderRepository
	products  repository.ProductRepository
	exchanges repository.ExchangeRepository
	ledger    repository.LedgerRepository
	outbox    repository.OutboxRepository
}

func loadConfig(configFile string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.NewLogger(cfg.ServiceName, cfg.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func newApp(ctx context.Context, configFile string) (*app, error) {
	cfg, log, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	ids, err := idgen.NewGenerator(cfg.MachineID)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}

	a.service = service.NewExchangeService(service.Deps{
		Tx:        a.storage.tx,
		Orders:    a.storage.orders,
		Products:  a.storage.products,
		Exchanges: a.storage.exchanges,
		Ledger:    a.storage.ledger,
		Outbox:    a.storage.outbox,
		Pickup:    a.pickupScheduler(),
		IDs:       ids,
		Logger:    log,
		Options:   a.serviceOptions(),
	})
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	if a.cfg.Storage == config.StorageMemory {
		store := memory.NewStore()
		if a.cfg.FixturesFile != "" {
			f, err := os.Open(a.cfg.FixturesFile)
			if err != nil {
				return fmt.Errorf("failed to open fixtures: %w", err)
			}
			defer f.Close()
			if err := store.LoadFixtures(f); err != nil {
				return err
			}
			a.log.Info("fixtures loaded", zap.String("file", a.cfg.FixturesFile))
		}
		a.storage = storage{
			tx:        store,
			orders:    store.Orders(),
			products:  store.Products(),
			exchanges: store.Exchanges(),
			ledger:    store.Ledger(),
			outbox:    store.Outbox(),
		}
		a.log.Info("using in-memory storage")
		return nil
	}

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	a.storage = storage{
		tx:        repository.NewTxManager(db),
		orders:    repository.NewOrderRepository(db),
		products:  repository.NewProductRepository(db),
		exchanges: repository.NewExchangeRepository(db),
		ledger:    repository.NewLedgerRepository(db),
		outbox:    repository.NewOutboxRepository(db),
	}
	return nil
}

func (a *app) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := repository.OpenPostgres(ctx, a.cfg.Database.DSN, repository.PoolConfig{
		MaxOpenConns:    a.cfg.Database.MaxOpenConns,
		MaxIdleConns:    a.cfg.Database.MaxIdleConns,
		ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.db = db
	a.log.Info("connected to database")
	return db, nil
}

func (a *app) pickupScheduler() pickup.Scheduler {
	if a.cfg.Pickup.Endpoint == "" {
		a.log.Warn("pickup endpoint not configured; pickups are scheduled immediately")
		return pickup.ImmediateScheduler{}
	}
	return pickup.NewHTTPScheduler(a.cfg.Pickup.Endpoint, &http.Client{}, a.log)
}

func (a *app) serviceOptions() service.Options {
	opts := service.DefaultOptions()
	opts.PickupTimeout = a.cfg.Pickup.Timeout
	opts.PickupRetry = retry.Config{
		MaxAttempts:        a.cfg.Pickup.MaxAttempts,
		InitialInterval:    a.cfg.Pickup.InitialInterval,
		MaxInterval:        opts.PickupRetry.MaxInterval,
		BackoffCoefficient: opts.PickupRetry.BackoffCoefficient,
		MaxElapsedTime:     opts.PickupRetry.MaxElapsedTime,
	}
	opts.RequireRejectNotes = a.cfg.Exchange.RequireRejectNotes
	opts.DecrementStock = a.cfg.Exchange.DecrementStock
	return opts
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.log.Sync()
}
