package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/warehouse-orders/internal/adapter/handler"
	"github.com/rl1809/warehouse-orders/internal/adapter/messaging"
	"github.com/rl1809/warehouse-orders/internal/adapter/storage"
	"github.com/rl1809/warehouse-orders/internal/config"
	"github.com/rl1809/warehouse-orders/internal/core/domain"
	"github.com/rl1809/warehouse-orders/internal/core/service"
	"github.com/rl1809/warehouse-orders/internal/observability"
	"github.com/rl1809/warehouse-orders/internal/port"
)

const shutdownTimeout = 5 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP and gRPC servers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Value: "mysql", Usage: "durable store: mysql or memory"},
			&cli.IntFlag{Name: "seed-stock", Value: 100, Usage: "stock of the demo product in memory mode"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(c.Context, cfg, c.String("store"), c.Int("seed-stock"))
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, storeKind string, seedStock int) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, err := observability.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.WithError(err).Warn("failed to flush traces")
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, storeKind, seedStock, log)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []service.Option{
		service.WithLogger(log),
		service.WithTimeout(cfg.OperationTimeout),
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer rdb.Close()
		opts = append(opts, service.WithIdempotencyStore(storage.NewRedisIdempotencyStore(rdb, cfg.IdempotencyTTL)))
		log.WithField("addr", cfg.RedisAddr).Info("idempotency keys enabled")
	}

	var publisher port.EventPublisher = messaging.NewLogPublisher(log)
	if len(cfg.KafkaBrokers) > 0 {
		publisher = messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		log.WithField("topic", cfg.KafkaTopic).Info("publishing events to kafka")
	}
	defer publisher.Close()
	opts = append(opts, service.WithEventPublisher(publisher))

	orderService := service.NewOrderService(store,
		service.NewInventoryLedger(store, opts...),
		service.NewPricingResolver(),
		service.NewStatusWorkflow(store, opts...),
		opts...,
	)

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.LoggingInterceptor(log)))
	handler.RegisterOrderServiceServer(grpcServer, handler.NewGRPCHandler(orderService))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(orderService, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return errors.Wrap(err, "listen grpc")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("gRPC server listening on %s", cfg.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, kind string, seedStock int, log logrus.FieldLogger) (port.Store, func(), error) {
	switch kind {
	case "memory":
		store := storage.NewMemoryStore()
		store.PutProduct(
			domain.Product{ID: 1, Name: "Demo widget", SKU: "DEMO-1", Price: domain.MustMoney("10.00")},
			&domain.InventoryRecord{Quantity: seedStock, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()},
		)
		log.WithField("stock", seedStock).Info("using in-memory store with demo product 1")
		return store, func() {}, nil

	case "mysql":
		db, err := openMySQL(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to mysql")
		return storage.NewMySQLStore(db), func() { db.Close() }, nil

	default:
		return nil, nil, errors.Errorf("unknown store %q", kind)
	}
}

func openMySQL(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	db.SetMaxOpenConns(cfg.MySQLMaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQLMaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQLConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping mysql")
	}
	return db, nil
}
