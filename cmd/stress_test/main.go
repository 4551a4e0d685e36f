package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/warehouse-orders/internal/adapter/storage"
	"github.com/rl1809/warehouse-orders/internal/core/domain"
	"github.com/rl1809/warehouse-orders/internal/core/service"
	"github.com/rl1809/warehouse-orders/internal/port"
)

func main() {
	app := &cli.App{
		Name:  "stress_test",
		Usage: "place concurrent orders against one product and check nothing is oversold",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Value: "memory", Usage: "store to load: memory or mysql"},
			&cli.StringFlag{Name: "dsn", Value: "root:root@tcp(localhost:3306)/warehouse?parseTime=true", Usage: "MySQL DSN", EnvVars: []string{"MYSQL_DSN"}},
			&cli.IntFlag{Name: "stock", Value: 20, Usage: "initial stock of the contested product"},
			&cli.IntFlag{Name: "quantity", Value: 3, Usage: "units per order"},
			&cli.IntFlag{Name: "requests", Value: 50, Usage: "concurrent placement requests"},
		},
		Action: func(c *cli.Context) error {
			log := logrus.New()
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			return run(log, c.String("store"), c.String("dsn"), c.Int("stock"), c.Int("quantity"), c.Int("requests"))
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Error("stress test failed")
		os.Exit(1)
	}
}

func run(log logrus.FieldLogger, storeKind, dsn string, stock, quantity, requests int) error {
	ctx := context.Background()

	store, productID, cleanup, err := prepare(ctx, storeKind, dsn, stock)
	if err != nil {
		return err
	}
	defer cleanup()

	svc := service.NewOrderService(store,
		service.NewInventoryLedger(store),
		service.NewPricingResolver(),
		service.NewStatusWorkflow(store),
		service.WithTimeout(10*time.Second),
	)

	log.WithFields(logrus.Fields{
		"store":    storeKind,
		"stock":    stock,
		"quantity": quantity,
		"requests": requests,
	}).Info("starting concurrent placements")

	var success, rejected atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()

	for i := 0; i < requests; i++ {
		g.Go(func() error {
			_, err := svc.PlaceOrder(gctx, domain.PlaceOrderRequest{
				CustomerName:    fmt.Sprintf("load-%d", i),
				CustomerEmail:   fmt.Sprintf("load-%d@example.com", i),
				ShippingAddress: "Dock 4",
				Items:           []domain.OrderLine{{ProductID: productID, Quantity: quantity}},
			})
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	record, err := svc.Inventory(ctx, productID)
	if err != nil {
		return err
	}

	wantSuccess := stock / quantity
	if wantSuccess > requests {
		wantSuccess = requests
	}
	wantStock := stock - wantSuccess*quantity

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:            %s\n", storeKind)
	fmt.Printf("Initial Stock:    %d\n", stock)
	fmt.Printf("Units per Order:  %d\n", quantity)
	fmt.Printf("Total Requests:   %d\n", requests)
	fmt.Printf("Successful:       %d\n", success.Load())
	fmt.Printf("Rejected:         %d\n", rejected.Load())
	fmt.Printf("Final Stock:      %d\n", record.Quantity)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if int(success.Load()) != wantSuccess || record.Quantity != wantStock {
		return fmt.Errorf("expected %d orders and stock %d, got %d and %d",
			wantSuccess, wantStock, success.Load(), record.Quantity)
	}
	fmt.Println("PASS: no oversell")
	return nil
}

func prepare(ctx context.Context, kind, dsn string, stock int) (port.Store, int64, func(), error) {
	now := time.Now().UTC()

	switch kind {
	case "memory":
		store := storage.NewMemoryStore()
		store.PutProduct(domain.Product{ID: 1, Name: "Contested", SKU: "STRESS-1", Price: domain.MustMoney("9.99")},
			&domain.InventoryRecord{Quantity: stock, CreatedAt: now, UpdatedAt: now})
		return store, 1, func() {}, nil

	case "mysql":
		db, err := sqlx.Open("mysql", dsn)
		if err != nil {
			return nil, 0, nil, err
		}
		db.SetMaxOpenConns(50)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, 0, nil, err
		}
		if err := storage.Migrate(db.DB, storage.MigrateUp); err != nil {
			db.Close()
			return nil, 0, nil, err
		}

		res, err := db.ExecContext(ctx, `INSERT INTO products (name, sku, price) VALUES (?, ?, ?)`,
			"Contested", "STRESS-"+uuid.NewString()[:8], "9.99")
		if err != nil {
			db.Close()
			return nil, 0, nil, err
		}
		productID, err := res.LastInsertId()
		if err != nil {
			db.Close()
			return nil, 0, nil, err
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO inventory (product_id, quantity, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			productID, stock, now, now); err != nil {
			db.Close()
			return nil, 0, nil, err
		}
		return storage.NewMySQLStore(db), productID, func() { db.Close() }, nil

	default:
		return nil, 0, nil, fmt.Errorf("unknown store %q", kind)
	}
}
