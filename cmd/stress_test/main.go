package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/logger"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
)

type store interface {
	port.ItemRepository
	port.PersonRepository
	port.LedgerRepository
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("LEDGER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	var st store = storage.NewMemoryAdapter()
	if cfg.Storage.Driver == config.StorageMySQL {
		dsn, err := storage.NormalizeDSN(cfg.Storage.MySQLDSN)
		if err != nil {
			log.Fatal("invalid mysql dsn", "error", err)
		}
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			log.Fatal("failed to open mysql", "error", err)
		}
		defer db.Close()
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.Migrate(ctx); err != nil {
			log.Fatal("failed to migrate mysql", "error", err)
		}
		st = adapter
	}

	var locker port.ItemLocker = storage.NewLocalLocker()
	if cfg.Locker.Backend == config.LockerRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Locker.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect redis", "error", err)
		}
		defer rdb.Close()
		locker = storage.NewRedisLocker(rdb, cfg.Locker.TTL, cfg.Locker.RetryBackoff, storage.WithLockLogger(log))
	}

	item, err := st.CreateItem(ctx, domain.Item{Name: "stress-item", Quantity: initialStock})
	if err != nil {
		log.Fatal("failed to create item", "error", err)
	}

	ledger := service.NewLedgerService(st, st, st, locker)

	var successCount, shortCount, failCount atomic.Int32
	var g errgroup.Group
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		g.Go(func() error {
			_, err := ledger.Checkout(ctx, item.ID, 1, 0, fmt.Sprintf("client-%d", i))
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				shortCount.Add(1)
			default:
				failCount.Add(1)
				log.Error("unexpected checkout error", "client", i, "error", err)
			}
			return nil
		})
	}
	g.Wait()
	elapsed := time.Since(start)

	success, short, fail := successCount.Load(), shortCount.Load(), failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:      %d\n", initialStock)
	fmt.Printf("Total Requests:     %d\n", totalRequests)
	fmt.Printf("Successful:         %d\n", success)
	fmt.Printf("Insufficient Stock: %d\n", short)
	fmt.Printf("Other Failures:     %d\n", fail)
	fmt.Printf("Duration:           %v\n", elapsed)
	fmt.Println("==========================================")

	ok := true
	if success == initialStock && short == totalRequests-initialStock && fail == 0 {
		fmt.Printf("PASS: exactly %d checkouts succeeded, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		ok = false
		fmt.Printf("FAIL: expected %d/%d/0, got %d/%d/%d\n", initialStock, totalRequests-initialStock, success, short, fail)
	}

	report, err := ledger.Audit(ctx, item.ID)
	if err != nil {
		log.Fatal("audit failed", "error", err)
	}
	fmt.Printf("Final Quantity:     %d\n", report.Quantity)
	fmt.Printf("Transactions:       %d\n", report.TransactionCount)

	if report.Quantity == 0 && report.TransactionCount == initialStock && report.Consistent {
		fmt.Println("PASS: stock depleted to 0 and ledger balances")
	} else {
		ok = false
		fmt.Printf("FAIL: unexpected audit %+v\n", report)
	}

	if !ok {
		log.Sync()
		os.Exit(1)
	}
}
