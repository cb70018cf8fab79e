package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/economykit/balance-sync/internal/config"
	countermemory "github.com/economykit/balance-sync/internal/counter/memory"
	counterredis "github.com/economykit/balance-sync/internal/counter/redis"
	"github.com/economykit/balance-sync/internal/events"
	"github.com/economykit/balance-sync/internal/events/kafka"
	"github.com/economykit/balance-sync/internal/interfaces"
	"github.com/economykit/balance-sync/internal/ledger"
	"github.com/economykit/balance-sync/internal/payment"
	storagememory "github.com/economykit/balance-sync/internal/storage/memory"
	"github.com/economykit/balance-sync/internal/storage/postgres"
	"github.com/economykit/balance-sync/internal/syncer"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on system env vars")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var repo interfaces.AccountsRepository
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("open database", zap.Error(err))
		}
		defer db.Close()
		repo = postgres.NewAccountsRepository(db)
	} else {
		logger.Info("no DATABASE_URL set, using in-memory account store")
		repo = storagememory.NewAccountsRepository()
	}

	var sink interfaces.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		sink = publisher
	}

	bus := events.NewBus(sink, cfg.KafkaTopic, logger)
	defer bus.Close()

	ledgerService := ledger.New(repo, bus, cfg.DefaultInitialBalance, cfg.AllowNegativeBalance, logger)
	payments := payment.New(ledgerService, logger)

	if cfg.UseLiveCounterSync {
		var source interfaces.CounterSource
		var feed interfaces.CounterFeed

		if cfg.RedisAddr != "" {
			rdb := goredis.NewClient(&goredis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPass,
			})
			defer rdb.Close()

			redisSource := counterredis.NewSource(rdb, logger)
			if err := redisSource.Start(ctx); err != nil {
				logger.Fatal("start counter feed", zap.Error(err))
			}
			source, feed = redisSource, redisSource
		} else {
			logger.Info("no REDIS_ADDR set, using in-memory counter source")
			memorySource := countermemory.NewSource()
			defer memorySource.Close()
			source, feed = memorySource, memorySource
		}

		bridge := syncer.NewBridge(ledgerService, source, cfg.CounterOwnerType, logger)
		coordinator := syncer.NewCoordinator(bridge, true, logger)
		bus.Subscribe(coordinator.HandleBalanceUpdated)
		go coordinator.Run(ctx, feed)
	}

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	http.HandleFunc("/accounts/balance", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			ownerID := r.URL.Query().Get("owner_id")
			ownerType := r.URL.Query().Get("owner_type")
			if ownerID == "" || ownerType == "" {
				http.Error(w, "owner_id and owner_type are mandatory", http.StatusBadRequest)
				return
			}

			balance, err := ledgerService.GetBalance(r.Context(), ownerID, ownerType)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			response := struct {
				OwnerID   string          `json:"owner_id"`
				OwnerType string          `json:"owner_type"`
				Balance   decimal.Decimal `json:"balance"`
			}{ownerID, ownerType, balance}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(response)

		case http.MethodPost:
			var req struct {
				OwnerID   string          `json:"owner_id"`
				OwnerType string          `json:"owner_type"`
				Balance   decimal.Decimal `json:"balance"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if req.OwnerID == "" || req.OwnerType == "" {
				http.Error(w, "owner_id and owner_type are mandatory", http.StatusBadRequest)
				return
			}

			if err := ledgerService.SetBalance(r.Context(), req.OwnerID, req.OwnerType, req.Balance); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	http.HandleFunc("/accounts/update", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			OwnerID   string          `json:"owner_id"`
			OwnerType string          `json:"owner_type"`
			Amount    decimal.Decimal `json:"amount"`
			Reason    string          `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.OwnerID == "" || req.OwnerType == "" {
			http.Error(w, "owner_id and owner_type are mandatory", http.StatusBadRequest)
			return
		}

		newBalance, err := ledgerService.UpdateBalance(r.Context(), req.OwnerID, req.OwnerType, req.Amount, req.Reason)
		if err != nil {
			var insufficient *ledger.InsufficientBalanceError
			if errors.As(err, &insufficient) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusPaymentRequired)
				json.NewEncoder(w).Encode(struct {
					Error   string          `json:"error"`
					Balance decimal.Decimal `json:"balance"`
				}{"insufficient balance", insufficient.Balance})
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		response := struct {
			Balance decimal.Decimal `json:"balance"`
		}{newBalance}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})

	http.HandleFunc("/payments", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			FromID   string          `json:"from_id"`
			FromType string          `json:"from_type"`
			ToID     string          `json:"to_id"`
			ToType   string          `json:"to_type"`
			Amount   decimal.Decimal `json:"amount"`
			Reason   string          `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.FromID == "" || req.FromType == "" || req.ToID == "" || req.ToType == "" {
			http.Error(w, "from and to identities are mandatory", http.StatusBadRequest)
			return
		}

		receipt, err := payments.Pay(r.Context(), req.FromID, req.FromType, req.ToID, req.ToType, req.Amount, req.Reason)
		if err != nil {
			if errors.Is(err, payment.ErrZeroAmount) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(receipt)
	})

	logger.Info("starting server", zap.String("addr", cfg.HTTPAddr))
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, nil))
}
