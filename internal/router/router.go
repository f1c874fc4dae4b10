package router

import (
	"net/http"
	"time"

	"wallet-ledger/internal/config"
	"wallet-ledger/internal/handlers"
	"wallet-ledger/internal/middleware"
	"wallet-ledger/internal/services"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const slowRequestThreshold = time.Second

type Services struct {
	Users        *services.UserService
	Accounts     *services.AccountRegistry
	Transactions *services.TransactionService
	Queries      *services.QueryService
}

func SetupRouter(svc Services, cfg config.Config, logger zerolog.Logger) *mux.Router {
	userHandler := handlers.NewUserHandler(svc.Users, cfg.Ledger, logger)
	transactionHandler := handlers.NewTransactionHandler(svc.Transactions, svc.Queries, cfg.Ledger, logger)
	balanceHandler := handlers.NewBalanceHandler(svc.Accounts, cfg.Ledger, logger)

	r := mux.NewRouter()

	rateLimiter := middleware.NewRateLimiter(rate.Limit(cfg.HTTP.RateLimitRPS), cfg.HTTP.RateLimitBurst)

	r.Use(middleware.ErrorHandling(logger))
	r.Use(middleware.PerformanceMonitoring(logger, slowRequestThreshold))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.Use(rateLimiter.Middleware())

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.RequestValidation())

	users := api.PathPrefix("/users").Subrouter()
	users.HandleFunc("", userHandler.CreateUser).Methods("POST")
	users.HandleFunc("", userHandler.GetUsers).Methods("GET")
	users.HandleFunc("/{id:[0-9]+}", userHandler.GetUser).Methods("GET")
	users.HandleFunc("/{id:[0-9]+}", userHandler.UpdateUser).Methods("PUT")
	users.HandleFunc("/{id:[0-9]+}/transactions", transactionHandler.ListUserTransactions).Methods("GET")
	users.HandleFunc("/{id:[0-9]+}/balance", balanceHandler.GetCurrentBalance).Methods("GET")
	users.HandleFunc("/{id:[0-9]+}/balance/history", balanceHandler.GetBalanceHistory).Methods("GET")
	users.HandleFunc("/{id:[0-9]+}/balance/at", balanceHandler.GetBalanceAtTime).Methods("GET")
	users.HandleFunc("/{id:[0-9]+}/balance/reconcile", balanceHandler.Reconcile).Methods("GET")

	transactions := api.PathPrefix("/transactions").Subrouter()
	transactions.HandleFunc("/credit", transactionHandler.Credit).Methods("POST")
	transactions.HandleFunc("/debit", transactionHandler.Debit).Methods("POST")
	transactions.HandleFunc("/transfer", transactionHandler.Transfer).Methods("POST")
	transactions.HandleFunc("/{id:[0-9]+}", transactionHandler.GetTransaction).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	return r
}
