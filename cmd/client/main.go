package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/npezzotti/gochat-sync/internal/api"
	"github.com/npezzotti/gochat-sync/internal/auth"
	"github.com/npezzotti/gochat-sync/internal/channel"
	"github.com/npezzotti/gochat-sync/internal/config"
	"github.com/npezzotti/gochat-sync/internal/database"
	"github.com/npezzotti/gochat-sync/internal/session"
	"github.com/npezzotti/gochat-sync/internal/stats"
	"github.com/npezzotti/gochat-sync/internal/web"
)

const defaultStoreKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr            string
	apiURL          string
	wsURL           string
	dbDriver        string
	dsn             string
	storeKey        string
	allowedOrigins  stringSliceFlag
	refreshInterval time.Duration
)

// env returns the value of key, or def when it is unset.
func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func main() {
	// a .env file only supplies flag defaults
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", env("GOCHAT_ADDR", "localhost:8080"), "local presentation server address")
	flag.StringVar(&apiURL, "api-url", env("GOCHAT_API_URL", "http://localhost:8000/"), "chat server REST base url")
	flag.StringVar(&wsURL, "ws-url", env("GOCHAT_WS_URL", "ws://localhost:8000/"), "chat server websocket base url")
	flag.StringVar(&dbDriver, "db-driver", env("GOCHAT_DB_DRIVER", "sqlite3"), "session store driver (sqlite3 or postgres)")
	flag.StringVar(&dsn, "dsn", env("GOCHAT_DSN", "file:gochat-session.db"), "session store connection string")
	flag.StringVar(&storeKey, "store-key", env("GOCHAT_STORE_KEY", defaultStoreKey), "base64 encoded 32 byte key sealing stored tokens")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&refreshInterval, "refresh-interval", time.Minute, "room list refresh interval, 0 disables")
	flag.Parse()

	logger := log.New(os.Stderr, "[gochat-sync] ", log.LstdFlags)

	cfg, err := config.NewConfig(config.Params{
		ListenAddr:      addr,
		APIURL:          apiURL,
		WSURL:           wsURL,
		DatabaseDriver:  dbDriver,
		DatabaseDSN:     dsn,
		StoreKey:        storeKey,
		AllowedOrigins:  allowedOrigins,
		RefreshInterval: refreshInterval,
	})
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewDatabaseConnection(cfg.DatabaseDriver, cfg.DatabaseDSN, cfg.StoreKey)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	client, err := api.NewClient(logger, cfg.APIURL, &http.Client{})
	if err != nil {
		logger.Fatal("api client:", err)
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	authManager := auth.NewManager(logger, client, dbConn)

	ctrl, err := session.NewController(logger, client, channel.NewWebsocketDialer(logger, client), session.Options{
		WSBaseURL:    cfg.WSURL,
		Stats:        statsUpdater,
		Ender:        authManager,
		RefreshEvery: 5 * time.Second,
	})
	if err != nil {
		logger.Fatal("session:", err)
	}
	go ctrl.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if user, err := authManager.Restore(ctx); err != nil {
		logger.Println("restore session:", err)
	} else if user != nil {
		logger.Printf("resumed session for %s", user.Username)
		if err := ctrl.OnAuthChange(ctx, user); err != nil {
			logger.Println("start session:", err)
		}
	}

	if cfg.RefreshInterval > 0 {
		go refreshLoop(ctx, logger, ctrl, authManager, cfg.RefreshInterval)
	}

	srv := web.NewApp(mux, logger, ctrl, authManager, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}
	cancel()

	shutDownCtx, shutDownCancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer shutDownCancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("closing channels...")
	if err := ctrl.Shutdown(shutDownCtx); err != nil {
		logger.Println("session shutdown:", err)
	}

	logger.Println("shutdown complete")
}

// refreshLoop periodically reloads the room lists while a user is logged in.
func refreshLoop(ctx context.Context, logger *log.Logger, ctrl *session.Controller, a *auth.Manager, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.User() == nil {
				continue
			}
			if err := ctrl.RefreshRooms(ctx); err != nil {
				logger.Println("refresh rooms:", err)
			}
		}
	}
}
