package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "Path to analytics SQLite database (overrides config)")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	var db *DB
	if cfg.DBPath != "" {
		db, err = OpenDB(cfg.DBPath)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		log.Printf("Analytics database: %s", cfg.DBPath)
	} else {
		log.Println("Analytics disabled (no database configured)")
	}
	analytics := NewAnalytics(db)

	verifier := NewVerifier(cfg.JWTSecret)
	if cfg.JWTSecret == "" {
		log.Println("GAME_JWT_SECRET not set; session tokens will be rejected, guests only")
	}

	reg := NewRegistry(cfg, analytics)

	// The pinned default lobby is always on and never torn down.
	if _, err := reg.Create(cfg.DefaultLobbyID, LobbyOptions{Pinned: true}); err != nil {
		log.Fatalf("create default lobby: %v", err)
	}

	mux := SetupRoutes(reg, verifier, cfg)
	server := &http.Server{Addr: cfg.Addr, Handler: mux}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s (tick rate %d Hz, default lobby %q)",
			cfg.Addr, cfg.TickRate, cfg.DefaultLobbyID)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	server.Close()
	reg.StopAll()
	analytics.Stop()
	if db != nil {
		db.Close()
	}
}
