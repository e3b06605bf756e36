package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shelfware/shelfsyncgo/internal/blob"
	"github.com/shelfware/shelfsyncgo/internal/config"
	"github.com/shelfware/shelfsyncgo/internal/database"
	"github.com/shelfware/shelfsyncgo/internal/handlers"
	"github.com/shelfware/shelfsyncgo/internal/notify"
	"github.com/shelfware/shelfsyncgo/internal/remote"
	"github.com/shelfware/shelfsyncgo/internal/store"
	"github.com/shelfware/shelfsyncgo/internal/sync"
	"github.com/shelfware/shelfsyncgo/internal/utils"
	"github.com/shelfware/shelfsyncgo/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Device identity, stamped onto every event this node records
	if err := utils.LoadOrGenerateDeviceIdentity(); err != nil {
		log.Fatalf("Failed to establish device identity: %v", err)
	}
	identity := utils.GetDeviceIdentity()
	log.Printf("📱 Device: %s", identity.DeviceID)

	// 3. Open the local database (sqlite by default, postgres for hubs)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// 4. Build the store and synchronize the schema
	cipher, err := utils.NewBlobCipher(cfg.Blob.EncKey)
	if err != nil {
		log.Fatalf("Failed to init blob encryption: %v", err)
	}

	syncCfg := config.LoadSyncConfig()
	bus := notify.NewBus()
	st := store.New(db, bus, identity.DeviceID, store.ImagingOptions{
		MaxDimension: syncCfg.MaxImageDimension,
		JPEGQuality:  syncCfg.ImageJPEGQuality,
	}, cipher)

	log.Println("🚀 Synchronizing database schema...")
	if err := st.Migrate(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("✅ Schema synchronized successfully")

	// 5. Remote API client and image upload backend
	api := remote.NewClient(cfg.Remote, identity.DeviceID)

	var uploader blob.Uploader
	if cfg.Blob.Backend != "" {
		uploader, err = blob.NewUploader(cfg.Blob)
		if err != nil {
			log.Printf("⚠️ Image uploads disabled: %v", err)
		}
	}

	// 6. Sync engine
	engine := sync.NewEngine(st, api, uploader, syncCfg)
	if err := engine.Start(); err != nil {
		log.Fatalf("Failed to start sync engine: %v", err)
	}

	// 7. Change notification hub for the UI
	hub := websocket.NewHub()
	hub.AttachBus(bus)
	go hub.Run()

	// 8. HTTP surface
	router := handlers.NewRouter(st, engine, hub)

	port := cfg.Port
	if port == "" {
		port = "3210"
	}
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Local API listening on port %s\n", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	engine.Stop()

	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
