package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaot623/gogo/esgchat/internal/adapter/llm"
	"github.com/xiaot623/gogo/esgchat/internal/config"
	"github.com/xiaot623/gogo/esgchat/internal/domain"
	"github.com/xiaot623/gogo/esgchat/internal/repository"
	"github.com/xiaot623/gogo/esgchat/internal/service"
	handler "github.com/xiaot623/gogo/esgchat/internal/transport/http"
	"github.com/xiaot623/gogo/esgchat/internal/transport/ws"
	"github.com/xiaot623/gogo/esgchat/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting compliance chat service...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Chat URL: %s", cfg.ChatURL)
	log.Printf("Max frame retries: %d, require [DONE]: %t", cfg.MaxFrameRetries, cfg.RequireDone)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if cfg.BootstrapAdmin != "" {
		if err := db.AssignRole(ctx, cfg.BootstrapAdmin, domain.AppRoleAdmin); err != nil {
			log.Fatalf("Failed to assign bootstrap admin: %v", err)
		}
		log.Printf("Bootstrap admin: %s", cfg.BootstrapAdmin)
	}

	// Initialize policy engine
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// One client per session, all sharing one connection pool
	opts := llm.Options{
		Token:           cfg.ChatToken,
		Timeout:         cfg.ChatTimeout,
		MaxFrameRetries: cfg.MaxFrameRetries,
		RequireDone:     cfg.RequireDone,
		HTTPClient:      llm.NewHTTPClient(cfg.ChatTimeout),
	}
	newStreamer := func() llm.ChatStreamer {
		return llm.NewChatStreamer(cfg.ChatURL, opts)
	}

	// Initialize viewer hub
	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	// Initialize service
	svc := service.New(db, policyEngine, cfg, newStreamer, hub)

	server := handler.NewServer(cfg, svc, hub, cfg.MockEndpoint)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)
	if cfg.MockEndpoint {
		log.Printf("Mock completion endpoint: /mock/v1/chat/completions")
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down compliance chat service...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Compliance chat service stopped")
}
