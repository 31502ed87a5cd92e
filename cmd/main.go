// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
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

	"github.com/anchor-social/anchor-events/internal/config"
	"github.com/anchor-social/anchor-events/internal/database"
	"github.com/anchor-social/anchor-events/internal/handler"
	"github.com/anchor-social/anchor-events/internal/identity"
	"github.com/anchor-social/anchor-events/internal/payment"
	"github.com/anchor-social/anchor-events/internal/repository"
	"github.com/anchor-social/anchor-events/internal/service"
	"github.com/anchor-social/anchor-events/internal/ticket"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ── 1. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("✓ Connected to PostgreSQL")

	// ── 2. Wire up layers ────────────────────────────────────────────────
	eventRepo := repository.NewEventRepository(pool)
	stateRepo := repository.NewStateRepository(pool)

	resolver := identity.NewClient(cfg.AuthBaseURL)
	payments := payment.NewCoordinator(payment.NewClient(cfg.PaymentBaseURL))
	tickets := ticket.NewClient(cfg.TicketBaseURL)

	eventSvc := service.NewEventService(eventRepo)
	checkoutSvc := service.NewCheckoutService(stateRepo, resolver, payments, tickets, cfg.TeardownGrace)

	eventHandler := handler.NewEventHandler(eventSvc)
	checkoutHandler := handler.NewCheckoutHandler(checkoutSvc, cfg.PublicOrigin)

	// ── 3. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger)          // structured access log
	r.Use(handler.CORS)            // permissive CORS for browser clients

	// Health
	r.Get("/health", handler.HealthCheck)

	// Event catalog
	r.Route("/events", func(r chi.Router) {
		r.Post("/", eventHandler.CreateEvent)
		r.Get("/", eventHandler.ListEvents)
		r.Get("/{id}", eventHandler.GetEvent)
	})

	// Checkout flow
	r.Route("/checkout", func(r chi.Router) {
		r.Get("/", checkoutHandler.State)
		r.Post("/form", checkoutHandler.BeginForm)
		r.Post("/attendee", checkoutHandler.SubmitAttendee)
		r.Post("/payment", checkoutHandler.StartPayment)
		r.Post("/payment/outcome", checkoutHandler.PaymentOutcome)
		r.Post("/complete", checkoutHandler.CompleteTicket)
		r.Post("/back", checkoutHandler.Back)
	})

	// Phone login and logout
	r.Route("/auth", func(r chi.Router) {
		r.Post("/phone/request-code", checkoutHandler.RequestPhoneCode)
		r.Post("/phone/verify", checkoutHandler.VerifyPhoneCode)
		r.Post("/logout", checkoutHandler.Logout)
	})

	// Ticket history and QR verification payloads
	r.Route("/tickets", func(r chi.Router) {
		r.Get("/", checkoutHandler.ListTickets)
		r.Get("/{paymentIntentID}/qr", checkoutHandler.QRImage)
		r.Get("/{paymentIntentID}/qr/payload", checkoutHandler.QRPayload)
	})

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Printf("✓ Server listening on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Println("server stopped")
}
