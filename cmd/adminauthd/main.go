// adminauthd serves the admin authentication API. It wires Redis,
// PostgreSQL, the SMS gateway, and a session issuer into the engine and
// exposes the HTTP surface.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextwhatsapp/adminauth"
	"github.com/nextwhatsapp/adminauth/httpapi"
	"github.com/nextwhatsapp/adminauth/pgstore"
	"github.com/nextwhatsapp/adminauth/session"
	"github.com/nextwhatsapp/adminauth/sms"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	store, err := pgstore.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	issuer, err := buildIssuer(cfg, redisClient)
	if err != nil {
		return err
	}

	gateway := sms.NewMobizonClient(sms.MobizonConfig{
		APIKey:   cfg.Mobizon.APIKey,
		SenderID: cfg.Mobizon.SenderID,
		DryRun:   cfg.Mobizon.DryRun,
	})

	engine, err := adminauth.New().
		WithConfig(cfg.engineConfig()).
		WithRedis(redisClient).
		WithIdentityStore(store).
		WithSessionIssuer(issuer).
		WithSMSGateway(gateway).
		WithAuditSink(adminauth.NewJSONWriterSink(os.Stdout)).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	server := httpapi.NewServer(engine, httpapi.Config{SecureCookies: cfg.Server.SecureCookies})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Server.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildIssuer(cfg *config, redisClient redis.UniversalClient) (session.Issuer, error) {
	prefix := cfg.Session.RedisPrefix
	if prefix == "" {
		prefix = "aa"
	}

	if cfg.Session.Mode == "delegated" {
		return session.NewDelegatedIssuer(session.DelegatedConfig{
			ExchangeURL:  cfg.Session.ExchangeURL,
			ClientID:     cfg.Session.ClientID,
			AssertionKey: []byte(cfg.Session.Secret),
		}, redisClient, prefix)
	}
	return session.NewTokenIssuer([]byte(cfg.Session.Secret), cfg.Session.IssuerName, redisClient, prefix)
}
