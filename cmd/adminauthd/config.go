package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nextwhatsapp/adminauth"
)

type config struct {
	Server struct {
		Addr          string `yaml:"addr"`
		SecureCookies bool   `yaml:"secure_cookies"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Session struct {
		Mode        string        `yaml:"mode"` // "token" or "delegated"
		Secret      string        `yaml:"secret"`
		IssuerName  string        `yaml:"issuer_name"`
		ExchangeURL string        `yaml:"exchange_url"`
		ClientID    string        `yaml:"client_id"`
		TTL         time.Duration `yaml:"ttl"`
		RedisPrefix string        `yaml:"redis_prefix"`
	} `yaml:"session"`
	Mobizon struct {
		APIKey   string `yaml:"api_key"`
		SenderID string `yaml:"sender_id"`
		DryRun   bool   `yaml:"dry_run"`
	} `yaml:"mobizon"`
	TOTP struct {
		Issuer string `yaml:"issuer"`
	} `yaml:"totp"`
}

func loadConfig(path string) (*config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Session.IssuerName == "" {
		cfg.Session.IssuerName = "adminauth"
	}
	if len(cfg.Session.Secret) < 32 {
		return nil, fmt.Errorf("session.secret must be at least 32 bytes")
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn required")
	}
	return &cfg, nil
}

// engineConfig projects the file onto the engine's config, leaving
// everything unset to the engine defaults.
func (c *config) engineConfig() adminauth.Config {
	cfg := adminauth.DefaultConfig()
	if c.Session.TTL > 0 {
		cfg.Session.TTL = c.Session.TTL
	}
	if c.Session.RedisPrefix != "" {
		cfg.Session.RedisPrefix = c.Session.RedisPrefix
	}
	if c.TOTP.Issuer != "" {
		cfg.TOTP.Issuer = c.TOTP.Issuer
	}
	return cfg
}
