package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/sitemap"
)

func main() {
	output := flag.String("out", "", "output file (defaults to SITEMAP_OUTPUT)")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline for catalog reads")
	flag.Parse()

	if err := logging.Setup(os.Getenv("LOG_LEVEL"), "console"); err != nil {
		fmt.Fprintf(os.Stderr, "logging setup: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	logger := logging.NewLoggerV2("sitemap")

	cfg, err := config.Load(".env")
	if err != nil {
		logger.Fatal("Failed to load configuration", logging.Fields{"error": err.Error()})
	}

	path := cfg.Sitemap.OutputPath
	if *output != "" {
		path = *output
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store := clients.NewHTTPItemStore(cfg.ItemStore, logging.NewLoggerV2("item-store"), metrics.New())
	gen := sitemap.NewGenerator(store, cfg.Sitemap.BaseURL, logger)

	set, stats, err := gen.Build(ctx)
	if err != nil {
		logger.Fatal("Failed to build sitemap", logging.Fields{
			"item_store": cfg.ItemStore.BaseURL,
			"error":      err.Error(),
		})
	}

	var buf bytes.Buffer
	if err := sitemap.Write(&buf, set); err != nil {
		logger.Fatal("Failed to encode sitemap", logging.Fields{"error": err.Error()})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Fatal("Failed to create output directory", logging.Fields{"path": path, "error": err.Error()})
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		logger.Fatal("Failed to write sitemap", logging.Fields{"path": path, "error": err.Error()})
	}

	logger.Info("Sitemap written", logging.Fields{
		"path":     path,
		"url":      cfg.Sitemap.BaseURL + "/sitemap.xml",
		"total":    stats.Total(),
		"static":   stats.Static,
		"products": stats.Products,
		"types":    stats.Types,
		"models":   stats.Models,
	})
}
