package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"fieldsync-server/internal/access"
	"fieldsync-server/internal/audit"
	"fieldsync-server/internal/auth"
	"fieldsync-server/internal/config"
	"fieldsync-server/internal/dataset"
	"fieldsync-server/internal/metrics"
	"fieldsync-server/internal/registry"
	"fieldsync-server/internal/rpc"
	"fieldsync-server/internal/server"
	syncdrv "fieldsync-server/internal/sync"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	gin.SetMode(cfg.GinMode)

	collab, err := dataset.OpenSQLite(cfg.DBFile)
	if err != nil {
		log.Fatal(err)
	}

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "fieldsync-server",
	}

	reg := rpc.NewRegistry()
	reg.SetFallback(&rpc.DatasetProviders{Collab: collab})

	dispatcher := &rpc.Dispatcher{
		Registry:   reg,
		Cache:      access.NewCache(collab, cfg.AccessCacheSize),
		Authorizer: &access.Authorizer{Namespace: cfg.Namespace, Schema: collab},
		Audit:      audit.New(collab, cfg.AuditBufferSize, logger),
		Host:       cfg.Host(),
		AppName:    cfg.AppName,
		Logger:     logger,
	}

	store := syncdrv.NewStore(cfg.FilesDir)
	processor := &syncdrv.Processor{
		Dispatcher: dispatcher,
		Store:      store,
		Logger:     logger,
		Compress:   true,
	}

	promReg := prometheus.NewRegistry()
	if err := metrics.Init(promReg); err != nil {
		log.Fatal(err)
	}

	router := server.NewRouter(server.Deps{
		Collab:      collab,
		Dispatcher:  dispatcher,
		Processor:   processor,
		Store:       store,
		Connections: registry.New(),
		TokenConfig: tokenCfg,
		Registry:    promReg,
		Config:      cfg,
		Logger:      logger,
	})

	logger.Info("listening", "addr", fmt.Sprintf(":%d", cfg.Port))
	log.Fatal(server.Run(cfg, router))
}
