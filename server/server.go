package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyclopcam/labelstore/pkg/annotzip"
	"github.com/cyclopcam/labelstore/server/auth"
	"github.com/cyclopcam/labelstore/server/exportcache"
	"github.com/cyclopcam/labelstore/server/storage"
	"github.com/cyclopcam/labelstore/server/tasks"
	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
	"gorm.io/gorm"
)

type Server struct {
	Log logs.Log
	DB  *gorm.DB

	// Allow HTTP basic auth on every request, and not just on login.
	// This is useful when debugging with "curl -u admin:123 ...".
	AlwaysAllowBASICAuth bool

	listen      string
	signalIn    chan os.Signal
	httpServer  *http.Server
	httpRouter  *httprouter.Router
	auth        *auth.AuthServer
	tasks       *tasks.TaskServer
	storage     storage.Storage
	exportCache *exportcache.ExportCache
}

func NewServerFromFile(configFile string) (*Server, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := logs.NewLog()
	if err != nil {
		return nil, err
	}
	return NewServer(logger, cfg)
}

func NewServer(logger logs.Log, cfg *Config) (*Server, error) {
	cacheSize, err := cfg.exportCacheBytes()
	if err != nil {
		return nil, err
	}
	maxUpload, err := cfg.maxUploadBytes()
	if err != nil {
		return nil, err
	}
	if cfg.ExportCache == "" {
		return nil, fmt.Errorf("exportCache directory must be configured")
	}

	db, authServer, err := openDB(logger, cfg.DB, cfg.AdminPassword)
	if err != nil {
		return nil, err
	}

	// Open blob store
	var storageServer storage.Storage
	if cfg.Storage.GCS != nil {
		// Google Cloud Storage
		storageServer, err = storage.NewStorageGCS(logger, cfg.Storage.GCS.Bucket, cfg.Storage.GCS.Public)
		if err != nil {
			return nil, err
		}
	} else if cfg.Storage.Filesystem != nil {
		// Filesystem
		storageServer, err = storage.NewStorageFS(logger, cfg.Storage.Filesystem.Root)
		if err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')")
	}

	exportCache, err := exportcache.NewExportCache(logger, cfg.ExportCache, cacheSize)
	if err != nil {
		return nil, err
	}

	taskServer := tasks.NewTaskServer(logger, db, storageServer, exportCache, annotzip.NewDefaultRegistry(), maxUpload)
	s := &Server{
		Log:         logger,
		DB:          db,
		listen:      cfg.listenAddr(),
		auth:        authServer,
		tasks:       taskServer,
		storage:     storageServer,
		exportCache: exportCache,
	}
	if os.Getenv("LABELSTORE_ALWAYS_ALLOW_BASIC_AUTH") == "1" {
		s.Log.Infof("Allowing BASIC authentication for all requests (not just logins)")
		s.AlwaysAllowBASICAuth = true
	}
	s.setupHttpRoutes()
	return s, nil
}

// Handler returns the root HTTP handler, for embedding the server into another http.Server, or an httptest.Server
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// ListenHTTP blocks until the server is shut down.
// If addr is empty, the address from the config is used (example: ":8080").
func (s *Server) ListenHTTP(addr string) error {
	if addr == "" {
		addr = s.listen
	}
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpRouter,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// Shutdown() was called by something other than ourselves, and it closed signalIn
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
		s.signalIn = nil
	}
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.httpServer.Shutdown(ctx)
		cancel()
		if err != nil {
			s.Log.Warnf("HTTP server shutdown error: %v", err)
		}
	}
	if sqlDB, err := s.DB.DB(); err == nil {
		sqlDB.Close()
	}
	s.Log.Infof("Shutdown complete")
}
