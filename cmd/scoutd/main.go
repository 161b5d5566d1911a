package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"main/internal/gateway"
	"main/internal/ops"
	"main/internal/search"
	"main/internal/store"
	"main/pkg/kv"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	listenAddr := flag.String("addr", "", "Listen address (overrides config)")
	profileAddr := flag.String("profile-addr", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *listenAddr != "" {
		loaded.Gateway.ListenAddr = *listenAddr
	}

	if *profileAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "scoutd",
			ServerAddress:   *profileAddr,
			Tags:            map[string]string{"env": "local"},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	db, err := kv.OpenSQLite(loaded.Storage.Path)
	if err != nil {
		log.Fatalf("storage open failed: %v", err)
	}
	defer db.Close()

	conversations, err := store.NewConversations(ctx, db)
	if err != nil {
		log.Fatalf("conversation store init failed: %v", err)
	}
	files, err := store.NewFiles(ctx, db)
	if err != nil {
		log.Fatalf("file store init failed: %v", err)
	}

	// The handler is rebuilt on config reload so new search keys take
	// effect without dropping the stores or the listener.
	var handler atomic.Value
	rebuild := func(loaded ops.Loaded) error {
		g, err := gateway.New(gateway.Option{
			Search:           search.New(loaded.Search, nil),
			Conversations:    conversations,
			Files:            files,
			StreamChunkDelay: time.Duration(loaded.Gateway.StreamChunkDelayMS) * time.Millisecond,
		})
		if err != nil {
			return err
		}
		handler.Store(g.Handler())
		return nil
	}
	if err := rebuild(loaded); err != nil {
		log.Fatalf("gateway init failed: %v", err)
	}

	if *configPath != "" {
		go func() {
			err := ops.Watch(ctx, *configPath, func(loaded ops.Loaded) {
				if err := rebuild(loaded); err != nil {
					logs.Errorf("config reload rejected: %v", err)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logs.Errorf("config watch stopped: %v", err)
			}
		}()
	}

	server := &http.Server{
		Addr: loaded.Gateway.ListenAddr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.Load().(http.Handler).ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logs.Infof("scoutd listening on %s", loaded.Gateway.ListenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server stopped: %v", err)
	}
}
