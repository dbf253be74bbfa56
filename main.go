package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clipsync/handlers/api/blobs"
	"clipsync/handlers/api/entries"
	"clipsync/handlers/api/paste"
	"clipsync/handlers/auth"
	"clipsync/handlers/mqtt"
	"clipsync/handlers/websocket"
	"clipsync/ingest"
	authMiddleware "clipsync/middleware"
	"clipsync/stores"
	"clipsync/syncstore"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

//go:embed all:frontend
var assets embed.FS

func handleUI() http.Handler {
	sub, err := fs.Sub(assets, "frontend")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

func setupRouter(adapter *syncstore.Adapter, blobStore stores.BlobStore, ingestor *ingest.Ingestor, maxPasteBytes int64) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT)
		r.Post("/paste", paste.HandlePaste(ingestor, maxPasteBytes))
		r.Route("/entries", func(r chi.Router) {
			r.Get("/", entries.HandleList(adapter))
			r.Delete("/", entries.HandleClear(adapter))
		})
	})

	// Blob URLs end up in entries and <img> tags, so they carry no token.
	// Keys are unguessable ULIDs.
	r.Get("/blobs/*", blobs.HandleGet(blobStore))

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", auth.HandleLogin)
		r.Get("/callback", auth.HandleCallback)
	})

	return r
}

func publicBaseURL(listenAddress string) string {
	if base := os.Getenv("PUBLIC_BASE_URL"); base != "" {
		return strings.TrimRight(base, "/")
	}
	host := listenAddress
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host
}

func waitForShutdown(server *http.Server, closers ...func()) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s).Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	for _, closeFn := range closers {
		closeFn()
	}
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	maxPasteBytes := flag.Int64("max-paste-bytes", paste.DefaultMaxBytes, "The largest paste request body accepted.")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	auth.InitAuth()

	collection := stores.GetCollection()
	blobStore := stores.GetBlobStore(publicBaseURL(*listenAddress) + "/blobs")

	adapter := syncstore.NewAdapter(collection, blobStore)
	if err := adapter.Subscribe(context.Background()); err != nil {
		logrus.WithError(err).Fatal("Failed to open live feed")
	}
	ingestor := ingest.New(adapter)

	r := setupRouter(adapter, blobStore, ingestor, *maxPasteBytes)

	feed := websocket.NewServer(adapter)
	r.Mount("/socket.io/", authMiddleware.AuthJWT(feed.Handler()))
	r.NotFound(handleUI().ServeHTTP)

	bridgeStop := func() {}
	if cfg, ok := mqtt.ConfigFromEnv(); ok {
		bridge := mqtt.New(cfg, adapter, ingestor)
		if err := bridge.Start(context.Background()); err != nil {
			logrus.WithError(err).Fatal("Failed to start MQTT bridge")
		}
		bridgeStop = bridge.Stop
	}

	server := &http.Server{Addr: *listenAddress, Handler: r}
	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(server,
		bridgeStop,
		feed.Close,
		adapter.Close,
		func() {
			if err := collection.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close document collection")
			}
		},
	)
}
