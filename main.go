package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cragline/core"
	"cragline/handlers/api/images"
	"cragline/handlers/api/topos"
	"cragline/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func setupRouter(recordStore core.RecordStore, blobStore core.BlobStore) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/images", func(r chi.Router) {
			r.Post("/optimize-line", images.HandleOptimizeLine(recordStore, blobStore))
			r.Post("/upload-image", images.HandleUploadImage(recordStore, blobStore))
			r.Post("/render-line", images.HandleRenderLine(recordStore, blobStore))
		})

		r.Route("/routes", func(r chi.Router) {
			r.Get("/", topos.HandleList(recordStore, core.TableRoute))
			r.Post("/", topos.HandleCreate(recordStore, core.TableRoute))
			r.Get("/{id}", topos.HandleGet(recordStore, core.TableRoute))
		})
		r.Route("/boulders", func(r chi.Router) {
			r.Get("/", topos.HandleList(recordStore, core.TableBoulder))
			r.Post("/", topos.HandleCreate(recordStore, core.TableBoulder))
			r.Get("/{id}", topos.HandleGet(recordStore, core.TableBoulder))
		})
	})

	// The filesystem blob store serves its blobs from this process; the S3
	// store hands out absolute URLs instead.
	if fs, ok := blobStore.(interface{ BasePath() string }); ok {
		fileServer := http.StripPrefix("/files/", http.FileServer(http.Dir(fs.BasePath())))
		r.Get("/files/*", fileServer.ServeHTTP)
	}

	return r
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	recordStore := stores.GetRecordStore()
	blobStore := stores.GetBlobStore()

	r := setupRouter(recordStore, blobStore)

	server := &http.Server{
		Addr:    *listenAddress,
		Handler: r,
	}

	go func() {
		logrus.WithField("addr", *listenAddress).Info("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-signalC

	logrus.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Graceful shutdown failed")
	}
}
