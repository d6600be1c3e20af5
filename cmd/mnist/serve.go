package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AndreiCostinescu/ml1-mnist/internal/logging"
	"github.com/AndreiCostinescu/ml1-mnist/internal/server"
)

var serveFlags struct {
	modelFile string
	listen    string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve digit predictions from a trained model over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings()
		if err != nil {
			return err
		}
		logger := logging.New(s.LogLevel)
		defer logger.Sync() //nolint:errcheck

		modelFile := serveFlags.modelFile
		if modelFile == "" {
			modelFile = filepath.Join(s.ModelDir, "nn.json")
		}
		listen := serveFlags.listen
		if listen == "" {
			listen = s.Listen
		}

		logger.Infow("loading model", "path", modelFile)
		srv, err := server.NewServer(modelFile, logger)
		if err != nil {
			return err
		}
		handler := server.NewHandler(srv)

		mux := http.NewServeMux()
		mux.HandleFunc("/health", enableCORS(handler.Health))
		mux.HandleFunc("/predict", enableCORS(handler.Predict))
		mux.HandleFunc("/predict/image", enableCORS(handler.PredictFromImage))

		httpServer := &http.Server{
			Addr:              listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		go func() {
			<-ctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = httpServer.Shutdown(shutdownCtx)
		}()

		logger.Infow("serving", "address", listen, "model", srv.ModelName())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.modelFile, "model-file", "", "Saved model to serve (default <model dir>/nn.json)")
	f.StringVar(&serveFlags.listen, "listen", "", "Listen address (default from config)")
}

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}
