package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joelkehle/kyc-agency/internal/operator"
	"github.com/joelkehle/kyc-agency/internal/report"
)

var (
	serveAddr  string
	serveNoPDF bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the operator HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(nil)
		if err != nil {
			return err
		}
		defer env.Close()

		srvCfg := operator.Config{
			Processor:      env.Pipeline,
			Cases:          env.Store,
			Reviewer:       env.Reviewer,
			Gatherer:       env.Registry,
			UploadDir:      cfg.Server.UploadDir,
			RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
		}
		if !serveNoPDF {
			srvCfg.PDFRenderer = report.NewPDFRenderer(cfg.Report.ChromePath, time.Duration(cfg.Report.PDFTimeoutSecs)*time.Second)
		}

		addr := serveAddr
		if addr == "" {
			addr = cfg.Server.Addr
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           operator.NewServer(srvCfg),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("operator listening", zap.String("addr", addr), zap.String("store", cfg.Store.Path))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveNoPDF, "no-pdf", false, "disable PDF report export")
	rootCmd.AddCommand(serveCmd)
}
