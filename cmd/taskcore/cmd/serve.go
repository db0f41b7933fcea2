package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/theerud/taskcore/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control API",
	Long: `Start the HTTP control API: submit task batches, poll their progress,
and cancel them mid-flight over a small REST surface.`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overriding server.addr")
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	addr := serveAddr
	if addr == "" {
		addr = d.cfg.Server.Addr
	}

	srv := httpapi.NewServer(d.scheduler,
		httpapi.WithLogger(d.logger),
		httpapi.WithAllowedOrigins(d.cfg.Server.AllowedOrigins),
	)
	return srv.ListenAndServe(ctx, addr)
}
