package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skosovsky/toolserve"
	"github.com/skosovsky/toolserve/config"
	"github.com/skosovsky/toolserve/format"
	"github.com/skosovsky/toolserve/internal/demo"
	"github.com/skosovsky/toolserve/internal/logger"
	"github.com/skosovsky/toolserve/server"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "toolserve",
		Short:        "toolserve - tool execution server for LLM agents",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newToolsCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (and the durable worker when enabled)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ./toolserve.yaml if present)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	reg, err := demo.Registry()
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	app, err := server.NewApp(cfg, reg, log, server.WithVersion(version))
	if err != nil {
		return err
	}
	if err := app.Run(ctx); err != nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}

func newToolsCmd() *cobra.Command {
	var (
		profile string
		fmtName string
		strict  bool
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool descriptors as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := demo.Registry()
			if err != nil {
				return err
			}
			eng := toolserve.NewEngine(reg)
			defer func() { _ = eng.Shutdown(context.Background()) }()
			return printTools(cmd.OutOrStdout(), eng.Describe(profile), fmtName, strict)
		},
	}
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "only list tools tagged with this profile")
	cmd.Flags().StringVarP(&fmtName, "format", "f", "", "vendor format: "+fmt.Sprint(format.Names()))
	cmd.Flags().BoolVar(&strict, "strict", false, "emit OpenAI strict-mode schemas")
	return cmd
}

func printTools(w io.Writer, infos []toolserve.ToolInfo, fmtName string, strict bool) error {
	var out any
	switch fmtName {
	case "":
		out = infos
	case format.NameOpenAI:
		out = format.OpenAI(infos, strict)
	case format.NameElevenLabs:
		out = format.ElevenLabs(infos, format.DefaultElevenLabsToolType)
	default:
		return fmt.Errorf("unsupported format %q, supported: %v", fmtName, format.Names())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "toolserve", version)
		},
	}
}
