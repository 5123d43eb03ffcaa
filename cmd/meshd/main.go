package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"meshd/internal/capability"
	"meshd/internal/common/fsutil"
	"meshd/internal/config"
	"meshd/internal/facade"
	"meshd/internal/httpapi"
	"meshd/internal/logbridge"
	"meshd/internal/parallel"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "meshd:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "meshd",
		Short:         "Mesh adaptation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newCapabilitiesCmd(), newCPUsCmd())
	return root
}

type serveFlags struct {
	configPath string
	addr       string
	meshDir    string
	threads    int
	affinity   string
	logLevel   string
	logFormat  string
	requestLog string
	corsOrigin string
}

func newServeCmd() *cobra.Command {
	var fl serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Example: "  meshd serve --addr :8080 --mesh-dir ./meshes\n" +
			"  meshd serve --config meshd.yaml --threads 4 --affinity 0:0,1:2",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, fl)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	defaultAddr := config.DefaultAddr
	if v := os.Getenv("MESHD_ADDR"); v != "" {
		defaultAddr = v
	}
	f := cmd.Flags()
	f.StringVar(&fl.configPath, "config", os.Getenv("MESHD_CONFIG"), "Config file (.yaml, .json or .toml)")
	f.StringVar(&fl.addr, "addr", defaultAddr, "HTTP listen address, e.g. :8080")
	f.StringVar(&fl.meshDir, "mesh-dir", config.DefaultMeshDir, "Directory listed by /files")
	f.IntVar(&fl.threads, "threads", 0, "Worker threads (0 = all cores)")
	f.StringVar(&fl.affinity, "affinity", "", "Thread to core pinning, e.g. 0:0,1:2")
	f.StringVar(&fl.logLevel, "log-level", config.DefaultLogLevel, "Log level: trace|debug|info|warn|error")
	f.StringVar(&fl.logFormat, "log-format", config.DefaultLogFormat, "Log format: console|json")
	f.StringVar(&fl.requestLog, "request-log-level", "", "Per-request log level: off|error|info|debug (default from MESHD_REQUEST_LOG)")
	f.StringVar(&fl.corsOrigin, "cors-origins", "", "Comma-separated allowed CORS origins (enables CORS)")
	return cmd
}

// resolveConfig loads the config file and applies the flags the user set.
func resolveConfig(cmd *cobra.Command, fl serveFlags) (config.Config, error) {
	var cfg config.Config
	if fl.configPath != "" {
		c, err := config.Load(fl.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	changed := cmd.Flags().Changed
	if changed("addr") || cfg.Addr == "" {
		cfg.Addr = fl.addr
	}
	if changed("mesh-dir") || cfg.MeshDir == "" {
		cfg.MeshDir = fl.meshDir
	}
	if changed("threads") {
		cfg.Threads = fl.threads
	}
	if changed("affinity") {
		cfg.Affinity = fl.affinity
	}
	if changed("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = fl.logLevel
	}
	if changed("log-format") || cfg.LogFormat == "" {
		cfg.LogFormat = fl.logFormat
	}
	if changed("request-log-level") {
		cfg.RequestLog = fl.requestLog
	}
	if origins := splitCSV(fl.corsOrigin); len(origins) > 0 {
		cfg.CORSEnabled = true
		cfg.CORSOrigins = origins
	}
	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("log level: %w", err)
	}
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log, err := newLogger(cfg, logbridge.NonBlocking(os.Stderr, 4096))
	if err != nil {
		return err
	}
	defer func() { _ = logbridge.Shutdown() }()
	logbridge.Install(log.With().Str("component", "engine").Logger())

	meshDir := cfg.MeshDir
	if dir, err := fsutil.AbsDir(meshDir); err == nil {
		meshDir = dir
	} else {
		log.Warn().Err(err).Str("mesh_dir", cfg.MeshDir).Msg("mesh directory unavailable; /files will be empty")
		meshDir = ""
	}

	affinity, err := config.ParseAffinity(cfg.Affinity)
	if err != nil {
		return err
	}
	ctl := parallel.Default()
	ctl.SetLogger(log.With().Str("component", "pool").Logger())
	f := facade.New(facade.Config{Controller: ctl, Logger: log.With().Str("component", "facade").Logger()})
	rep, err := f.ConfigurePool(cfg.Threads, affinity)
	if err != nil {
		return err
	}

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	if cfg.RequestLog != "" {
		httpapi.SetRequestLogLevel(cfg.RequestLog)
	}
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetAdmission(cfg.MaxQueueDepth, time.Duration(cfg.MaxWaitMS)*time.Millisecond)
	if cfg.CORSEnabled {
		httpapi.SetCORSOptions(true, cfg.CORSOrigins,
			[]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			[]string{"Content-Type", "X-Log-Level"})
	}
	baseCtx, cancelBase := context.WithCancel(ctx)
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := httpapi.NewServer(f, meshDir)
	defer srv.Close()
	hs := &http.Server{Addr: cfg.Addr, Handler: srv.Routes(), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("mesh_dir", meshDir).
			Str("engine", f.Engine()).
			Int("threads", rep.Threads).
			Strs("capabilities", capability.Default().Available()).
			Msg("meshd listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	select {
	case err := <-errc:
		return err
	case <-stop:
	case <-ctx.Done():
	}

	cancelBase()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
		return err
	}
	log.Info().Msg("meshd stopped")
	return nil
}

func newCapabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "Print the native backends compiled into this binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			printCapabilities(cmd.OutOrStdout(), capability.Default().Flags())
			return nil
		},
	}
}

func printCapabilities(w io.Writer, flags map[string]bool) {
	names := make([]string, 0, len(flags))
	for n := range flags {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		mark := "no"
		if flags[n] {
			mark = "yes"
		}
		fmt.Fprintf(w, "%-8s %s\n", n, mark)
	}
}

func newCPUsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cpus",
		Short: "Print the number of cores usable by the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), parallel.AvailableCPUs())
			return nil
		},
	}
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
