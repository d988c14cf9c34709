package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/samaelod/pglink/analysis"
	"github.com/samaelod/pglink/config"
	"github.com/samaelod/pglink/engine"
	"github.com/samaelod/pglink/lua"
	"github.com/samaelod/pglink/metrics"
	"github.com/samaelod/pglink/pcapio"
	"github.com/samaelod/pglink/schema"
	"github.com/samaelod/pglink/tui"
	"github.com/samaelod/pglink/types"
)

func NewRootCommand(version string) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "pglink",
		Short: "Record, replay and profile commands sent to an mgl rendering host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			m := metrics.New()
			stop := serveMetrics(cfg.MetricsAddr, m)
			defer stop()
			return tui.Run(version, cfg, m)
		},
	}

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default pglink.json, .pglink.json or ~/.config/pglink/config.json)")
	rootCmd.AddCommand(
		newSchemaCmd(),
		newPingCmd(&configPath),
		newReplayCmd(&configPath),
		newConvertCmd(),
		newVersionCmd(version),
	)

	return rootCmd
}

// serveMetrics exposes m on addr until the returned func is called. An
// empty addr serves nothing.
func serveMetrics(addr string, m *metrics.Metrics) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "schema <file>",
		Aliases: []string{"sc"},
		Short:   "List the command codes declared in a host header",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dict, err := schema.Load(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "CODE\tNAME")
			for _, c := range dict.Commands() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", c.Code, c.Name)
			}
			return nil
		},
	}
}

// openEngine connects using the config at path. The host is asked to exit on
// close only when stopHost is set.
func openEngine(ctx context.Context, path string, stopHost bool) (*engine.Engine, *config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if !stopHost {
		opts.PIDLookup = nil
	}

	e, err := engine.Open(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", cfg.SocketPath, err)
	}
	return e, cfg, nil
}

func newPingCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the host answers commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, cfg, err := openEngine(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer e.Close()

			start := time.Now()
			res, err := e.Ping()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: success=%d round trip %s\n", cfg.SocketPath, res.Success, time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
}

func newReplayCmd(configPath *string) *cobra.Command {
	var (
		frameGrab bool
		profile   string
		stopHost  bool
		width     int
	)

	cmd := &cobra.Command{
		Use:     "replay <recording>",
		Aliases: []string{"r"},
		Short:   "Send a recorded command stream to the host again",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := parseProfileMode(profile)
			if err != nil {
				return err
			}
			rec, err := readRecording(args[0])
			if err != nil {
				return fmt.Errorf("read recording: %w", err)
			}
			entries, names, err := rec.Log()
			if err != nil {
				return fmt.Errorf("read recording: %w", err)
			}

			e, _, err := openEngine(cmd.Context(), *configPath, stopHost)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.LoadRecording(entries, names); err != nil {
				return err
			}
			if mode.Active() {
				e.RefreshScreen()
				if err := e.SetProfileMode(mode); err != nil {
					return fmt.Errorf("profile: %w", err)
				}
			}

			frames, err := e.Replay(cmd.Context(), frameGrab)
			if err != nil {
				if errors.Is(err, engine.ErrSchemaDrift) {
					return fmt.Errorf("%s was recorded against a different schema: %w", args[0], err)
				}
				return fmt.Errorf("replay: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Replayed %d commands\n", len(entries))
			if frameGrab {
				fmt.Fprintf(out, "Grabbed %d frames\n", len(frames))
			}
			if mode.Active() {
				if err := e.SetProfileMode(types.ProfileOff); err != nil {
					return fmt.Errorf("profile: %w", err)
				}
				if s, ok := e.Profiler.Last(); ok {
					fmt.Fprintln(out)
					fmt.Fprint(out, analysis.Render(analysis.Analyze(s), width))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&frameGrab, "frame-grab", "g", false, "Render off-screen and read back a frame after every flush")
	cmd.Flags().StringVarP(&profile, "profile", "p", "off", "Profile the replay: off|dropped|detailed")
	cmd.Flags().BoolVar(&stopHost, "stop-host", false, "Ask the host process to exit when done")
	cmd.Flags().IntVarP(&width, "width", "w", 80, "Width of the profile report")
	return cmd
}

func newConvertCmd() *cobra.Command {
	var schemaPath string

	cmd := &cobra.Command{
		Use:     "convert <in> <out>",
		Aliases: []string{"cv"},
		Short:   "Convert a recording between Lua and pcap/pcapng",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := readRecording(args[0])
			if err != nil {
				return fmt.Errorf("read recording: %w", err)
			}

			if schemaPath != "" {
				dict, err := schema.Load(schemaPath)
				if err != nil {
					return err
				}
				rec.Schema = schemaPath
				for i := range rec.Commands {
					if rec.Commands[i].Name == "" {
						rec.Commands[i].Name = dict.NameOr(uint16(rec.Commands[i].Code))
					}
				}
			}

			if err := writeRecording(args[1], rec); err != nil {
				return fmt.Errorf("write recording: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d commands to %s\n", len(rec.Commands), args[1])
			return nil
		},
	}

	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "Host header used to name unnamed commands")
	return cmd
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Print pglink build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pglink %s\n", version)
		},
	}
}

func isLua(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".lua")
}

// readRecording loads a Lua recording or a capture, chosen by extension.
func readRecording(path string) (*types.Recording, error) {
	if isLua(path) {
		return lua.ReadRecording(path)
	}
	entries, err := pcapio.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return types.NewRecording(name, entries, nil), nil
}

func writeRecording(path string, rec *types.Recording) error {
	if !isLua(path) {
		entries, _, err := rec.Log()
		if err != nil {
			return err
		}
		return pcapio.WriteFile(path, entries)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := lua.WriteRecording(f, rec); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func parseProfileMode(s string) (types.ProfileMode, error) {
	switch strings.ToLower(s) {
	case "", "off":
		return types.ProfileOff, nil
	case "dropped", "dropped-frames":
		return types.ProfileDropped, nil
	case "detailed":
		return types.ProfileDetailed, nil
	}
	return types.ProfileOff, fmt.Errorf("unknown profile mode %q (want off, dropped or detailed)", s)
}
