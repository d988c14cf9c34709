package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/samaelod/pglink/config"
	"github.com/samaelod/pglink/metrics"
	"github.com/samaelod/pglink/transport"
	"github.com/samaelod/pglink/types"
)

// Options configures an Engine.
type Options struct {
	SocketPath     string
	ConnectTimeout time.Duration
	SchemaPath     string

	LogPath  string
	LogLines int
	LogLevel string
	// Log, when set, is used instead of a new Logger. The engine closes it.
	Log *Logger

	LogCapacity    int
	FrameRate      float64
	ProfileSeconds float64
	ProfileField   types.ResultField
	Display        DisplayInfo

	// PIDLookup finds the host process on Close. Nil skips the shutdown
	// request.
	PIDLookup transport.PIDLookup
	Metrics   *metrics.Metrics
}

// OptionsFromConfig maps a loaded config onto engine options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	field, err := cfg.Field()
	if err != nil {
		return Options{}, err
	}
	return Options{
		SocketPath:     cfg.SocketPath,
		ConnectTimeout: cfg.ConnectTimeout(),
		SchemaPath:     cfg.SchemaPath,
		LogPath:        cfg.LogFile(),
		LogLines:       cfg.LogLines,
		LogLevel:       cfg.LogLevel,
		FrameRate:      cfg.FrameRate,
		ProfileSeconds: cfg.ProfileSeconds,
		ProfileField:   field,
		PIDLookup:      transport.HostPID(cfg.HostProcess),
	}, nil
}

// Engine ties a host connection to the recorder, batch controller and
// profiler that share it. Engine methods serialize access to the channel and
// may be called from any goroutine; the exported components themselves may
// not, so callers sharing an engine go through its methods.
type Engine struct {
	Channel  *Channel
	Recorder *Recorder
	Batch    *Batch
	Profiler *Profiler
	Log      *Logger
	Screen   types.Screen

	mu      sync.Mutex
	Running bool

	ctxMu  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	zl         zerolog.Logger
	lookupPID  transport.PIDLookup
	schemaPath string
}

// New builds an engine around an open channel.
func New(ch *Channel, opts Options) *Engine {
	log := opts.Log
	if log == nil {
		log = NewLogger(opts.LogPath, opts.LogLines)
	}
	zl := log.Zerolog(opts.LogLevel)

	display := opts.Display
	if display == nil {
		display = StaticDisplay{Rate: opts.FrameRate}
	}
	prof := NewProfiler(display, ProfilerOptions{
		Field:         opts.ProfileField,
		BufferSeconds: opts.ProfileSeconds,
	}, zl, opts.Metrics)

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		Channel:    ch,
		Recorder:   NewRecorder(ch, opts.LogCapacity, zl),
		Batch:      NewBatch(ch, prof, zl, opts.Metrics),
		Profiler:   prof,
		Log:        log,
		ctx:        ctx,
		cancel:     cancel,
		zl:         zl,
		lookupPID:  opts.PIDLookup,
		schemaPath: opts.SchemaPath,
	}
}

// Open connects to the host and loads its command schema.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Log == nil {
		opts.Log = NewLogger(opts.LogPath, opts.LogLines)
	}
	zl := opts.Log.Zerolog(opts.LogLevel)

	ch, err := OpenChannel(ctx, opts.SocketPath, opts.ConnectTimeout, opts.SchemaPath, zl, opts.Metrics)
	if err != nil {
		opts.Log.Close()
		return nil, err
	}
	return New(ch, opts), nil
}

// Logger returns the engine's structured logger.
func (e *Engine) Logger() zerolog.Logger {
	if e == nil {
		return zerolog.Nop()
	}
	return e.zl
}

func (e *Engine) IsOpen() bool {
	return e != nil && e.Channel.IsOpen()
}

func (e *Engine) runCtx() context.Context {
	e.ctxMu.Lock()
	defer e.ctxMu.Unlock()
	return e.ctx
}

// Stop cancels a replay in progress. The engine stays usable.
func (e *Engine) Stop() {
	if e == nil {
		return
	}
	e.ctxMu.Lock()
	e.cancel()
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.ctxMu.Unlock()
}

// RefreshScreen asks the host for its window frame and stores it for new
// profile sessions.
func (e *Engine) RefreshScreen() (types.Screen, error) {
	if !e.IsOpen() {
		return types.Screen{}, ErrNotConnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.Channel.WindowFrame()
	if err != nil {
		e.zl.Warn().Err(err).Msg("window frame unavailable")
		return types.Screen{}, err
	}
	e.Screen = s
	e.Profiler.SetScreen(s)
	return s, nil
}

func (e *Engine) Ping() (types.CommandResult, error) {
	if !e.IsOpen() {
		return types.CommandResult{}, ErrNotConnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Channel.Ping()
}

// Flush presents the current frame and hands the result to the profiler.
func (e *Engine) Flush() (types.CommandResult, error) {
	if !e.IsOpen() {
		return types.CommandResult{}, ErrNotConnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.Channel.WriteCommand(types.CmdFlush); err != nil {
		return types.CommandResult{}, err
	}
	res, err := e.Channel.ReadResult()
	if err != nil {
		return types.CommandResult{}, err
	}
	e.Profiler.RecordFlush(res)
	return res, nil
}

// SetProfileMode turns interactive profiling on or off.
func (e *Engine) SetProfileMode(m types.ProfileMode) error {
	if e == nil {
		return ErrNotConnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Profiler.SetMode(m)
}

// BatchStart puts the host into batch mode. Commands sent through the engine
// until BatchRun are queued by the host.
func (e *Engine) BatchStart() error {
	if e == nil {
		return ErrNotConnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Batch.Start()
}

func (e *Engine) BatchRun() error {
	if e == nil {
		return ErrNotConnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Batch.Run()
}

// BatchEnd blocks until the host finishes the batch and returns its profile.
func (e *Engine) BatchEnd() (types.ProfileSession, error) {
	if e == nil {
		return types.ProfileSession{}, ErrNotConnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Batch.End()
}

// StartRecording discards the current command log and starts a new one.
func (e *Engine) StartRecording() error {
	if e == nil {
		return ErrNotConnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Recorder.Start()
	return nil
}

// StopRecording ends recording and returns the number of captured commands.
func (e *Engine) StopRecording() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Recorder.Stop()
}

// LoadRecording installs a command log read from a file.
func (e *Engine) LoadRecording(entries []types.LogEntry, names []string) error {
	if e == nil {
		return ErrNotConnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Recorder.Load(entries, names)
}

// Recorded returns the current command log in its saved form.
func (e *Engine) Recorded() *types.Recording {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := types.NewRecording(e.Recorder.ID(), e.Recorder.Log().Entries(), e.Recorder.Names())
	if e.Channel.IsOpen() {
		rec.Socket = e.Channel.Conn().Addr()
	}
	rec.Schema = e.schemaPath
	return rec
}

// Profiles returns the saved profile sessions, oldest first.
func (e *Engine) Profiles() []types.ProfileSession {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Profiler.History()
}

// Replay sends the recorded commands again. Flush results feed an active
// profiler. Stop or ctx cancel it between commands.
func (e *Engine) Replay(ctx context.Context, frameGrab bool) ([]types.Frame, error) {
	if !e.IsOpen() {
		return nil, ErrNotConnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	run := e.runCtx()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(run, cancel)
	defer stop()

	e.Running = true
	defer func() { e.Running = false }()

	flushCode, hasFlush := e.Channel.Dictionary().Code(types.CmdFlush)
	return e.Recorder.Replay(ctx, ReplayOptions{
		FrameGrab: frameGrab,
		OnResult: func(entry types.LogEntry, res types.CommandResult) {
			if hasFlush && entry.Code == flushCode {
				e.Profiler.RecordFlush(res)
			}
		},
	})
}

// Close saves an open profile session, asks the host to exit and closes the
// connection and the log.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()

	if m := e.Profiler.Mode(); m == types.ProfileDropped || m == types.ProfileDetailed {
		e.Profiler.SetMode(types.ProfileOff)
	}

	var errs []error
	if e.Channel.IsOpen() && e.lookupPID != nil {
		if err := e.signalHost(); err != nil {
			e.zl.Warn().Err(err).Msg("could not stop host")
		}
	}
	if err := e.Channel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	e.Log.Close()
	return errors.Join(errs...)
}

func (e *Engine) signalHost() error {
	addr := e.Channel.Conn().Addr()
	pid, err := e.lookupPID(addr)
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	e.zl.Info().Int("pid", pid).Msg("stopping host")
	return proc.Signal(syscall.SIGTERM)
}
