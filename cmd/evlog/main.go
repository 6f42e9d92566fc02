package main

import (
	"context"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/evlog/internal/cli"
	"github.com/julianstephens/evlog/internal/config"
	"github.com/julianstephens/evlog/internal/evlog"
	"github.com/julianstephens/evlog/internal/logger"
)

var (
	version = "evlog v0.1.0"
)

type LogOpts struct {
	Level  string `help:"Logging level (debug, info, warn, error)" envvar:"EVLOG_LOG_LEVEL"`
	Debug  bool   `help:"Enable debug logging (overrides --level)" envvar:"EVLOG_DEBUG"`
	Stream bool   `help:"Log to stdout/stderr in addition to file" envvar:"EVLOG_LOG_STREAM"`
}

type CLI struct {
	Send   cli.SendCmd   `cmd:"" help:"Append an event"`
	Events cli.EventsCmd `cmd:"" help:"Read a range of events"`
	Head   cli.HeadCmd   `cmd:"" help:"Print the server's head version"`
	Tail   cli.TailCmd   `cmd:"" help:"Follow the log until interrupted"`
	Config cli.ConfigCmd `cmd:"" help:"Manage the client profile"`

	Addr      string        `help:"Server address (default from profile)"  envvar:"EVLOG_ADDR"`
	Timeout   time.Duration `help:"Deadline for one-off commands"          envvar:"EVLOG_TIMEOUT" default:"10s"`
	ConfigDir string        `help:"Profile directory (default ~/.evlog)"   envvar:"EVLOG_CONFIG_DIR"`

	LogOpts LogOpts          `embed:"" prefix:"log-" help:"Logging options"`
	Version kong.VersionFlag `help:"Show version information" short:"V"`
}

func createLogger(opts LogOpts, p *config.Profile, configDir string) (logger.Logger, error) {
	level := p.LogLevel
	if opts.Level != "" {
		level = opts.Level
	}
	if opts.Debug {
		level = "debug"
	}

	maxSize := evlog.DefaultLogMaxSize
	if p.LogMaxSize != nil {
		maxSize = *p.LogMaxSize
	}
	maxBackups := evlog.DefaultLogMaxBackups
	if p.LogMaxBackups != nil {
		maxBackups = *p.LogMaxBackups
	}

	fileLogger, err := logger.NewFileLogger(logger.FileOptions{
		Dir:        path.Join(configDir, evlog.DefaultLogDir),
		FileName:   evlog.DefaultLogFileName,
		MaxSizeMB:  maxSize,
		MaxBackups: maxBackups,
		MaxAgeDays: evlog.DefaultLogMaxAgeDays,
		Level:      level,
	})
	if err != nil {
		return nil, err
	}
	if opts.Stream {
		return logger.NewMultiLogger(fileLogger, logger.NewConsoleLogger(level)), nil
	}
	return fileLogger, nil
}

func main() {
	cliApp := &CLI{}
	ctx := kong.Parse(cliApp,
		kong.Name("evlog"),
		kong.Description("A client for an append-only event log server"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)

	configDir := cliApp.ConfigDir
	if configDir == "" {
		dir, err := config.DefaultDir()
		ctx.FatalIfErrorf(err)
		configDir = dir
	}
	profile, err := config.LoadOrDefault(configDir)
	ctx.FatalIfErrorf(err)

	lg, err := createLogger(cliApp.LogOpts, profile, configDir)
	ctx.FatalIfErrorf(err)
	defer func() {
		if c, ok := lg.(logger.Closeable); ok {
			_ = c.Close()
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &cli.Env{
		Addr:      cliApp.Addr,
		Timeout:   cliApp.Timeout,
		ConfigDir: configDir,
		Profile:   profile,
		Logger:    lg,
	}
	ctx.BindTo(sigCtx, (*context.Context)(nil))
	err = ctx.Run(env)
	ctx.FatalIfErrorf(err)
}
