package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/julianstephens/go-utils/cliutil"
	"github.com/julianstephens/go-utils/generic"
	"github.com/julianstephens/go-utils/jsonutil"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/julianstephens/evlog/internal/config"
	"github.com/julianstephens/evlog/internal/evlog"
	"github.com/julianstephens/evlog/internal/evlog/metrics"
	"github.com/julianstephens/evlog/internal/evlog/wire"
)

// SendCmd appends one event.
type SendCmd struct {
	Data   string   `arg:"" help:"Event payload"`
	Target uint32   `       help:"Reject the append if a key changed after this version" default:"0"`
	Key    []string `       help:"Conflict key (repeatable)"`
}

func (c *SendCmd) Run(ctx context.Context, env *Env) error {
	ctx, cancel, cl, err := env.open(ctx, env.clientOptions())
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("connect to %s: %v", env.addr(), err))
		return err
	}
	defer cancel()
	defer cl.Close() //nolint:errcheck

	v, err := cl.Send(ctx, []byte(c.Data), evlog.SendOptions{TargetVersion: c.Target, ConflictKeys: c.Key})
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("send: %v", err))
		return err
	}
	_, err = fmt.Fprintln(env.out(), v)
	return err
}

// EventsCmd reads a closed or open-ended version range.
type EventsCmd struct {
	From     int64  `arg:"" help:"First version to read"`
	To       int64  `arg:"" help:"Exclusive upper version, -1 for everything available" optional:"" default:"-1"`
	MaxBytes uint32 `       help:"Byte cap per underlying request (0 uses the profile)"`
	JSON     bool   `       help:"Print the result as JSON"`
}

func (c *EventsCmd) Run(ctx context.Context, env *Env) error {
	ctx, cancel, cl, err := env.open(ctx, env.clientOptions())
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("connect to %s: %v", env.addr(), err))
		return err
	}
	defer cancel()
	defer cl.Close() //nolint:errcheck

	maxBytes := generic.If(c.MaxBytes != 0, c.MaxBytes, env.profile().MaxBytes)
	res, err := cl.GetEvents(ctx, c.From, c.To, evlog.RangeOptions{MaxBytes: evlog.Bytes(maxBytes)})
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("events: %v", err))
		return err
	}
	if c.JSON {
		return writeJSON(env.out(), res)
	}
	return writeEvents(env.out(), res.Events)
}

// HeadCmd prints the server's current head version.
type HeadCmd struct{}

func (c *HeadCmd) Run(ctx context.Context, env *Env) error {
	ctx, cancel, cl, err := env.open(ctx, env.clientOptions())
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("connect to %s: %v", env.addr(), err))
		return err
	}
	defer cancel()
	defer cl.Close() //nolint:errcheck

	v, err := cl.GetVersion(ctx)
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("head: %v", err))
		return err
	}
	_, err = fmt.Fprintln(env.out(), v)
	return err
}

// TailCmd follows the log until interrupted, reconnecting as needed.
type TailCmd struct {
	From        int64  `help:"Version to start from" default:"0"`
	MetricsAddr string `help:"Serve Prometheus metrics on this address while tailing"`
}

func (c *TailCmd) Run(ctx context.Context, env *Env) error {
	out := env.out()
	events := make(chan []wire.Event, 64)

	opts := env.clientOptions()
	opts.OnEvents = func(evs []wire.Event, _ uint32) {
		select {
		case events <- evs:
		case <-ctx.Done():
		}
	}
	opts.OnFatal = func(err error) {
		cliutil.PrintError(fmt.Sprintf("tail: %v", err))
	}

	if c.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		ms, err := startMetricsServer(c.MetricsAddr, reg)
		if err != nil {
			cliutil.PrintError(fmt.Sprintf("metrics: %v", err))
			return err
		}
		defer ms.Close() //nolint:errcheck
		opts.Metrics = metrics.New(metrics.Config{
			Registry:    reg,
			ConstLabels: prometheus.Labels{"addr": env.addr()},
		})
	}

	// Tail runs until ctx ends, so only the connect step is bounded.
	_, cancel, cl, err := env.open(ctx, opts)
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("connect to %s: %v", env.addr(), err))
		return err
	}
	cancel()
	defer cl.Close() //nolint:errcheck

	// Catch-up responses and live pushes both arrive through OnEvents.
	cl.Subscribe(c.From, evlog.SubscribeOptions{}, nil)

	for {
		select {
		case evs := <-events:
			if err := writeEvents(out, evs); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// ConfigCmd groups the profile subcommands.
type ConfigCmd struct {
	Init ConfigInitCmd `cmd:"" help:"Write a default profile"`
	Show ConfigShowCmd `cmd:"" help:"Print the effective profile"`
}

type ConfigInitCmd struct{}

func (c *ConfigInitCmd) Run(env *Env) error {
	p, err := config.Create(env.ConfigDir)
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("config init: %v", err))
		return err
	}
	_, err = fmt.Fprintf(env.out(), "wrote %s (addr %s)\n", config.Path(env.ConfigDir), p.Addr)
	return err
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(env *Env) error {
	return writeJSON(env.out(), env.profile())
}

func writeEvents(w io.Writer, events []wire.Event) error {
	for _, ev := range events {
		if _, err := fmt.Fprintf(w, "%d\t%d\t%s\n", ev.Version, ev.BatchSize, ev.Data); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := jsonutil.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
