package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/julianstephens/evlog/internal/config"
	"github.com/julianstephens/evlog/internal/evlog/client"
	"github.com/julianstephens/evlog/internal/logger"
)

// Env is bound into every command's Run method.
type Env struct {
	Addr      string
	Timeout   time.Duration
	ConfigDir string
	Profile   *config.Profile
	Logger    logger.Logger
	Out       io.Writer
}

func (e *Env) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

func (e *Env) profile() *config.Profile {
	if e.Profile == nil {
		return config.DefaultProfile()
	}
	return e.Profile
}

func (e *Env) addr() string {
	if e.Addr != "" {
		return e.Addr
	}
	return e.profile().Addr
}

func (e *Env) clientOptions() client.Options {
	p := e.profile()
	return client.Options{
		RetryDelay:      p.RetryDelay(),
		VerifyChecksums: p.VerifyChecksums,
	}
}

// open connects and returns a context bounded by the command timeout.
func (e *Env) open(parent context.Context, opts client.Options) (context.Context, context.CancelFunc, *client.Client, error) {
	ctx, cancel := parent, context.CancelFunc(func() {})
	if e.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, e.Timeout)
	}
	c, err := client.Open(ctx, e.addr(), opts, e.Logger)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, cancel, c, nil
}
