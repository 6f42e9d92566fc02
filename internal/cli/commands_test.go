package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	tst "github.com/julianstephens/go-utils/tests"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/julianstephens/evlog/internal/config"
	"github.com/julianstephens/evlog/internal/evlog"
	"github.com/julianstephens/evlog/internal/testutil"
)

// syncBuffer lets a command goroutine write while the test polls.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newEnv(t *testing.T, addr string) (*Env, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	p := config.DefaultProfile()
	p.RetryDelayMs = 20
	return &Env{
		Addr:      addr,
		Timeout:   testutil.WaitTimeout,
		ConfigDir: t.TempDir(),
		Profile:   p,
		Out:       out,
	}, out
}

func TestSendThenEvents(t *testing.T) {
	srv := testutil.NewServer(t)
	env, out := newEnv(t, srv.Addr())
	ctx := context.Background()

	tst.RequireNoError(t, (&SendCmd{Data: "hello"}).Run(ctx, env))
	tst.RequireNoError(t, (&SendCmd{Data: "world", Key: []string{"k"}}).Run(ctx, env))
	assert.Equal(t, "1\n2\n", out.String())

	env2, out2 := newEnv(t, srv.Addr())
	tst.RequireNoError(t, (&EventsCmd{From: 0, To: -1}).Run(ctx, env2))
	assert.Equal(t, "0\t1\thello\n1\t1\tworld\n", out2.String())
}

func TestSendConflictFails(t *testing.T) {
	srv := testutil.NewServer(t)
	env, _ := newEnv(t, srv.Addr())
	ctx := context.Background()

	tst.RequireNoError(t, (&SendCmd{Data: "a", Key: []string{"k"}}).Run(ctx, env))
	tst.RequireNoError(t, (&SendCmd{Data: "b", Key: []string{"k"}}).Run(ctx, env))

	err := (&SendCmd{Data: "c", Target: 1, Key: []string{"k"}}).Run(ctx, env)
	tst.AssertTrue(t, err != nil, "expected a conflict error")
}

func TestEventsJSONRespectsRange(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Seed(1, 1, 1, 1)
	env, out := newEnv(t, srv.Addr())

	cmd := &EventsCmd{From: 1, To: 3, MaxBytes: 32, JSON: true}
	tst.RequireNoError(t, cmd.Run(context.Background(), env))

	var res evlog.Result
	tst.RequireNoError(t, json.Unmarshal([]byte(out.String()), &res))
	assert.Equal(t, 2, len(res.Events))
	assert.Equal(t, uint32(1), res.Events[0].Version)
	assert.Equal(t, uint32(3), res.VEnd)
}

func TestHeadPrintsVersion(t *testing.T) {
	srv := testutil.NewServer(t)
	env, out := newEnv(t, srv.Addr())

	tst.RequireNoError(t, (&HeadCmd{}).Run(context.Background(), env))
	srv.Seed(1, 3)
	tst.RequireNoError(t, (&HeadCmd{}).Run(context.Background(), env))
	assert.Equal(t, "-1\n3\n", out.String())
}

func TestTailFollowsUntilCancelled(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Seed(1)
	env, out := newEnv(t, srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- (&TailCmd{From: 0}).Run(ctx, env) }()

	testutil.Eventually(t, func() bool { return strings.Contains(out.String(), "0\t1\t") }, "catch-up event")

	sender, _ := newEnv(t, srv.Addr())
	tst.RequireNoError(t, (&SendCmd{Data: "live"}).Run(context.Background(), sender))
	testutil.Eventually(t, func() bool { return strings.Contains(out.String(), "1\t1\tlive") }, "live event")

	cancel()
	tst.RequireNoError(t, testutil.Receive(t, errc, "tail exit"))
}

func scrape(url string) string {
	resp, err := http.Get(url) //nolint:gosec,noctx
	if err != nil {
		return ""
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return ""
	}
	return string(body)
}

func TestMetricsServerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "evlog_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	ms, err := startMetricsServer("127.0.0.1:0", reg)
	tst.RequireNoError(t, err)

	body := scrape("http://" + ms.Addr() + "/metrics")
	tst.AssertTrue(t, strings.Contains(body, "evlog_test_total 3"), "counter is exposed")

	tst.RequireNoError(t, ms.Close())
	_, err = http.Get("http://" + ms.Addr() + "/metrics") //nolint:gosec,noctx
	tst.AssertTrue(t, err != nil, "server stops after Close")
}

func TestTailServesClientMetrics(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Seed(1, 1)
	env, out := newEnv(t, srv.Addr())
	metricsAddr := testutil.DeadAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- (&TailCmd{From: 0, MetricsAddr: metricsAddr}).Run(ctx, env) }()

	testutil.Eventually(t, func() bool { return strings.Contains(out.String(), "1\t1\t") }, "catch-up events")

	url := "http://" + metricsAddr + "/metrics"
	var body string
	testutil.Eventually(t, func() bool {
		body = scrape(url)
		return strings.Contains(body, "evlog_client_events_received_total")
	}, "metrics endpoint")
	tst.AssertTrue(t, strings.Contains(body, `evlog_client_dials_total{addr="`+srv.Addr()+`",result="ok"} 1`), "dial is counted")
	tst.AssertTrue(t, strings.Contains(body, `evlog_client_events_received_total{addr="`+srv.Addr()+`"} 2`), "events are counted")

	cancel()
	tst.RequireNoError(t, testutil.Receive(t, errc, "tail exit"))
	tst.AssertEqual(t, scrape(url), "", "endpoint closes with the tail")
}

func TestConnectFailureRespectsTimeout(t *testing.T) {
	env, _ := newEnv(t, testutil.DeadAddr(t))
	env.Timeout = 100 * time.Millisecond

	err := (&HeadCmd{}).Run(context.Background(), env)
	tst.AssertTrue(t, err != nil, "expected connect error")
}

func TestConfigInitAndShow(t *testing.T) {
	env, out := newEnv(t, "")

	tst.RequireNoError(t, (&ConfigInitCmd{}).Run(env))
	tst.AssertTrue(t, strings.Contains(out.String(), config.Path(env.ConfigDir)), "init reports the path")

	err := (&ConfigInitCmd{}).Run(env)
	tst.AssertTrue(t, errors.Is(err, config.ErrConfigAlreadyExists), "second init fails")

	loaded, err := config.Load(env.ConfigDir)
	tst.RequireNoError(t, err)
	env.Profile = loaded
	show := &syncBuffer{}
	env.Out = show
	tst.RequireNoError(t, (&ConfigShowCmd{}).Run(env))

	var p config.Profile
	tst.RequireNoError(t, json.Unmarshal([]byte(show.String()), &p))
	tst.RequireDeepEqual(t, *loaded, p)
}

func TestEnvFallsBackToProfile(t *testing.T) {
	env := &Env{}
	assert.Equal(t, evlog.DefaultAddr, env.addr())
	assert.Equal(t, evlog.DefaultRetryDelay, env.clientOptions().RetryDelay)
}
