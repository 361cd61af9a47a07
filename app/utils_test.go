package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"

	actx "go.hackfix.me/graft/app/context"
	"go.hackfix.me/graft/db"
)

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type testApp struct {
	*App
	stdout, stderr *safeBuffer
	env            *mockEnv
	clock          *clock.Mock
	db             *db.DB
}

func newTestApp(ctx context.Context, extraOpts ...Option) (*testApp, error) {
	// A unique name per app, to avoid clashing of in-memory SQLite DBs.
	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	if err != nil {
		return nil, err
	}

	clk := clock.NewMock()
	clk.Set(timeNow)

	// Not using just :memory: to avoid 'no such table' issue.
	// See https://github.com/mattn/go-sqlite3#faq
	d, err := db.Open(ctx,
		fmt.Sprintf("file:graft-%x?mode=memory&cache=shared", rndName), clk.Now)
	if err != nil {
		return nil, err
	}

	fs := memoryfs.New()
	err = vfs.WriteFile(fs, "/config.json",
		[]byte(`{"migrations": {"dir": "/migrations"}}`), 0o644)
	if err != nil {
		return nil, err
	}

	var (
		stdinR, _        = io.Pipe()
		stdoutW, stderrW = newSafeBuffer(), newSafeBuffer()
	)

	env := &mockEnv{env: map[string]string{}}
	opts := []Option{
		WithClock(clk),
		WithEnv(env),
		WithDB(d),
		WithContext(ctx),
		WithFDs(stdinR, stdoutW, stderrW),
		WithFS(fs),
		WithLogger(false, false),
	}
	opts = append(opts, extraOpts...)
	app, err := New("graft", "/config.json", "/data", opts...)
	if err != nil {
		return nil, err
	}

	return &testApp{
		App: app, stdout: stdoutW, stderr: stderrW,
		env: env, clock: clk, db: d,
	}, nil
}

// Run runs the app with the given arguments. The output of previous runs is
// discarded.
func (ta *testApp) Run(args ...string) error {
	ta.stdout.Reset()
	ta.stderr.Reset()

	return ta.App.Run(args)
}

func (ta *testApp) writeFile(t *testing.T, path, data string) {
	t.Helper()

	if err := vfs.WriteFile(ta.ctx.FS, path, []byte(data), 0o644); err != nil {
		t.Fatalf("failed writing %s: %v", path, err)
	}
}

type mockEnv struct {
	mx  sync.RWMutex
	env map[string]string
}

var _ actx.Environment = (*mockEnv)(nil)

func (me *mockEnv) Lookup(key string) (string, bool) {
	me.mx.RLock()
	defer me.mx.RUnlock()
	val, ok := me.env[key]
	return val, ok
}

func (me *mockEnv) Set(key, val string) error {
	me.mx.Lock()
	defer me.mx.Unlock()
	me.env[key] = val
	return nil
}

// newTestContext returns a context that times out after timeout, and an
// assertion handling function that cancels the context prematurely and fails
// the test if the assertion fails. This is done to avoid waiting for the
// context timeout to be reached.
func newTestContext(t *testing.T, timeout time.Duration) (
	ctx context.Context, cancelCtx func(), assertHandler func(bool),
) {
	ctx, cancelCtx = context.WithTimeout(t.Context(), timeout)
	assertHandler = func(success bool) {
		if !success {
			cancelCtx()
			t.FailNow()
		}
	}

	return
}

// safeBuffer is a thread-safe buffer.
type safeBuffer struct {
	mx  sync.RWMutex
	buf *bytes.Buffer
}

func newSafeBuffer() *safeBuffer {
	return &safeBuffer{buf: &bytes.Buffer{}}
}

func (b *safeBuffer) Write(p []byte) (n int, err error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Reset() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.buf.Reset()
}

func (b *safeBuffer) String() string {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.buf.String()
}
