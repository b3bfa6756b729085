package bench

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestSuccess(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	b := New(ctx, cancel)
	b.Concurrency = 3
	b.Rounds = 2
	b.SetKeys([]string{"dev-1", "dev-2", "dev-3"})

	op := new(LoggingOp)
	b.SetOperationFactory(op.NewSuccess)

	s, err := b.Start(ctx)
	must(t, err)
	b.Exit()

	if s.Total != 6 || s.Success != 6 || s.Failed != 0 {
		t.Fatalf("unexpected totals: %+v", s)
	}
	op.mustLen(t, 6)
	op.mustCount(t, "dev-1", 2)
	op.mustCount(t, "dev-2", 2)
	op.mustCount(t, "dev-3", 2)
}

func TestFail(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	b := New(ctx, cancel)
	b.Rounds = 2
	b.SetKeys([]string{"dev-1", "dev-2"})

	op := new(LoggingOp)
	b.SetOperationFactory(op.NewFail)

	s, err := b.Start(ctx)
	must(t, err)
	b.Exit()

	if s.Total != 4 || s.Success != 0 || s.Failed != 4 {
		t.Fatalf("unexpected totals: %+v", s)
	}
	if len(s.Errors) != 4 {
		t.Fatalf("expected 4 retained errors, got %d", len(s.Errors))
	}
	if s.Errors[0].Status != 500 || s.Errors[0].Detail != "boom" {
		t.Fatalf("unexpected error sample: %+v", s.Errors[0])
	}
}

func TestShards(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	b := New(ctx, cancel)
	b.Concurrency = 2
	b.Shards = 3
	b.Rounds = 1
	b.SetKeys([]string{"dev-1", "dev-2", "dev-3", "dev-4"})

	op := new(LoggingOp)
	b.SetOperationFactory(op.NewSuccess)

	s, err := b.Start(ctx)
	must(t, err)
	b.Exit()

	if s.Total != 4 {
		t.Fatalf("unexpected totals: %+v", s)
	}
	op.mustShards(t, 3)
}

func TestFactoryError(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	b := New(ctx, cancel)
	b.SetKeys([]string{"dev-1"})
	b.SetOperationFactory(func(shard int) (Operation, error) {
		return nil, errors.New("no client")
	})

	_, err := b.Start(ctx)
	b.Exit()

	if err == nil {
		t.Fatal("expected the factory error to abort the run")
	}
	if !strings.Contains(err.Error(), "no client") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeout(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	b := New(ctx, cancel)
	b.Concurrency = 1
	b.Rounds = 1
	b.SetTimeout(20 * time.Millisecond)
	b.SetKeys([]string{"dev-1"})

	op := new(LoggingOp)
	b.SetOperationFactory(op.NewHang(time.Second))

	s, err := b.Start(ctx)
	must(t, err)
	b.Exit()

	if s.Total != 1 || s.Failed != 1 {
		t.Fatalf("unexpected totals: %+v", s)
	}
	if s.Errors[0].Detail != "cancelled" {
		t.Fatalf("unexpected detail: %q", s.Errors[0].Detail)
	}
}

func TestOverrun(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	b := New(ctx, cancel)
	b.Concurrency = 1
	b.Rounds = 1
	b.softTimeout = 10 * time.Millisecond
	b.hardTimeout = 50 * time.Millisecond
	b.SetKeys([]string{"dev-1"})

	op := new(LoggingOp)
	b.SetOperationFactory(op.NewStubborn(300 * time.Millisecond))

	s, err := b.Start(ctx)
	must(t, err)
	b.Exit()

	if s.Total != 1 || s.Failed != 1 {
		t.Fatalf("unexpected totals: %+v", s)
	}
	if !strings.Contains(s.Errors[0].Detail, "abandoned") {
		t.Fatalf("unexpected detail: %q", s.Errors[0].Detail)
	}
}

func TestCancel(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	b := New(ctx, cancel)
	b.Concurrency = 2
	b.Rounds = 100
	b.SetTimeout(5 * time.Second)
	b.SetKeys([]string{"dev-1", "dev-2"})

	op := new(LoggingOp)
	b.SetOperationFactory(op.NewHang(10 * time.Millisecond))

	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	s, err := b.Start(ctx)
	must(t, err)
	b.Exit()

	if s.Total == 0 {
		t.Fatal("expected at least one outcome before cancellation")
	}
	if s.Total == 200 {
		t.Fatal("expected cancellation to stop the run early")
	}
}

func TestInterval(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	b := New(ctx, cancel)
	b.Concurrency = 2
	b.Rounds = 3
	b.Interval = 50 * time.Millisecond
	b.SetKeys([]string{"dev-1"})

	op := new(LoggingOp)
	b.SetOperationFactory(op.NewSuccess)

	started := time.Now()
	s, err := b.Start(ctx)
	must(t, err)
	b.Exit()

	if s.Total != 3 {
		t.Fatalf("unexpected totals: %+v", s)
	}
	if elapsed := time.Since(started); elapsed < 80*time.Millisecond {
		t.Fatalf("3 rounds at 50ms spacing finished in %s", elapsed)
	}
}

func TestReportOutput(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	b := New(ctx, cancel)
	b.Rounds = 2
	b.SetKeys([]string{"dev-1", "dev-2"})

	out := new(ThreadSafeBuffer)
	b.SetOutput(out)

	op := new(LoggingOp)
	b.SetOperationFactory(op.NewSuccess)

	_, err := b.Start(ctx)
	must(t, err)
	b.Exit()

	mustMatch(t, out, 1, `\nResults\n=======`)
	mustMatch(t, out, 1, `Total\:\s+4\n`)
	mustMatch(t, out, 1, `Success rate\:\s+100\.00%`)
	mustMatch(t, out, 1, `\nLatency\n-------`)
}

func TestValidation(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	b := New(ctx, cancel)
	b.SetKeys([]string{"dev-1"})
	defer b.Exit()

	if _, err := b.Start(ctx); err == nil {
		t.Fatal("expected an error with no operation configured")
	}

	op := new(LoggingOp)
	b.SetOperationFactory(op.NewSuccess)
	b.SetKeys(nil)
	if _, err := b.Start(ctx); err == nil {
		t.Fatal("expected an error with no keys")
	}

	b.SetKeys([]string{"dev-1"})
	b.Rounds = 0
	if _, err := b.Start(ctx); err == nil {
		t.Fatal("expected an error with zero rounds")
	}

	b.Rounds = 1
	b.Resume = true
	if _, err := b.Start(ctx); err == nil {
		t.Fatal("expected an error in resume mode without an outcome log")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func mustMatch(t *testing.T, buf *ThreadSafeBuffer, num int, pattern string) {
	t.Helper()
	matches := regexp.MustCompile(pattern).FindAllString(buf.String(), -1)
	if len(matches) != num {
		t.Fatalf("Matches in output (%d) not expected (%d) for pattern %s:\n%s",
			len(matches),
			num,
			pattern,
			buf.String(),
		)
	}
}

// LoggingOp builds operations that record every unit they are handed.
type LoggingOp struct {
	m      sync.Mutex
	log    []Unit
	shards map[int]bool
}

func (l *LoggingOp) append(shard int, u Unit) {
	l.m.Lock()
	defer l.m.Unlock()
	l.log = append(l.log, u)
	if l.shards == nil {
		l.shards = map[int]bool{}
	}
	l.shards[shard] = true
}

func (l *LoggingOp) mustLen(t *testing.T, length int) {
	t.Helper()
	l.m.Lock()
	defer l.m.Unlock()
	if len(l.log) != length {
		t.Fatalf("Operation log is not length %d:\n%v", length, l.log)
	}
}

func (l *LoggingOp) mustCount(t *testing.T, key string, expected int) {
	t.Helper()
	l.m.Lock()
	defer l.m.Unlock()
	var n int
	for _, u := range l.log {
		if u.Key == key {
			n++
		}
	}
	if n != expected {
		t.Fatalf("Key %s dispatched %d times, expected %d:\n%v", key, n, expected, l.log)
	}
}

func (l *LoggingOp) mustShards(t *testing.T, expected int) {
	t.Helper()
	l.m.Lock()
	defer l.m.Unlock()
	if len(l.shards) != expected {
		t.Fatalf("Operations built for %d shards, expected %d", len(l.shards), expected)
	}
}

func (l *LoggingOp) NewSuccess(shard int) (Operation, error) {
	return func(ctx context.Context, u Unit) Outcome {
		l.append(shard, u)
		return Outcome{Key: u.Key, Round: u.Round, OK: true, Status: 200, Elapsed: time.Millisecond}
	}, nil
}

func (l *LoggingOp) NewFail(shard int) (Operation, error) {
	return func(ctx context.Context, u Unit) Outcome {
		l.append(shard, u)
		return Outcome{Key: u.Key, Round: u.Round, OK: false, Status: 500, Detail: "boom"}
	}, nil
}

// NewFailFor builds operations that fail for one key and succeed elsewhere.
func (l *LoggingOp) NewFailFor(key string) OperationFactory {
	return func(shard int) (Operation, error) {
		return func(ctx context.Context, u Unit) Outcome {
			l.append(shard, u)
			if u.Key == key {
				return Outcome{Key: u.Key, Round: u.Round, OK: false, Status: 500, Detail: "boom"}
			}
			return Outcome{Key: u.Key, Round: u.Round, OK: true, Status: 200, Elapsed: time.Millisecond}
		}, nil
	}
}

// NewHang builds operations that block for d but respect cancellation.
func (l *LoggingOp) NewHang(d time.Duration) OperationFactory {
	return func(shard int) (Operation, error) {
		return func(ctx context.Context, u Unit) Outcome {
			select {
			case <-time.After(d):
				l.append(shard, u)
				return Outcome{Key: u.Key, Round: u.Round, OK: true, Status: 200, Elapsed: d}
			case <-ctx.Done():
				l.append(shard, u)
				return Outcome{Key: u.Key, Round: u.Round, OK: false, Detail: "cancelled"}
			}
		}, nil
	}
}

// NewStubborn builds operations that sleep for d and ignore their context.
func (l *LoggingOp) NewStubborn(d time.Duration) OperationFactory {
	return func(shard int) (Operation, error) {
		return func(ctx context.Context, u Unit) Outcome {
			time.Sleep(d)
			return Outcome{Key: u.Key, Round: u.Round, OK: true, Status: 200, Elapsed: d}
		}, nil
	}
}

type ThreadSafeBuffer struct {
	b bytes.Buffer
	m sync.Mutex
}

func (b *ThreadSafeBuffer) Read(p []byte) (n int, err error) {
	b.m.Lock()
	defer b.m.Unlock()
	return b.b.Read(p)
}
func (b *ThreadSafeBuffer) Write(p []byte) (n int, err error) {
	b.m.Lock()
	defer b.m.Unlock()
	return b.b.Write(p)
}
func (b *ThreadSafeBuffer) String() string {
	b.m.Lock()
	defer b.m.Unlock()
	return b.b.String()
}
