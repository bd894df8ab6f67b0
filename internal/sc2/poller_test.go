package sc2

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFetcher returns queued results, repeating the last one
type scriptedFetcher struct {
	mu       sync.Mutex
	results  []error
	inFlight atomic.Int32
	overlap  atomic.Bool
	delay    time.Duration
}

func (f *scriptedFetcher) Snapshot(ctx context.Context) (*Snapshot, error) {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	var err error
	if len(f.results) > 0 {
		err = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &Snapshot{
		UI:   &UIState{ActiveScreens: []string{}},
		Game: &GameState{Players: []Player{}},
	}, nil
}

type edgeRecorder struct {
	mu    sync.Mutex
	edges []bool
}

func (r *edgeRecorder) record(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges = append(r.edges, v)
}

func (r *edgeRecorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.edges...)
}

func TestPollerConnectivityEdgesOncePerTransition(t *testing.T) {
	down := errors.New("dial tcp: connection refused")
	f := &scriptedFetcher{results: []error{down, down, nil, nil, nil, down, down, nil}}
	rec := &edgeRecorder{}
	var snaps atomic.Int32

	p := NewPoller(f, PollerConfig{}, func(*Snapshot) { snaps.Add(1) }, rec.record)
	for i := 0; i < 8; i++ {
		p.Poll(context.Background())
	}

	assert.Equal(t, []bool{true, false, true}, rec.get())
	assert.Equal(t, int32(4), snaps.Load())
	assert.True(t, p.IsConnected())
	assert.Equal(t, int64(8), p.Cycles())
}

func TestPollerMalformedSnapshotIsDiscardedButConnected(t *testing.T) {
	f := &scriptedFetcher{results: []error{ErrMalformedSnapshot}}
	rec := &edgeRecorder{}
	var snaps atomic.Int32

	p := NewPoller(f, PollerConfig{}, func(*Snapshot) { snaps.Add(1) }, rec.record)
	p.Poll(context.Background())

	assert.Equal(t, int32(0), snaps.Load())
	assert.Equal(t, []bool{true}, rec.get())
}

func TestPollerCyclesNeverOverlap(t *testing.T) {
	f := &scriptedFetcher{delay: 20 * time.Millisecond}
	p := NewPoller(f, PollerConfig{}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Poll(context.Background())
		}()
	}
	wg.Wait()

	assert.False(t, f.overlap.Load())
	assert.Equal(t, int64(5), p.Cycles())
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	f := &scriptedFetcher{}
	var snaps atomic.Int32
	p := NewPoller(f, PollerConfig{Interval: 10 * time.Millisecond, RetryInterval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond},
		func(*Snapshot) { snaps.Add(1) }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return snaps.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPollerUsesRetryIntervalWhileDisconnected(t *testing.T) {
	p := NewPoller(&scriptedFetcher{}, PollerConfig{Interval: time.Second, RetryInterval: 3 * time.Second}, nil, nil)
	assert.Equal(t, 3*time.Second, p.nextDelay())

	p.Poll(context.Background())
	assert.Equal(t, time.Second, p.nextDelay())
}
