package playback_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/playback"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/mock"
)

// chunk returns a chunk whose first sample encodes id so play order can be
// checked.
func chunk(id int, n int) audio.Chunk {
	s := make([]float32, n)
	s[0] = float32(id)
	return audio.Chunk{Samples: s, SampleRate: 16000}
}

func ids(chunks []audio.Chunk) []int {
	out := make([]int, len(chunks))
	for i, c := range chunks {
		out[i] = int(c.Samples[0])
	}
	return out
}

func TestSequencer_FIFOWithOneInFlight(t *testing.T) {
	t.Parallel()

	dev := &mock.PlaybackDevice{}
	seq := playback.New(dev)

	for i := 1; i <= 3; i++ {
		seq.Enqueue(chunk(i, 4))
	}
	require.True(t, seq.IsPlaying())
	require.Equal(t, 1, dev.Pending(), "only one chunk may be in flight")
	require.Equal(t, 2, seq.Len())

	for i := 0; i < 3; i++ {
		require.True(t, dev.Complete())
		if i < 2 {
			require.Equal(t, 1, dev.Pending())
		}
	}

	assert.Equal(t, []int{1, 2, 3}, ids(dev.Played()))
	assert.False(t, seq.IsPlaying())
	assert.Zero(t, seq.Len())
	assert.Zero(t, dev.Pending())
}

func TestSequencer_SynchronousCompletion(t *testing.T) {
	t.Parallel()

	dev := &mock.PlaybackDevice{AutoComplete: true}
	seq := playback.New(dev)

	for i := 1; i <= 1000; i++ {
		seq.Enqueue(chunk(i, 2))
	}

	played := ids(dev.Played())
	require.Len(t, played, 1000)
	for i, id := range played {
		require.Equal(t, i+1, id)
	}
	assert.False(t, seq.IsPlaying())
	assert.Zero(t, seq.Len())
}

func TestSequencer_EnqueueDuringPlayback(t *testing.T) {
	t.Parallel()

	dev := &mock.PlaybackDevice{}
	seq := playback.New(dev)

	seq.Enqueue(chunk(1, 4))
	require.True(t, dev.Complete())
	require.False(t, seq.IsPlaying(), "queue drained")

	seq.Enqueue(chunk(2, 4))
	seq.Enqueue(chunk(3, 4))
	require.True(t, dev.Complete())
	seq.Enqueue(chunk(4, 4))
	for dev.Complete() {
	}

	assert.Equal(t, []int{1, 2, 3, 4}, ids(dev.Played()))
	assert.False(t, seq.IsPlaying())
}

func TestSequencer_SkipsRejectedChunks(t *testing.T) {
	t.Parallel()

	dev := &mock.PlaybackDevice{
		AutoComplete: true,
		SubmitError: func(c audio.Chunk) error {
			if int(c.Samples[0])%2 == 0 {
				return errors.New("corrupt chunk")
			}
			return nil
		},
	}
	seq := playback.New(dev)

	for i := 1; i <= 5; i++ {
		seq.Enqueue(chunk(i, 2))
	}

	assert.Equal(t, []int{1, 2, 3, 4, 5}, ids(dev.Submitted()))
	assert.Equal(t, []int{1, 3, 5}, ids(dev.Played()))
	assert.False(t, seq.IsPlaying())
}

func TestSequencer_AllRejectedGoesIdle(t *testing.T) {
	t.Parallel()

	dev := &mock.PlaybackDevice{SubmitError: func(audio.Chunk) error { return errors.New("device gone") }}
	seq := playback.New(dev)

	seq.Enqueue(chunk(1, 2))
	seq.Enqueue(chunk(2, 2))

	assert.Len(t, dev.Submitted(), 2)
	assert.False(t, seq.IsPlaying())
	assert.Zero(t, seq.Len())
}

func TestSequencer_EndOfStreamKeepsBacklog(t *testing.T) {
	t.Parallel()

	dev := &mock.PlaybackDevice{}
	seq := playback.New(dev)

	seq.Enqueue(chunk(1, 2))
	seq.Enqueue(chunk(2, 2))
	seq.EndOfStream()

	require.Equal(t, 1, seq.Len())
	require.True(t, seq.IsPlaying())

	require.True(t, dev.Complete())
	require.True(t, dev.Complete())

	// A new run after the sentinel plays normally.
	seq.Enqueue(chunk(3, 2))
	require.True(t, dev.Complete())

	assert.Equal(t, []int{1, 2, 3}, ids(dev.Played()))
	assert.False(t, seq.IsPlaying())
}

func TestSequencer_DropsEmptyChunks(t *testing.T) {
	t.Parallel()

	dev := &mock.PlaybackDevice{}
	seq := playback.New(dev)

	seq.Enqueue(audio.Chunk{SampleRate: 16000})
	assert.Empty(t, dev.Submitted())
	assert.False(t, seq.IsPlaying())
}

// heldDevice keeps completions so a test can fire them at any time, even
// after the sequencer was closed.
type heldDevice struct {
	mu          sync.Mutex
	completions []func()
	flushes     int
}

func (d *heldDevice) Submit(_ audio.Chunk, onComplete func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completions = append(d.completions, onComplete)
	return nil
}

func (d *heldDevice) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushes++
}

func TestSequencer_CloseClearsAndIgnoresLateCompletions(t *testing.T) {
	t.Parallel()

	dev := &heldDevice{}
	seq := playback.New(dev)

	seq.Enqueue(chunk(1, 2))
	seq.Enqueue(chunk(2, 2))
	seq.Enqueue(chunk(3, 2))
	require.Len(t, dev.completions, 1)

	seq.Close()
	assert.Zero(t, seq.Len())
	assert.False(t, seq.IsPlaying())
	assert.Equal(t, 1, dev.flushes)

	// The device finishes the chunk that was in flight at close time.
	dev.completions[0]()
	assert.Len(t, dev.completions, 1, "no chunk submitted after close")
	assert.False(t, seq.IsPlaying())

	seq.Enqueue(chunk(4, 2))
	assert.Len(t, dev.completions, 1, "enqueue after close is dropped")

	seq.Close()
	assert.Equal(t, 1, dev.flushes, "Close is idempotent")
}

// asyncDevice completes each chunk on its own goroutine and fails the test
// if two chunks are ever in flight together.
type asyncDevice struct {
	t        *testing.T
	inFlight atomic.Int32
	mu       sync.Mutex
	played   int
}

func (d *asyncDevice) Submit(_ audio.Chunk, onComplete func()) error {
	if n := d.inFlight.Add(1); n > 1 {
		d.t.Errorf("%d chunks in flight", n)
	}
	go func() {
		time.Sleep(time.Microsecond)
		d.mu.Lock()
		d.played++
		d.mu.Unlock()
		d.inFlight.Add(-1)
		onComplete()
	}()
	return nil
}

func (d *asyncDevice) Flush() {}

func TestSequencer_ConcurrentEnqueueAndCompletion(t *testing.T) {
	t.Parallel()

	dev := &asyncDevice{t: t}
	seq := playback.New(dev)

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				seq.Enqueue(chunk(p*perProducer+i, 2))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		dev.mu.Lock()
		defer dev.mu.Unlock()
		return dev.played == producers*perProducer && !seq.IsPlaying()
	}, 5*time.Second, time.Millisecond)
	assert.Zero(t, seq.Len())
}

func TestSequencer_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	dev := &mock.PlaybackDevice{
		AutoComplete: true,
		SubmitError: func(c audio.Chunk) error {
			if c.Samples[0] == 2 {
				return errors.New("bad")
			}
			return nil
		},
	}
	seq := playback.New(dev, playback.WithMetrics(m))
	for i := 1; i <= 3; i++ {
		seq.Enqueue(chunk(i, 2))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	outcomes := map[string]int64{}
	var depth int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			switch met.Name {
			case "voxlink.playback.chunks":
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value("outcome")
					outcomes[v.AsString()] = dp.Value
				}
			case "voxlink.playback.queue_depth":
				depth = sum.DataPoints[0].Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"played": 2, "skipped": 1}, outcomes)
	assert.Zero(t, depth)
}
