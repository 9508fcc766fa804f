package ffibridge_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-ffibridge"
	"github.com/joeycumines/go-ffibridge/internal/enginetest"
)

// TestScheduler_ThreeNotificationsInOrder posts three notifications and
// checks the context runs three callbacks, in the order posted.
func TestScheduler_ThreeNotificationsInOrder(t *testing.T) {
	b, _ := newTestBridge(t)
	s, ctx := newManualScheduler(t, b, 1)

	var got []string
	s.SetNotifyCallback(func(userdata any) {
		got = append(got, userdata.(string))
	}, "wake", nil)

	require.True(t, s.Notify())
	require.True(t, s.Invoke(func() { got = append(got, "work") }))
	require.True(t, s.Notify())
	require.Equal(t, 3, ctx.Len())
	require.Empty(t, got, "nothing may run before the context dispatches")

	assert.Equal(t, 3, ctx.Pump(b))
	assert.Equal(t, []string{"wake", "work", "wake"}, got)
}

// TestScheduler_FIFOConcurrentProducers has several goroutines post work
// whose order is fixed by a shared sequence number, and checks the context
// observes exactly that order.
func TestScheduler_FIFOConcurrentProducers(t *testing.T) {
	b, _ := newTestBridge(t)
	s := newLoopScheduler(t, b, 1)

	const producers, perProducer = 8, 250
	const total = producers * perProducer

	var (
		clock    sync.Mutex
		seq      int
		observed []int
		done     = make(chan struct{})
	)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				clock.Lock()
				n := seq
				seq++
				ok := s.Invoke(func() {
					observed = append(observed, n)
					if len(observed) == total {
						close(done)
					}
				})
				clock.Unlock()
				if !ok {
					t.Error("invoke failed")
					return
				}
			}
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	require.Len(t, observed, total)
	for i, n := range observed {
		if n != i {
			t.Fatalf("delivery %d carried sequence %d", i, n)
		}
	}
}

// TestScheduler_FIFOProperty mixes notifications, queued work and nested work
// and checks the order of execution against a model of the queue.
func TestScheduler_FIFOProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("execution order matches post order", prop.ForAll(
		func(ops []uint8) bool {
			b, err := ffibridge.New(nil)
			if err != nil {
				return false
			}
			defer b.Close()
			ctx := new(enginetest.Context)
			s, err := b.NewScheduler(1, ctx, ffibridge.WithMaxReentrancy(0))
			if err != nil {
				return false
			}

			var got, want []int
			s.SetNotifyCallback(func(userdata any) {
				got = append(got, -1)
			}, nil, nil)
			// nested work is queued, so it lands after everything posted so far
			var nested []int
			for i, op := range ops {
				switch op % 3 {
				case 0:
					s.Notify()
					want = append(want, -1)
				case 1:
					s.Invoke(func() { got = append(got, i) })
					want = append(want, i)
				case 2:
					s.Invoke(func() {
						got = append(got, i)
						s.Invoke(func() { got = append(got, 1000+i) })
					})
					want = append(want, i)
					nested = append(nested, 1000+i)
				}
			}
			ctx.Pump(b)
			want = append(want, nested...)
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestScheduler_ReentrancyGuard(t *testing.T) {
	b, _ := newTestBridge(t)
	s, ctx := newManualScheduler(t, b, 1, ffibridge.WithMaxReentrancy(2))

	var got []string
	log := func(v string) { got = append(got, v) }
	require.True(t, s.Invoke(func() {
		log("outer")
		s.Invoke(func() {
			log("n1")
			s.Invoke(func() {
				log("n2")
				s.Invoke(func() { log("n3") })
			})
		})
		log("outer-end")
	}))

	ctx.Pump(b)
	assert.Equal(t, []string{"outer", "n1", "n2", "outer-end", "n3"}, got)
	assert.Equal(t, uint64(2), b.Stats().InlineRuns)
}

func TestScheduler_InlineNeverOvertakesQueuedWork(t *testing.T) {
	b, _ := newTestBridge(t)
	s, ctx := newManualScheduler(t, b, 1)

	var got []string
	s.Invoke(func() {
		got = append(got, "first")
		s.Invoke(func() { got = append(got, "inner") })
	})
	s.Invoke(func() { got = append(got, "second") })

	ctx.Pump(b)
	assert.Equal(t, []string{"first", "second", "inner"}, got)
	assert.Zero(t, b.Stats().InlineRuns)
}

func TestScheduler_InlineFromWithinDispatch(t *testing.T) {
	b, _ := newTestBridge(t)
	s, ctx := newManualScheduler(t, b, 1)

	var got []string
	s.Invoke(func() {
		s.Invoke(func() { got = append(got, "inline") })
		got = append(got, "after")
	})
	ctx.Pump(b)
	assert.Equal(t, []string{"inline", "after"}, got)
	assert.Equal(t, uint64(1), b.Stats().InlineRuns)
}

func TestScheduler_SetNotifyCallbackFreesPrevious(t *testing.T) {
	b, _ := newTestBridge(t)
	s, ctx := newManualScheduler(t, b, 1)

	freed := map[string]int{}
	free := func(userdata any) { freed[userdata.(string)]++ }

	s.SetNotifyCallback(func(any) {}, "a", free)
	assert.Empty(t, freed)
	s.SetNotifyCallback(func(any) {}, "b", free)
	assert.Equal(t, map[string]int{"a": 1}, freed)

	s.Free()
	s.Free()
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, freed)

	// registering on a freed scheduler frees immediately
	s.SetNotifyCallback(func(any) {}, "c", free)
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, freed)
	ctx.Pump(b)
}

func TestScheduler_FreePostsFinalizeAndDrains(t *testing.T) {
	var finalized []uint64
	b, _ := newTestBridge(t, ffibridge.WithOnFinalize(func(contextID uint64) {
		finalized = append(finalized, contextID)
	}))
	s, ctx := newManualScheduler(t, b, 42)

	var ran []int
	s.Invoke(func() { ran = append(ran, 1) })
	s.Invoke(func() { ran = append(ran, 2) })
	token := s.Token()
	s.Free()

	assert.False(t, s.CanDeliverNotifications())
	assert.False(t, s.Invoke(func() { ran = append(ran, 3) }))
	assert.False(t, s.Notify())
	assert.Equal(t, 3, ctx.Len())
	assert.Equal(t, 1, b.Schedulers(), "slot is released by the context, not by Free")

	ctx.Pump(b)
	assert.Equal(t, []int{1, 2}, ran)
	assert.Equal(t, []uint64{42}, finalized)
	assert.Zero(t, b.Schedulers())

	// tokens still in flight after finalization are harmless
	assert.ErrorIs(t, b.Dispatch(token), ffibridge.ErrSchedulerGone)
	assert.ErrorIs(t, b.Dispatch(ffibridge.FinalizeToken(token)), ffibridge.ErrSchedulerGone)
	assert.Equal(t, uint64(2), b.Stats().StaleTokens)
}

func TestScheduler_FinalizeDrainsQueueAhead(t *testing.T) {
	b, _ := newTestBridge(t)
	s, ctx := newManualScheduler(t, b, 1)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		s.Invoke(func() { ran.Add(1) })
	}
	s.Free()

	// deliver only the terminal token; it must run everything queued
	c2 := new(enginetest.Context)
	require.True(t, c2.Post(ffibridge.FinalizeToken(s.Token())))
	c2.Pump(b)
	assert.Equal(t, int32(5), ran.Load())
	assert.Zero(t, s.Pending())

	// the remaining tokens are now stale
	ctx.Pump(b)
	assert.Equal(t, int32(5), ran.Load())
	assert.Equal(t, uint64(6), b.Stats().StaleTokens)
}

func TestScheduler_PostFailure(t *testing.T) {
	var buf syncBuffer
	b, _ := newTestBridge(t, ffibridge.WithLogger(newTestLogger(&buf)))
	s, ctx := newManualScheduler(t, b, 1)

	ctx.Close()
	assert.False(t, s.Notify())
	assert.False(t, s.Invoke(func() { t.Error("must not run") }))
	freed := 0
	s.SetNotifyCallback(nil, nil, func(any) { freed++ })

	s.Free()
	assert.Equal(t, 1, freed)
	assert.Zero(t, b.Schedulers(), "nothing can drain a torn down context")
	assert.Zero(t, s.Pending())

	st := b.Stats()
	assert.Equal(t, uint64(3), st.PostFailures)
	assert.Contains(t, buf.String(), "post to consumer context failed")
	assert.Contains(t, buf.String(), "scheduler freed after its context was torn down")
}

func TestScheduler_PanicIsContained(t *testing.T) {
	var buf syncBuffer
	b, _ := newTestBridge(t, ffibridge.WithLogger(newTestLogger(&buf)))
	s, ctx := newManualScheduler(t, b, 7)

	ran := false
	s.Invoke(func() { panic("boom") })
	s.Invoke(func() { ran = true })
	ctx.Pump(b)

	assert.True(t, ran)
	assert.Equal(t, uint64(1), b.Stats().Panics)
	assert.Contains(t, buf.String(), "boom")
}

func TestScheduler_IsSameAs(t *testing.T) {
	b, _ := newTestBridge(t)
	s1, _ := newManualScheduler(t, b, 1)
	s2, _ := newManualScheduler(t, b, 1)
	s3, _ := newManualScheduler(t, b, 2)

	assert.True(t, s1.IsSameAs(s2))
	assert.True(t, s2.IsSameAs(s1))
	assert.False(t, s1.IsSameAs(s3))
	assert.NotEqual(t, s1.Token(), s2.Token())
}

func TestScheduler_IsOnThread(t *testing.T) {
	b, _ := newTestBridge(t)

	t.Run("rotating", func(t *testing.T) {
		s, _ := newManualScheduler(t, b, 1)
		assert.True(t, s.IsOnThread())
		res := make(chan bool)
		go func() { res <- s.IsOnThread() }()
		assert.True(t, <-res)
	})

	t.Run("pinned", func(t *testing.T) {
		s := newLoopScheduler(t, b, 2, ffibridge.WithAffinity(ffibridge.AffinityPinned))
		assert.True(t, s.IsOnThread(), "creator owns the context until it first runs")

		res := make(chan bool, 1)
		require.True(t, s.Invoke(func() { res <- s.IsOnThread() }))
		assert.True(t, <-res)
		// the loop goroutine now owns the context
		assert.False(t, s.IsOnThread())
	})
}

func TestScheduler_Options(t *testing.T) {
	b, _ := newTestBridge(t)
	_, err := b.NewScheduler(1, nil)
	assert.Error(t, err)
	_, err = b.NewScheduler(1, new(enginetest.Context), ffibridge.WithMaxReentrancy(-1))
	assert.ErrorIs(t, err, ffibridge.ErrNegativeReentrancy)
	_, err = b.NewScheduler(1, new(enginetest.Context), ffibridge.WithAffinity(ffibridge.Affinity(9)))
	assert.ErrorIs(t, err, ffibridge.ErrUnknownAffinity)
	_, err = b.NewScheduler(1, new(enginetest.Context), nil)
	assert.NoError(t, err)
}
