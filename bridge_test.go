package ffibridge_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-ffibridge"
	"github.com/joeycumines/go-ffibridge/internal/enginetest"
)

func TestNew_Options(t *testing.T) {
	for name, tc := range map[string]struct {
		opt  ffibridge.Option
		want error
	}{
		"zero timeout":   {ffibridge.WithRoundTripTimeout(0), ffibridge.ErrZeroRoundTripTimeout},
		"zero rate":      {ffibridge.WithDropWarningRate(map[time.Duration]int{time.Second: 0}), ffibridge.ErrDropWarningRate},
		"negative range": {ffibridge.WithDropWarningRate(map[time.Duration]int{-time.Second: 1}), ffibridge.ErrDropWarningRate},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ffibridge.New(nil, tc.opt)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	b, err := ffibridge.New(nil,
		nil,
		ffibridge.WithLogger(nil),
		ffibridge.WithRoundTripTimeout(-1),
		ffibridge.WithDropWarningRate(map[time.Duration]int{time.Second: 5}),
	)
	require.NoError(t, err)
	assert.NotNil(t, b.Engine())
	require.NoError(t, b.Close())
}

func TestBridge_Close(t *testing.T) {
	var finalized []uint64
	engine := enginetest.New()
	b, err := ffibridge.New(engine, ffibridge.WithOnFinalize(func(id uint64) {
		finalized = append(finalized, id)
	}))
	require.NoError(t, err)

	ctx := new(enginetest.Context)
	s1, err := b.NewScheduler(1, ctx)
	require.NoError(t, err)
	s2, err := b.NewScheduler(2, ctx)
	require.NoError(t, err)

	ran := 0
	s1.Invoke(func() { ran++ })
	_, err = b.Loggers().Register(1, ffibridge.LogLevelInfo, s1, new(lineRecorder))
	require.NoError(t, err)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Close(), ffibridge.ErrClosed)
	assert.False(t, s1.CanDeliverNotifications())
	assert.False(t, s2.CanDeliverNotifications())
	assert.Equal(t, ffibridge.LogLevelOff, engine.Level())

	_, err = b.NewScheduler(3, ctx)
	assert.ErrorIs(t, err, ffibridge.ErrClosed)

	// queued work still runs when the context drains
	ctx.Pump(b)
	assert.Equal(t, 1, ran)
	assert.ElementsMatch(t, []uint64{1, 2}, finalized)
	assert.Zero(t, b.Schedulers())
}

func TestBridge_Stats(t *testing.T) {
	b, engine := newTestBridge(t)
	s, ctx := newManualScheduler(t, b, 1)
	_, err := b.Loggers().Register(1, ffibridge.LogLevelWarn, s, new(lineRecorder))
	require.NoError(t, err)
	b.Handles().NewPersistent("pinned")

	s.Invoke(func() {})
	s.Notify()
	engine.Emit(ffibridge.LogLevelError, "core", "failed")
	ctx.Pump(b)

	st := b.Stats()
	assert.Equal(t, uint64(3), st.Posts)
	assert.Equal(t, uint64(3), st.Dispatched)
	assert.Zero(t, st.PostFailures)
	assert.Equal(t, uint64(1), st.LogDispatches)
	assert.Equal(t, uint64(1), st.PayloadsCopied)
	assert.Equal(t, uint64(len("core")+len("failed")), st.PayloadBytes)
	assert.Equal(t, 1, st.Schedulers)
	assert.Equal(t, 2, st.Handles, "the sink and the pinned value")
	assert.Equal(t, 1, st.LogSubscribers)
	assert.Equal(t, ffibridge.LogLevelWarn, st.EngineLogLevel)
}

func TestBridge_DispatchUnknownToken(t *testing.T) {
	b, _ := newTestBridge(t)
	assert.ErrorIs(t, b.Dispatch(0), ffibridge.ErrSchedulerGone)
	assert.ErrorIs(t, b.Dispatch(1<<32|7), ffibridge.ErrSchedulerGone)
	assert.Equal(t, uint64(2), b.Stats().StaleTokens)
}

func TestFinalizeToken(t *testing.T) {
	b, _ := newTestBridge(t)
	s, _ := newManualScheduler(t, b, 1)
	token := s.Token()
	assert.False(t, ffibridge.IsFinalizeToken(token))
	assert.True(t, ffibridge.IsFinalizeToken(ffibridge.FinalizeToken(token)))
	assert.NotEqual(t, token, ffibridge.FinalizeToken(token))
}

func TestPortFunc(t *testing.T) {
	b, _ := newTestBridge(t)
	var posted []uint64
	s, err := b.NewScheduler(1, ffibridge.PortFunc(func(token uint64) bool {
		posted = append(posted, token)
		return true
	}))
	require.NoError(t, err)
	s.Notify()
	assert.Equal(t, []uint64{s.Token()}, posted)
}
