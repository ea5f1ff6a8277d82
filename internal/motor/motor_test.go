package motor

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sweeney/henny/internal/gpio"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type rate float64

func (r rate) CalibrationRate() float64 { return float64(r) }

type fakeRecorder struct {
	mu      sync.Mutex
	started []time.Duration
	stopped []StopReason
}

func (f *fakeRecorder) MotorStarted(d time.Duration, _ bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, d)
}

func (f *fakeRecorder) MotorStopped(reason StopReason, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, reason)
}

func (f *fakeRecorder) reasons() []StopReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StopReason(nil), f.stopped...)
}

type harness struct {
	clock *clockwork.FakeClock
	relay *gpio.FakeOutput
	led   *gpio.FakeOutput
	ctrl  *Controller
}

func newHarness(t *testing.T, r rate) *harness {
	t.Helper()
	h := &harness{
		clock: clockwork.NewFakeClockAt(time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)),
		relay: gpio.NewFakeOutput(),
		led:   gpio.NewFakeOutput(),
	}
	ctrl, err := New(h.relay, h.led, h.clock, r, Config{})
	require.NoError(t, err)
	h.ctrl = ctrl
	t.Cleanup(func() { _ = ctrl.EmergencyStop() })
	return h
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return !h.ctrl.Running() }, time.Second, time.Millisecond)
}

func TestNewDrivesRelayLow(t *testing.T) {
	h := newHarness(t, 50)
	assert.Equal(t, []gpio.Level{gpio.Low}, h.relay.History())
	assert.Equal(t, gpio.Low, h.led.Level())
	assert.False(t, h.ctrl.Running())
}

func TestNewFailsWhenRelayUnwritable(t *testing.T) {
	relay := gpio.NewFakeOutput()
	relay.SetError = errors.New("line busy")
	_, err := New(relay, gpio.NewFakeOutput(), clockwork.NewFakeClock(), rate(50), Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, relay.SetError)
}

func TestSpreadRunTime(t *testing.T) {
	tests := []struct {
		name    string
		rate    rate
		grams   float64
		want    time.Duration
		clamped bool
	}{
		{"one rate unit", 50, 50, 10 * time.Second, false},
		{"half unit", 50, 25, 5 * time.Second, false},
		{"slow spreader", 20, 25, 12500 * time.Millisecond, false},
		{"at ceiling", 50, 150, 30 * time.Second, false},
		{"clamped", 50, 1000, 30 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.rate)
			run, err := h.ctrl.Spread(tt.grams)
			require.NoError(t, err)
			assert.Equal(t, tt.want, run.Duration)
			assert.Equal(t, tt.clamped, run.Clamped)
			assert.Equal(t, run.StartedAt.Add(tt.want), run.StopAt)
			assert.Equal(t, tt.want, h.ctrl.RunTimeFor(tt.grams))
			require.NoError(t, h.ctrl.Stop())
		})
	}
}

func TestSpreadStopsAtDeadline(t *testing.T) {
	h := newHarness(t, 50)

	run, err := h.ctrl.Spread(25)
	require.NoError(t, err)
	assert.Equal(t, gpio.High, h.relay.Level())
	assert.True(t, h.ctrl.Running())

	h.clock.Advance(run.Duration - time.Millisecond)
	assert.True(t, h.ctrl.Running(), "still running just before the deadline")

	h.clock.Advance(time.Millisecond)
	h.waitIdle(t)
	assert.Equal(t, gpio.Low, h.relay.Level())
}

func TestClampedRunNeverExceedsCeiling(t *testing.T) {
	h := newHarness(t, 50)

	_, err := h.ctrl.Spread(1000)
	require.NoError(t, err)

	h.clock.Advance(DefaultTimeout)
	h.waitIdle(t)
	assert.Equal(t, gpio.Low, h.relay.Level())
	assert.Equal(t, 1, h.relay.Rises())
}

func TestHugeMassIsClampedNotRejected(t *testing.T) {
	for _, grams := range []float64{1e12, 1e300, math.Inf(1)} {
		h := newHarness(t, 50)

		run, err := h.ctrl.Spread(grams)
		require.NoError(t, err, "grams=%g", grams)
		assert.Equal(t, DefaultTimeout, run.Duration, "grams=%g", grams)
		assert.True(t, run.Clamped, "grams=%g", grams)
		assert.Equal(t, DefaultTimeout, h.ctrl.RunTimeFor(grams), "grams=%g", grams)

		require.NoError(t, h.ctrl.Stop())
	}
}

func TestRunTimeConversion(t *testing.T) {
	tests := []struct {
		grams, rate float64
		want        time.Duration
	}{
		{25, 50, 5 * time.Second},
		{0, 50, 0},
		{-10, 50, 0},
		{math.NaN(), 50, 0},
		{1e300, 50, time.Duration(math.MaxInt64)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, runTime(tt.grams, tt.rate), "grams=%g rate=%g", tt.grams, tt.rate)
	}
}

func TestSpreadWhileRunningIsBusy(t *testing.T) {
	h := newHarness(t, 50)

	_, err := h.ctrl.Spread(25)
	require.NoError(t, err)

	_, err = h.ctrl.Spread(25)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = h.ctrl.CalibrationRun(CalibrationDuration)
	assert.ErrorIs(t, err, ErrBusy)

	assert.Equal(t, 1, h.relay.Rises(), "relay asserted once")
	assert.Equal(t, 1, h.ctrl.Status().Activations)
}

func TestSpreadUncalibrated(t *testing.T) {
	h := newHarness(t, 0)

	_, err := h.ctrl.Spread(25)
	assert.ErrorIs(t, err, ErrUncalibrated)
	assert.Equal(t, 0, h.relay.Rises())
	assert.Zero(t, h.ctrl.RunTimeFor(25))
}

func TestZeroLengthRunRejected(t *testing.T) {
	h := newHarness(t, 50)

	_, err := h.ctrl.Spread(0)
	assert.ErrorIs(t, err, ErrZeroRun)
	_, err = h.ctrl.CalibrationRun(0)
	assert.ErrorIs(t, err, ErrZeroRun)
	assert.Equal(t, 0, h.relay.Rises())
}

func TestCalibrationRunIgnoresRate(t *testing.T) {
	h := newHarness(t, 0)

	run, err := h.ctrl.CalibrationRun(CalibrationDuration)
	require.NoError(t, err)
	assert.Equal(t, CalibrationDuration, run.Duration)
	assert.False(t, run.Clamped)

	h.clock.Advance(CalibrationDuration)
	h.waitIdle(t)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, 50)
	rec := &fakeRecorder{}
	h.ctrl.SetRecorder(rec)

	_, err := h.ctrl.Spread(50)
	require.NoError(t, err)

	require.NoError(t, h.ctrl.Stop())
	require.NoError(t, h.ctrl.Stop())
	assert.False(t, h.ctrl.Running())
	assert.Equal(t, gpio.Low, h.relay.Level())
	assert.Equal(t, []StopReason{StopRequested}, rec.reasons(), "only one stop recorded")
}

func TestStaleDeadlineDoesNotStopNextRun(t *testing.T) {
	h := newHarness(t, 50)

	_, err := h.ctrl.Spread(50) // 10s
	require.NoError(t, err)
	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.ctrl.Stop())

	_, err = h.ctrl.Spread(50) // 10s, ends at t+12s
	require.NoError(t, err)

	h.clock.Advance(8 * time.Second) // first run's deadline
	assert.True(t, h.ctrl.Running())

	h.clock.Advance(2 * time.Second)
	h.waitIdle(t)
	assert.Equal(t, 2, h.relay.Rises())
}

func TestEmergencyStopAlwaysDrivesRelayLow(t *testing.T) {
	h := newHarness(t, 50)

	// Relay forced high behind the controller's back.
	require.NoError(t, h.relay.SetHigh())
	require.NoError(t, h.ctrl.EmergencyStop())
	assert.Equal(t, gpio.Low, h.relay.Level())

	_, err := h.ctrl.Spread(50)
	require.NoError(t, err)
	require.NoError(t, h.ctrl.EmergencyStop())
	assert.False(t, h.ctrl.Running())
	assert.Equal(t, gpio.Low, h.relay.Level())
}

func TestEmergencyStopReportsRelayError(t *testing.T) {
	h := newHarness(t, 50)
	_, err := h.ctrl.Spread(50)
	require.NoError(t, err)

	h.relay.SetError = errors.New("ioctl failed")
	err = h.ctrl.EmergencyStop()
	assert.ErrorIs(t, err, h.relay.SetError)
	assert.False(t, h.ctrl.Running(), "state is idle even when the write failed")
	h.relay.SetError = nil
}

func TestLEDBlinksWhileRunning(t *testing.T) {
	h := newHarness(t, 50)
	h.ctrl.SetReadyLED(true)
	base := h.led.Rises()

	_, err := h.ctrl.Spread(50)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		want := len(h.led.History()) + 1
		h.clock.Advance(DefaultBlinkPeriod)
		require.Eventually(t, func() bool { return len(h.led.History()) >= want }, time.Second, time.Millisecond)
	}
	assert.Greater(t, h.led.Rises(), base, "LED toggled on")

	require.NoError(t, h.ctrl.Stop())
	assert.Equal(t, gpio.High, h.led.Level(), "ready indicator restored")
}

func TestSetReadyLEDDeferredWhileRunning(t *testing.T) {
	h := newHarness(t, 50)

	_, err := h.ctrl.Spread(50)
	require.NoError(t, err)
	before := len(h.led.History())
	h.ctrl.SetReadyLED(true)
	assert.Equal(t, before, len(h.led.History()), "no write while blinking")

	require.NoError(t, h.ctrl.Stop())
	assert.Equal(t, gpio.High, h.led.Level())
}

func TestStatus(t *testing.T) {
	h := newHarness(t, 40)

	s := h.ctrl.Status()
	assert.False(t, s.Running)
	assert.True(t, s.Calibrated)
	assert.Equal(t, 40.0, s.Rate)
	assert.Equal(t, DefaultTimeout, s.Timeout)
	assert.True(t, s.StopAt.IsZero())

	run, err := h.ctrl.Spread(40)
	require.NoError(t, err)
	s = h.ctrl.Status()
	assert.True(t, s.Running)
	assert.Equal(t, run.StopAt, s.StopAt)
	assert.Equal(t, 1, s.Activations)
}

func TestRecorderSeesDeadlineStop(t *testing.T) {
	h := newHarness(t, 50)
	rec := &fakeRecorder{}
	h.ctrl.SetRecorder(rec)

	_, err := h.ctrl.Spread(1000)
	require.NoError(t, err)
	h.clock.Advance(DefaultTimeout)
	h.waitIdle(t)

	assert.Equal(t, []StopReason{StopDeadline}, rec.reasons())
	rec.mu.Lock()
	assert.Equal(t, []time.Duration{DefaultTimeout}, rec.started)
	rec.mu.Unlock()
}

func TestClose(t *testing.T) {
	h := newHarness(t, 50)
	_, err := h.ctrl.Spread(50)
	require.NoError(t, err)

	rec := &fakeRecorder{}
	h.ctrl.SetRecorder(rec)

	require.NoError(t, h.ctrl.Close())
	assert.False(t, h.ctrl.Running())
	assert.True(t, h.relay.Closed())
	assert.True(t, h.led.Closed())
	assert.Equal(t, []StopReason{StopRequested}, rec.reasons(), "clean close is not an emergency")
}
