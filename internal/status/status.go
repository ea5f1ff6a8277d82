// Package status provides a thread-safe status tracker for the henny daemon.
// The control loop writes it; HTTP handlers and heartbeats read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/henny/internal/button"
	"github.com/sweeney/henny/internal/feeder"
	"github.com/sweeney/henny/internal/suncalc"
)

// NetworkInfo contains network state read from the network env file.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	TickMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	StorePath   string
}

// MQTTInfo reports the broker connection and its offline buffer.
type MQTTInfo struct {
	Connected bool
	Buffered  int
	Dropped   int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Feeder    feeder.Report
	Updated   bool // Feeder has been set at least once
	Buttons   button.Counts
	Daylight  *suncalc.Daylight
	StartTime time.Time
	Now       time.Time
	MQTT      MQTTInfo
	Network   *NetworkInfo
	Config    Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update stores the latest feeder report and button counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(r feeder.Report, buttons button.Counts) {
	t.mu.Lock()
	t.snap.Feeder = r
	t.snap.Updated = true
	t.snap.Buttons = buttons
	t.mu.Unlock()
}

// SetDaylight sets today's sun times. Nil clears them.
func (t *Tracker) SetDaylight(d *suncalc.Daylight) {
	t.mu.Lock()
	t.snap.Daylight = d
	t.mu.Unlock()
}

// SetMQTT sets the MQTT connection state.
func (t *Tracker) SetMQTT(info MQTTInfo) {
	t.mu.Lock()
	t.snap.MQTT = info
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
