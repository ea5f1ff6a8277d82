package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/henny/internal/button"
	"github.com/sweeney/henny/internal/feed"
	"github.com/sweeney/henny/internal/feeder"
	"github.com/sweeney/henny/internal/motor"
	"github.com/sweeney/henny/internal/store"
	"github.com/sweeney/henny/internal/suncalc"
)

func sampleReport() feeder.Report {
	return feeder.Report{
		Season:            feed.Spring,
		DailyTarget:       756,
		SessionGrams:      252,
		SessionsPerDay:    3,
		SessionsCompleted: 1,
		FedGrams:          252,
		DispensedToday:    277,
		ProgressPercent:   33,
		NextFeed:          "13:00",
		LastFeed:          time.Date(2026, 4, 15, 7, 0, 5, 0, time.UTC),
		Schedule: []feeder.Slot{
			{Time: "07:00", Grams: 252, Completed: true},
			{Time: "13:00", Grams: 252},
			{Time: "19:00", Grams: 252},
		},
		Flock: feed.Summary{
			Adults: 6, TotalChicks: 4, TotalBirds: 10,
			Distribution: feed.AgeDistribution{Weeks0To3: 4},
		},
		Chicks:          []feeder.ChickView{{Index: 0, Count: 4, AgeDays: 10}},
		Motor:           motor.Status{Calibrated: true, Rate: 50, Timeout: 30 * time.Second, Activations: 2},
		Calibration:     []store.CalibrationEntry{{Rate: 50, Timestamp: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}},
		LastCalibration: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		ManualFeedGrams: 25,
		SeasonFactor:    true,
	}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{PollMs: 50, TickMs: 60000, Broker: "tcp://localhost:1883", HTTPPort: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.TickMs != 60000 {
		t.Errorf("Config.TickMs: got %d, want 60000", snap.Config.TickMs)
	}
	if snap.Updated {
		t.Error("expected Updated=false initially")
	}
	if snap.MQTT.Connected {
		t.Error("expected MQTT disconnected initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Update(sampleReport(), button.Counts{Short: 3, Long: 1})

	snap := tr.Snapshot()
	if !snap.Updated {
		t.Error("expected Updated=true")
	}
	if snap.Feeder.DailyTarget != 756 {
		t.Errorf("DailyTarget: got %d, want 756", snap.Feeder.DailyTarget)
	}
	if snap.Buttons.Short != 3 || snap.Buttons.Long != 1 {
		t.Errorf("Buttons: got %+v", snap.Buttons)
	}
}

func TestSetMQTT(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTT(MQTTInfo{Connected: true})
	if !tr.Snapshot().MQTT.Connected {
		t.Error("expected connected")
	}

	tr.SetMQTT(MQTTInfo{Buffered: 4, Dropped: 1})
	m := tr.Snapshot().MQTT
	if m.Connected || m.Buffered != 4 || m.Dropped != 1 {
		t.Errorf("unexpected MQTT info: %+v", m)
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})
	n := tr.Snapshot().Network
	if n == nil || n.IP != "192.168.1.42" {
		t.Errorf("unexpected network: %+v", n)
	}

	tr.SetNetwork(nil)
	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network after clearing")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(start, Config{})
	tr.now = func() time.Time { return start.Add(90 * time.Second) }

	snap := tr.Snapshot()
	if snap.Uptime() != 90*time.Second {
		t.Errorf("Uptime: got %v, want 90s", snap.Uptime())
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Update(sampleReport(), button.Counts{Short: j})
				tr.SetMQTT(MQTTInfo{Connected: j%2 == 0})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = FormatJSON(tr.Snapshot())
			}
		}()
	}
	wg.Wait()
}

func fixedSnapshot() Snapshot {
	start := time.Date(2026, 4, 15, 6, 0, 0, 0, time.UTC)
	london := time.FixedZone("BST", 3600)
	return Snapshot{
		Feeder:    sampleReport(),
		Updated:   true,
		Buttons:   button.Counts{Short: 2},
		StartTime: start,
		Now:       start.Add(2*time.Hour + 500*time.Millisecond),
		MQTT:      MQTTInfo{Connected: true, Buffered: 0, Dropped: 3},
		Daylight: &suncalc.Daylight{
			CivilDawn: time.Date(2026, 4, 15, 5, 28, 0, 0, london),
			Sunrise:   time.Date(2026, 4, 15, 6, 5, 0, 0, london),
			Sunset:    time.Date(2026, 4, 15, 20, 0, 0, 0, london),
			CivilDusk: time.Date(2026, 4, 15, 20, 36, 0, 0, london),
		},
		Config: Config{PollMs: 50, TickMs: 60000, HeartbeatMs: 900000, Broker: "tcp://broker:1883", HTTPPort: ":80", StorePath: "/var/lib/henny/config.yaml"},
	}
}

func TestFormatJSON(t *testing.T) {
	data := FormatJSON(fixedSnapshot())

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, data)
	}
	s := parsed.Status

	if s.Event != "" || s.Reason != "" {
		t.Error("web status should not carry event or reason")
	}
	if !s.Ready {
		t.Error("expected ready when calibrated")
	}
	if s.UptimeSeconds != 7200 {
		t.Errorf("uptime: got %d, want 7200", s.UptimeSeconds)
	}
	if s.Feeding.Season != "spring" || s.Feeding.DailyTarget != 756 || s.Feeding.ProgressPercent != 33 {
		t.Errorf("unexpected feeding: %+v", s.Feeding)
	}
	if len(s.Feeding.Schedule) != 3 || !s.Feeding.Schedule[0].Completed || s.Feeding.Schedule[1].Completed {
		t.Errorf("unexpected schedule: %+v", s.Feeding.Schedule)
	}
	if s.Feeding.LastFeed != "2026-04-15T07:00:05Z" {
		t.Errorf("last feed: got %q", s.Feeding.LastFeed)
	}
	if s.Flock.TotalBirds != 10 || s.Flock.Weeks0To3 != 4 || len(s.Flock.Chicks) != 1 {
		t.Errorf("unexpected flock: %+v", s.Flock)
	}
	if s.Spreader.GramsPer10s != 50 || s.Spreader.TimeoutSeconds != 30 || len(s.Spreader.History) != 1 {
		t.Errorf("unexpected spreader: %+v", s.Spreader)
	}
	if s.Spreader.StopAt != "" {
		t.Error("idle spreader should not report a stop time")
	}
	if s.MQTT.Dropped != 3 || s.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("unexpected mqtt: %+v", s.MQTT)
	}
	if s.Daylight == nil || s.Daylight.Sunrise != "06:05" || s.Daylight.Minutes != 835 {
		t.Errorf("unexpected daylight: %+v", s.Daylight)
	}
	if s.Network != nil {
		t.Error("expected network omitted")
	}
	if s.Config.StorePath != "/var/lib/henny/config.yaml" {
		t.Errorf("store path: got %q", s.Config.StorePath)
	}

	if !strings.Contains(string(data), "\n  ") {
		t.Error("web JSON should be indented")
	}
}

func TestFormatJSONBeforeFirstUpdate(t *testing.T) {
	snap := Snapshot{StartTime: time.Now(), Now: time.Now()}
	data := FormatJSON(snap)

	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	var feeding FeedingJSON
	if err := json.Unmarshal(raw["status"]["feeding"], &feeding); err != nil {
		t.Fatalf("feeding: %v", err)
	}
	if feeding.Season != "UNKNOWN" {
		t.Errorf("season: got %q, want UNKNOWN", feeding.Season)
	}
	if string(raw["status"]["ready"]) != "false" {
		t.Errorf("ready: got %s", raw["status"]["ready"])
	}
	if feeding.Schedule == nil {
		t.Error("empty schedule should encode as [], not null")
	}
	if _, ok := raw["status"]["daylight"]; ok {
		t.Error("daylight should be omitted when unknown")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := fixedSnapshot()
	snap.Network = &NetworkInfo{Type: "wifi", IP: "10.0.0.5", SSID: "coop"}
	snap.Feeder.Motor.Running = true
	snap.Feeder.Motor.StopAt = time.Date(2026, 4, 15, 8, 0, 30, 0, time.UTC)

	data := FormatStatusEvent(snap, "HEARTBEAT", "")
	if strings.Contains(string(data), "\n") {
		t.Error("MQTT payload should be compact")
	}

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := parsed.Status
	if s.Event != "HEARTBEAT" {
		t.Errorf("event: got %q", s.Event)
	}
	if s.Network == nil || s.Network.SSID != "coop" {
		t.Errorf("unexpected network: %+v", s.Network)
	}
	if s.Spreader.StopAt != "2026-04-15T08:00:30Z" {
		t.Errorf("stop at: got %q", s.Spreader.StopAt)
	}

	shutdown := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")
	if err := json.Unmarshal(shutdown, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("reason: got %q", parsed.Status.Reason)
	}
}
