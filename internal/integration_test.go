package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sweeney/henny/internal/button"
	"github.com/sweeney/henny/internal/feeder"
	"github.com/sweeney/henny/internal/gpio"
	"github.com/sweeney/henny/internal/journal"
	"github.com/sweeney/henny/internal/motor"
	"github.com/sweeney/henny/internal/mqtt"
	"github.com/sweeney/henny/internal/status"
	"github.com/sweeney/henny/internal/store"
	"github.com/sweeney/henny/internal/web"
)

type rig struct {
	clock     *clockwork.FakeClock
	relay     *gpio.FakeOutput
	store     *store.Store
	journal   *journal.Journal
	orch      *feeder.Orchestrator
	publisher *mqtt.FakePublisher
}

func newRig(t *testing.T, start time.Time) *rig {
	t.Helper()
	r := &rig{
		clock:     clockwork.NewFakeClockAt(start),
		relay:     gpio.NewFakeOutput(),
		publisher: mqtt.NewFakePublisher(),
	}

	var err error
	r.store, err = store.Open(filepath.Join(t.TempDir(), "henny.yaml"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	r.journal, err = journal.Open(":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { r.journal.Close() })

	m, err := motor.New(r.relay, gpio.NewFakeOutput(), r.clock, r.store, motor.Config{})
	if err != nil {
		t.Fatalf("new motor: %v", err)
	}
	t.Cleanup(func() { m.EmergencyStop() })

	r.orch = feeder.New(r.store, m, feeder.Options{
		Clock:    r.clock,
		Location: time.UTC,
		Journal:  r.journal,
		Sink:     mqtt.EventSink{Publisher: r.publisher},
	})
	return r
}

// serve runs a minimal control loop for remote commands until the test ends.
func (r *rig) serve(t *testing.T) *feeder.Dispatcher {
	t.Helper()
	d := feeder.NewDispatcher()
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case req := <-d.Requests():
				req.Respond(r.orch.Execute(req.Command))
			case <-done:
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(done)
		<-stopped
	})
	return d
}

func decodeFeed(t *testing.T, payload []byte) mqtt.FeedPayload {
	t.Helper()
	var p mqtt.Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		t.Fatalf("invalid JSON %s: %v", payload, err)
	}
	return p.Feed
}

// TestIntegrationButtonToMQTT follows a button press from the GPIO line to
// the published MQTT payload and the run journal.
func TestIntegrationButtonToMQTT(t *testing.T) {
	start := time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)
	r := newRig(t, start)
	if err := r.store.SaveCalibration(50, start); err != nil {
		t.Fatalf("save calibration: %v", err)
	}

	input := gpio.NewFakeInput([]gpio.Level{gpio.High, gpio.Low, gpio.Low, gpio.Low, gpio.High})
	detector := button.NewDetector(button.DefaultDebounce, button.DefaultLongPress)

	poll := 50 * time.Millisecond
	for i := 0; i < 5; i++ {
		level, err := input.Read()
		if err != nil {
			t.Fatalf("sample %d: gpio read error: %v", i, err)
		}
		now := start.Add(time.Duration(i) * poll)
		if p := detector.Process(button.Sample{High: level == gpio.High, Time: now}); p != button.None {
			r.orch.HandleButton(p)
		}
	}

	if r.relay.Level() != gpio.High {
		t.Fatal("expected relay energised after a short press")
	}
	if len(r.publisher.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(r.publisher.Payloads))
	}
	p := decodeFeed(t, r.publisher.Payloads[0])
	if p.Event != "FEED_STARTED" || p.Source != "button" || p.Grams != 25 || p.DurationMS != 5000 {
		t.Errorf("unexpected payload: %+v", p)
	}
	if p.ID == "" || p.Timestamp == "" {
		t.Errorf("payload missing id or timestamp: %+v", p)
	}

	rep := r.orch.Report(r.clock.Now())
	if rep.DispensedToday != 25 {
		t.Errorf("journal DispensedToday: got %v, want 25", rep.DispensedToday)
	}

	r.clock.Advance(5 * time.Second)
	waitLow(t, r.relay)
}

// TestIntegrationUncalibratedSlot verifies a scheduled slot with no
// calibration never energises the relay and reports why.
func TestIntegrationUncalibratedSlot(t *testing.T) {
	slot := time.Date(2026, 4, 15, 7, 0, 0, 0, time.UTC)
	r := newRig(t, slot)

	r.orch.Tick(slot)
	r.orch.Tick(slot.Add(time.Minute))

	if r.relay.Rises() != 0 {
		t.Errorf("relay must not rise while uncalibrated, rises=%d", r.relay.Rises())
	}
	if len(r.publisher.Payloads) != 1 {
		t.Fatalf("expected a single skip payload, got %d", len(r.publisher.Payloads))
	}
	p := decodeFeed(t, r.publisher.Payloads[0])
	if p.Event != "FEED_SKIPPED" || p.Reason != feeder.ReasonUncalibrated || p.Source != "schedule" {
		t.Errorf("unexpected payload: %+v", p)
	}
	if p.DurationMS != 0 {
		t.Errorf("skipped payload should omit duration: %+v", p)
	}
}

// TestIntegrationRemoteSurfaces drives the same control loop from HTTP and
// MQTT and checks both see a single motor.
func TestIntegrationRemoteSurfaces(t *testing.T) {
	start := time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)
	r := newRig(t, start)
	d := r.serve(t)

	tracker := status.NewTracker(start, status.Config{})
	srv := httptest.NewServer(web.New("", tracker, web.Options{Dispatcher: d, Location: time.UTC}).Handler())
	defer srv.Close()
	commands := mqtt.NewCommandHandler(d, time.UTC)

	// Calibrate over MQTT.
	reply := commands.Handle([]byte(`{"id":"c1","command":"save_calibration","grams":40}`))
	if !reply.OK {
		t.Fatalf("save_calibration: %+v", reply)
	}
	if got := r.store.CalibrationRate(); got != 40 {
		t.Fatalf("calibration rate: got %v, want 40", got)
	}

	// Feed over HTTP.
	resp, err := http.Post(srv.URL+"/api/feed", "application/json", strings.NewReader(`{"grams":20}`))
	if err != nil {
		t.Fatalf("POST /api/feed: %v", err)
	}
	var body web.ReplyJSON
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !body.OK || body.Duration != 5 {
		t.Fatalf("feed: status %d, reply %+v", resp.StatusCode, body)
	}

	// MQTT feed while the HTTP run is still going.
	reply = commands.Handle([]byte(`{"id":"f1","command":"feed","grams":10}`))
	if reply.OK || !strings.Contains(reply.Message, "busy") {
		t.Errorf("expected busy reply, got %+v", reply)
	}
	if r.relay.Rises() != 1 {
		t.Errorf("relay rises: got %d, want 1", r.relay.Rises())
	}

	// Stop over HTTP, then the redelivered MQTT feed keeps its first answer.
	resp, err = http.Post(srv.URL+"/api/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/stop: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || r.relay.Level() != gpio.Low {
		t.Errorf("stop: status %d, relay %v", resp.StatusCode, r.relay.Level())
	}
	again := commands.Handle([]byte(`{"id":"f1","command":"feed","grams":10}`))
	if again != reply {
		t.Errorf("redelivery should repeat the first reply: %+v vs %+v", again, reply)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rep, err := d.Do(ctx, feeder.Command{Kind: feeder.CmdStatus})
	if err != nil || rep.Report == nil {
		t.Fatalf("status: %v", err)
	}
	if rep.Report.SessionsCompleted != 1 || rep.Report.DispensedToday != 20 {
		t.Errorf("expected one 20g run in the report, got sessions=%d dispensed=%v",
			rep.Report.SessionsCompleted, rep.Report.DispensedToday)
	}
}

func waitLow(t *testing.T, out *gpio.FakeOutput) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for out.Level() != gpio.Low {
		if time.Now().After(deadline) {
			t.Fatal("relay did not drop after the run deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
