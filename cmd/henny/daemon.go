package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sweeney/henny/internal/button"
	"github.com/sweeney/henny/internal/feeder"
	"github.com/sweeney/henny/internal/gpio"
	"github.com/sweeney/henny/internal/journal"
	"github.com/sweeney/henny/internal/metrics"
	"github.com/sweeney/henny/internal/motor"
	"github.com/sweeney/henny/internal/mqtt"
	"github.com/sweeney/henny/internal/status"
	"github.com/sweeney/henny/internal/store"
	"github.com/sweeney/henny/internal/suncalc"
	"github.com/sweeney/henny/internal/web"
)

func run(configPath string, opts RunCmd) error {
	st, err := store.Open(configPath)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	site := st.Location()
	loc := loadLocation(site.Timezone)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)
	st.OnWriteError = func(err error) {
		rec.IncStoreWriteFailure()
	}

	var jrnl *journal.Journal
	if opts.Journal != "" {
		jrnl, err = journal.Open(opts.Journal)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer jrnl.Close()
	}

	// Initialize GPIO
	relay, err := gpio.NewRealOutput(opts.Chip, opts.PinRelay)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	led, err := gpio.NewRealOutput(opts.Chip, opts.PinLED)
	if err != nil {
		relay.Close()
		return fmt.Errorf("init led: %w", err)
	}
	btn, err := gpio.NewRealInput(opts.Chip, opts.PinButton)
	if err != nil {
		relay.Close()
		led.Close()
		return fmt.Errorf("init button: %w", err)
	}
	defer btn.Close()

	clock := clockwork.NewRealClock()
	m, err := motor.New(relay, led, clock, st, motor.Config{Timeout: st.MotorTimeout()})
	if err != nil {
		relay.Close()
		led.Close()
		return fmt.Errorf("init motor: %w", err)
	}
	defer m.Close()
	m.SetRecorder(rec)

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(mqtt.Config{Broker: opts.Broker})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	orch := feeder.New(st, m, feeder.Options{
		Clock:    clock,
		Location: loc,
		Journal:  jrnl,
		Metrics:  rec,
		Sink:     mqtt.EventSink{Publisher: publisher},
	})
	orch.RefreshReadyLED()

	dispatcher := feeder.NewDispatcher()
	publisher.HandleCommands(mqtt.NewCommandHandler(dispatcher, loc))

	// Initialize status tracker (before STARTUP so snapshot is available)
	start := clock.Now()
	tracker := status.NewTracker(start, status.Config{
		PollMs:      opts.Poll.Milliseconds(),
		TickMs:      opts.Tick.Milliseconds(),
		HeartbeatMs: opts.Heartbeat.Milliseconds(),
		Broker:      opts.Broker,
		HTTPPort:    opts.HTTP,
		StorePath:   st.Path(),
	})
	detector := button.NewDetector(button.DefaultDebounce, button.DefaultLongPress)
	tracker.Update(orch.Report(start), detector.CountsSnapshot())

	maint := &maintenance{
		publisher: publisher,
		mqtt:      publisher,
		tracker:   tracker,
		sun:       suncalc.New(site.Latitude, site.Longitude, loc),
		envFile:   opts.EnvFile,
		now:       clock.Now,
	}
	maint.refreshNetwork()
	maint.refreshDaylight()

	// Publish startup event with full status snapshot
	if err := maint.publishStatus("STARTUP", ""); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	jobs, err := maint.register(opts.Heartbeat, loc)
	if err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Shutdown()

	// Start HTTP server
	if opts.HTTP != "" {
		srv := web.New(opts.HTTP, tracker, web.Options{
			Dispatcher: dispatcher,
			Metrics:    rec.Handler(),
			Location:   loc,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http server listening on %s", opts.HTTP)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloads, err := st.Watch(ctx, store.DefaultWatchDebounce)
	if err != nil {
		// Edits then need a restart.
		log.Printf("config watch disabled: %v", err)
	}

	log.Printf("started: poll=%v tick=%v broker=%s heartbeat=%v config=%s", opts.Poll, opts.Tick, opts.Broker, opts.Heartbeat, st.Path())

	ticker := clock.NewTicker(opts.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	deps := loopDeps{
		feeder:    orch,
		store:     st,
		button:    btn,
		detector:  detector,
		publisher: publisher,
		mqtt:      publisher,
		tracker:   tracker,
		tickEvery: opts.Tick,
		now:       clock.Now,
	}
	return guard(orch.EmergencyStop, opts.RestartDelay, time.Sleep, func() error {
		return runLoop(deps, channels{
			tick:     ticker.Chan(),
			requests: dispatcher.Requests(),
			reloads:  reloads,
			sig:      sigCh,
		})
	})
}
