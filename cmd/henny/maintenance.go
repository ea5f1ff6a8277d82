package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"

	"github.com/sweeney/henny/internal/mqtt"
	"github.com/sweeney/henny/internal/status"
	"github.com/sweeney/henny/internal/suncalc"
)

// Job names.
const (
	jobHeartbeat = "heartbeat"
	jobNetwork   = "network-refresh"
	jobDaylight  = "daylight-refresh"
)

const networkRefreshInterval = time.Minute

// maintenance runs the low-frequency jobs that only read shared state:
// heartbeats, network info and sun times. Nothing here touches the feeder.
type maintenance struct {
	publisher mqtt.Publisher
	mqtt      mqtt.ConnectionStatus
	tracker   *status.Tracker
	sun       *suncalc.Calc
	envFile   string
	now       func() time.Time
}

// register adds the jobs on a new scheduler. The caller starts it.
func (m *maintenance) register(heartbeat time.Duration, loc *time.Location) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	add := func(name string, def gocron.JobDefinition, fn func()) error {
		_, err := s.NewJob(def, gocron.NewTask(fn),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		return nil
	}

	if heartbeat > 0 {
		if err := add(jobHeartbeat, gocron.DurationJob(heartbeat), m.heartbeat); err != nil {
			s.Shutdown()
			return nil, err
		}
	}
	if err := add(jobNetwork, gocron.DurationJob(networkRefreshInterval), m.refreshNetwork); err != nil {
		s.Shutdown()
		return nil, err
	}
	daily := gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 1, 0)))
	if err := add(jobDaylight, daily, m.refreshDaylight); err != nil {
		s.Shutdown()
		return nil, err
	}
	return s, nil
}

// publishStatus sends a retained status snapshot as a system event.
func (m *maintenance) publishStatus(event, reason string) error {
	if m.mqtt != nil {
		m.tracker.SetMQTT(mqttInfo(m.mqtt))
	}
	snap := m.tracker.Snapshot()
	return m.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
}

func (m *maintenance) heartbeat() {
	m.refreshNetwork()
	snap := m.tracker.Snapshot()
	log.Printf("heartbeat: uptime=%v fed=%d/%dg sessions=%d/%d",
		snap.Uptime().Truncate(time.Second), snap.Feeder.FedGrams, snap.Feeder.DailyTarget,
		snap.Feeder.SessionsCompleted, snap.Feeder.SessionsPerDay)
	if err := m.publishStatus("HEARTBEAT", ""); err != nil {
		log.Printf("heartbeat publish error: %v", err)
	}
}

func (m *maintenance) refreshNetwork() {
	m.tracker.SetNetwork(readNetworkInfo(m.envFile))
}

func (m *maintenance) refreshDaylight() {
	if m.sun == nil {
		return
	}
	d, err := m.sun.On(m.now())
	if err != nil {
		log.Printf("daylight: %v", err)
		m.tracker.SetDaylight(nil)
		return
	}
	m.tracker.SetDaylight(&d)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

// readNetworkInfo reads the pi-helper env file, falling back to the process
// environment for anything the file does not set. Nil when the status is
// unknown.
func readNetworkInfo(envFile string) *status.NetworkInfo {
	env := map[string]string{}
	if envFile != "" {
		if vals, err := godotenv.Read(envFile); err == nil {
			env = vals
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Printf("network env %s: %v", envFile, err)
		}
	}
	get := func(key string) string {
		if v, ok := env[key]; ok {
			return v
		}
		return os.Getenv(key)
	}

	s := get(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       get(envNetworkType),
		IP:         get(envNetworkIP),
		Status:     s,
		Gateway:    get(envNetworkGateway),
		WifiStatus: get(envNetworkWifiStatus),
		SSID:       get(envNetworkWifiSSID),
	}
}
