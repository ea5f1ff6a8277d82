package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Ready         bool          `json:"ready"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Feeding       FeedingJSON   `json:"feeding"`
	Flock         FlockJSON     `json:"flock"`
	Spreader      SpreaderJSON  `json:"spreader"`
	Buttons       ButtonsJSON   `json:"button_presses"`
	Daylight      *DaylightJSON `json:"daylight,omitempty"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Buffered  int    `json:"buffered"`
	Dropped   int    `json:"dropped"`
}

// FeedingJSON is today's feeding progress.
type FeedingJSON struct {
	Season            string     `json:"season"`
	SeasonFactor      bool       `json:"season_factor"`
	DailyTarget       int        `json:"daily_target_grams"`
	SessionGrams      int        `json:"session_grams"`
	SessionsPerDay    int        `json:"sessions_per_day"`
	SessionsCompleted int        `json:"sessions_completed"`
	FedGrams          int        `json:"fed_grams"`
	DispensedGrams    float64    `json:"dispensed_grams"`
	ProgressPercent   int        `json:"progress_percent"`
	NextFeed          string     `json:"next_feed"`
	LastFeed          string     `json:"last_feed,omitempty"`
	ManualFeedGrams   int        `json:"manual_feed_grams"`
	Schedule          []SlotJSON `json:"schedule"`
}

// SlotJSON is one scheduled session.
type SlotJSON struct {
	Time      string `json:"time"`
	Grams     int    `json:"grams"`
	Completed bool   `json:"completed"`
}

// FlockJSON describes the birds being fed.
type FlockJSON struct {
	Adults      int         `json:"adults"`
	TotalChicks int         `json:"total_chicks"`
	TotalBirds  int         `json:"total_birds"`
	Weeks0To3   int         `json:"chicks_0_3_weeks"`
	Weeks3To6   int         `json:"chicks_3_6_weeks"`
	Weeks6To12  int         `json:"chicks_6_12_weeks"`
	Young       int         `json:"young_chickens"`
	Chicks      []ChickJSON `json:"chick_groups"`
}

// ChickJSON is one chick group.
type ChickJSON struct {
	Index   int `json:"index"`
	Count   int `json:"count"`
	AgeDays int `json:"age_days"`
}

// SpreaderJSON reports the motor and its calibration.
type SpreaderJSON struct {
	Running         bool              `json:"running"`
	Calibrated      bool              `json:"calibrated"`
	GramsPer10s     float64           `json:"grams_per_10s"`
	LastCalibration string            `json:"last_calibration,omitempty"`
	TimeoutSeconds  float64           `json:"timeout_seconds"`
	Activations     int               `json:"activations"`
	StopAt          string            `json:"stop_at,omitempty"`
	History         []CalibrationJSON `json:"calibration_history"`
}

// CalibrationJSON is one saved calibration.
type CalibrationJSON struct {
	Rate      float64 `json:"grams_per_10s"`
	Timestamp string  `json:"timestamp"`
}

// ButtonsJSON counts classified button presses since startup.
type ButtonsJSON struct {
	Short   int `json:"short"`
	Long    int `json:"long"`
	Bounces int `json:"bounces"`
}

// DaylightJSON holds today's sun times, local clock.
type DaylightJSON struct {
	CivilDawn string `json:"civil_dawn"`
	Sunrise   string `json:"sunrise"`
	Sunset    string `json:"sunset"`
	CivilDusk string `json:"civil_dusk"`
	Minutes   int    `json:"daylight_minutes"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	StorePath   string `json:"store_path"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	r := snap.Feeder
	season := string(r.Season)
	if !snap.Updated {
		season = "UNKNOWN"
	}

	inner := StatusInner{
		Ready:         snap.Updated && r.Motor.Calibrated,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Connected: snap.MQTT.Connected,
			Broker:    snap.Config.Broker,
			Buffered:  snap.MQTT.Buffered,
			Dropped:   snap.MQTT.Dropped,
		},
		Feeding: FeedingJSON{
			Season:            season,
			SeasonFactor:      r.SeasonFactor,
			DailyTarget:       r.DailyTarget,
			SessionGrams:      r.SessionGrams,
			SessionsPerDay:    r.SessionsPerDay,
			SessionsCompleted: r.SessionsCompleted,
			FedGrams:          r.FedGrams,
			DispensedGrams:    r.DispensedToday,
			ProgressPercent:   r.ProgressPercent,
			NextFeed:          r.NextFeed,
			LastFeed:          formatTime(r.LastFeed),
			ManualFeedGrams:   r.ManualFeedGrams,
			Schedule:          []SlotJSON{},
		},
		Flock: FlockJSON{
			Adults:      r.Flock.Adults,
			TotalChicks: r.Flock.TotalChicks,
			TotalBirds:  r.Flock.TotalBirds,
			Weeks0To3:   r.Flock.Distribution.Weeks0To3,
			Weeks3To6:   r.Flock.Distribution.Weeks3To6,
			Weeks6To12:  r.Flock.Distribution.Weeks6To12,
			Young:       r.Flock.Distribution.YoungChickens,
			Chicks:      []ChickJSON{},
		},
		Spreader: SpreaderJSON{
			Running:         r.Motor.Running,
			Calibrated:      r.Motor.Calibrated,
			GramsPer10s:     r.Motor.Rate,
			LastCalibration: formatTime(r.LastCalibration),
			TimeoutSeconds:  r.Motor.Timeout.Seconds(),
			Activations:     r.Motor.Activations,
			History:         []CalibrationJSON{},
		},
		Buttons: ButtonsJSON{
			Short:   snap.Buttons.Short,
			Long:    snap.Buttons.Long,
			Bounces: snap.Buttons.Bounces,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			StorePath:   snap.Config.StorePath,
		},
	}

	if r.Motor.Running {
		inner.Spreader.StopAt = formatTime(r.Motor.StopAt)
	}
	for _, s := range r.Schedule {
		inner.Feeding.Schedule = append(inner.Feeding.Schedule, SlotJSON(s))
	}
	for _, c := range r.Chicks {
		inner.Flock.Chicks = append(inner.Flock.Chicks, ChickJSON(c))
	}
	for _, c := range r.Calibration {
		inner.Spreader.History = append(inner.Spreader.History, CalibrationJSON{
			Rate:      c.Rate,
			Timestamp: formatTime(c.Timestamp),
		})
	}
	return inner
}

func buildExtras(snap Snapshot, inner *StatusInner) {
	if d := snap.Daylight; d != nil {
		inner.Daylight = &DaylightJSON{
			CivilDawn: d.CivilDawn.Format("15:04"),
			Sunrise:   d.Sunrise.Format("15:04"),
			Sunset:    d.Sunset.Format("15:04"),
			CivilDusk: d.CivilDusk.Format("15:04"),
			Minutes:   int(d.Length().Minutes()),
		}
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildExtras(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildExtras(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
