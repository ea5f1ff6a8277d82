// Command henny runs the chicken feeder: it spreads the day's feed in
// scheduled sessions, answers the manual button and takes remote commands
// over HTTP and MQTT.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/alecthomas/kong"

	"github.com/sweeney/henny/internal/feed"
	"github.com/sweeney/henny/internal/gpio"
	"github.com/sweeney/henny/internal/schedule"
	"github.com/sweeney/henny/internal/store"
)

// CLI is the command line.
type CLI struct {
	Config string `short:"c" help:"Config file path" default:"/var/lib/henny/config.yaml" type:"path"`

	Run        RunCmd        `cmd:"" default:"withargs" help:"Run the feeder daemon"`
	PrintState PrintStateCmd `cmd:"" name:"print-state" help:"Print today's feeding state and exit"`
}

// RunCmd starts the daemon.
type RunCmd struct {
	Poll         time.Duration `help:"Button sampling interval" default:"50ms"`
	Tick         time.Duration `help:"Feeding schedule check interval (at most 2m)" default:"1m"`
	Journal      string        `help:"Feed journal database (empty to disable)" default:"/var/lib/henny/journal.db"`
	Broker       string        `help:"MQTT broker address" default:"tcp://192.168.1.200:1883"`
	Heartbeat    time.Duration `help:"Heartbeat interval (0 to disable)" default:"15m"`
	Chip         string        `help:"GPIO chip" default:"${chip}"`
	PinRelay     int           `help:"BCM pin of the motor relay" default:"${pin_relay}"`
	PinLED       int           `name:"pin-led" help:"BCM pin of the status LED" default:"${pin_led}"`
	PinButton    int           `help:"BCM pin of the manual feed button" default:"${pin_button}"`
	HTTP         string        `help:"HTTP address (empty to disable)" default:":80"`
	EnvFile      string        `help:"pi-helper network env file" default:"/run/pi-helper.env"`
	RestartDelay time.Duration `help:"Pause before exiting after a fatal error" default:"5s"`
}

// Validate runs after flag parsing.
func (r *RunCmd) Validate() error {
	if r.Poll <= 0 {
		return fmt.Errorf("--poll must be positive")
	}
	if r.Tick < r.Poll {
		return fmt.Errorf("--tick %v is shorter than --poll %v", r.Tick, r.Poll)
	}
	return schedule.ValidatePollInterval(r.Tick)
}

// Run starts the daemon.
func (r *RunCmd) Run(cli *CLI) error {
	return run(cli.Config, *r)
}

// PrintStateCmd prints the schedule without touching the hardware.
type PrintStateCmd struct{}

// Run prints the state.
func (p *PrintStateCmd) Run(cli *CLI) error {
	st, err := store.Open(cli.Config)
	if err != nil {
		return err
	}
	printState(os.Stdout, st, time.Now().In(loadLocation(st.Location().Timezone)))
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("henny"),
		kong.Description("Chicken feeder controller"),
		kong.UsageOnError(),
		kong.Vars{
			"chip":       gpio.DefaultChip,
			"pin_relay":  strconv.Itoa(gpio.DefaultPinRelay),
			"pin_led":    strconv.Itoa(gpio.DefaultPinLED),
			"pin_button": strconv.Itoa(gpio.DefaultPinButton),
		},
	)
	if err := ctx.Run(&cli); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// loadLocation resolves the configured timezone, falling back to the
// system zone.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("timezone %q: %v, using local time", name, err)
		return time.Local
	}
	return loc
}

func printState(w io.Writer, st *store.Store, now time.Time) {
	sched := schedule.New(st)
	season := feed.SeasonOf(now)
	daily := feed.DailyFeedGrams(st.Flock(), st.Policy(), season, now)
	times := sched.FeedingTimes(season)
	session := feed.SessionFeedGrams(daily, len(times))
	summary := feed.Summarize(st.Flock(), now)
	h, m := sched.NextFeedingTime(now)
	completed := 0
	if st.ScheduleState().LastResetDay == now.Day() {
		completed = sched.SessionsCompleted()
	}

	fmt.Fprintf(w, "Season: %s\n", season.Title())
	fmt.Fprintf(w, "Birds: %d adults, %d chicks\n", summary.Adults, summary.TotalChicks)
	fmt.Fprintf(w, "Daily: %dg in %d sessions of %dg\n", daily, len(times), session)
	for i, hour := range times {
		mark := " "
		if i < completed {
			mark = "x"
		}
		fmt.Fprintf(w, "  [%s] %02d:00 %dg\n", mark, hour, session)
	}
	fmt.Fprintf(w, "Next feed: %02d:%02d\n", h, m)
	if rate := st.CalibrationRate(); rate > 0 {
		fmt.Fprintf(w, "Spreader: %.1fg per 10s\n", rate)
	} else {
		fmt.Fprintln(w, "Spreader: not calibrated")
	}
}
