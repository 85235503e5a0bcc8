// roboctl runs one robotics control-language program (spec.md §4.E/§5)
// against a standalone Robotics Controller, without a surrounding Device
// Runtime or bus connection. It stands in for the original framework's
// robotics app main loop for bench testing a sequence before wiring it
// into a device's settings.
//
// Grounded on original_source/apps/robotics/main.py.
//
// Usage:
//
//	roboctl --hardware rig.json --program 'SEL arm; MV 50 20; SEL gripper; COL 255 0 0 31 !'
//	roboctl --hardware rig.json --program-file sequence.txt --show-frames
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jangala-dev/inu/actuator"
	"github.com/jangala-dev/inu/ledstrip"
	"github.com/jangala-dev/inu/robotics"
)

const (
	exitUsage     = 1
	exitUnknownOp = 9
)

var (
	flagHardware    string
	flagProgram     string
	flagProgramFile string
	flagLogLevel    string
	flagShowFrames  bool
	flagWarmupMs    int
	flagIdleMs      int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:           "roboctl",
	Short:         "Run a control-language program against a standalone robotics rig",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoboctl,
}

func init() {
	rootCmd.Flags().StringVar(&flagHardware, "hardware", "", "path to the rig's hardware JSON (actuators/strips)")
	rootCmd.Flags().StringVar(&flagProgram, "program", "", "control-language program text")
	rootCmd.Flags().StringVar(&flagProgramFile, "program-file", "", "path to a file containing the program text (alternative to --program)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "logrus level")
	rootCmd.Flags().BoolVar(&flagShowFrames, "show-frames", false, "print each registered LED strip's committed frame after the run")
	rootCmd.Flags().IntVar(&flagWarmupMs, "warmup-ms", 0, "delay after powering on before motion starts")
	rootCmd.Flags().IntVar(&flagIdleMs, "idle-ms", 0, "idle period before an app_tick would cut power (informational only; roboctl exits after one run)")
	_ = rootCmd.MarkFlagRequired("hardware")
}

type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

type noProgramError struct{}

func (noProgramError) Error() string { return "neither --program nor --program-file was given" }

func exitCodeFor(err error) int {
	switch err.(type) {
	case noProgramError:
		return exitUnknownOp
	default:
		return exitUsage
	}
}

func runRoboctl(cmd *cobra.Command, args []string) error {
	log, err := newLogger(flagLogLevel)
	if err != nil {
		return usageError{err}
	}

	program, err := resolveProgram()
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(flagHardware)
	if err != nil {
		return usageError{fmt.Errorf("reading hardware config: %w", err)}
	}
	var hw hardwareSpec
	if err := json.Unmarshal(raw, &hw); err != nil {
		return usageError{fmt.Errorf("decoding hardware config: %w", err)}
	}

	ctrl, strips := buildRig(hw, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.SetPower(ctx, false); err != nil {
		return fmt.Errorf("initial power-off: %w", err)
	}
	ctrl.SetConfig(robotics.Config{
		WarmupDelay:  time.Duration(flagWarmupMs) * time.Millisecond,
		IntPauseTime: 300 * time.Millisecond,
		IdlePeriod:   time.Duration(flagIdleMs) * time.Millisecond,
		Log:          log,
	})

	if err := ctrl.Run(ctx, program); err != nil {
		return fmt.Errorf("running program: %w", err)
	}

	if flagShowFrames {
		for id, d := range strips {
			fmt.Printf("%s: % x\n", id, d.Frame())
		}
	}
	return nil
}

func resolveProgram() (string, error) {
	if flagProgram != "" {
		return flagProgram, nil
	}
	if flagProgramFile != "" {
		data, err := os.ReadFile(flagProgramFile)
		if err != nil {
			return "", usageError{fmt.Errorf("reading program file: %w", err)}
		}
		return string(data), nil
	}
	return "", noProgramError{}
}

func newLogger(level string) (*logrus.Entry, error) {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(lvl)
	return logrus.NewEntry(l), nil
}

// hardwareSpec mirrors cmd/inudevice's hardware JSON shape so the same
// rig description can be used to bench-test a sequence standalone and
// then deploy it behind a real device.
type hardwareSpec struct {
	Actuators map[string]actuatorSpec `json:"actuators"`
	Strips    map[string]stripSpec    `json:"strips"`
}

type actuatorSpec struct {
	StepsPerRevolution int     `json:"steps_per_revolution"`
	ScrewLeadMMPerRev  float64 `json:"screw_lead_mm_per_rev"`
	ForwardDirection   int     `json:"forward_direction"`
	RampAccelMMps2     float64 `json:"ramp_accel_mm_s2"`
	HaltRampAccelMMps2 float64 `json:"halt_ramp_accel_mm_s2"`
	MinSpeedMMps       float64 `json:"min_speed_mm_s"`
	SafeWaitMs         int     `json:"safe_wait_ms"`
}

type stripSpec struct {
	NumPixels int               `json:"num_pixels"`
	Segments  map[string][2]int `json:"segments"`
}

// simOutput is a software sink for the actuator's pulse/direction/enable
// lines, standing in for the out-of-scope GPIO/PWM peripheral.
type simOutput struct {
	id  string
	log *logrus.Entry
}

func (o simOutput) SetEnabled(on bool) { o.log.WithField("actuator", o.id).Debugf("enable=%v", on) }
func (o simOutput) SetDirection(forward bool) {
	o.log.WithField("actuator", o.id).Debugf("direction_forward=%v", forward)
}
func (o simOutput) SetFrequencyHz(hz float64) {
	o.log.WithField("actuator", o.id).Debugf("freq_hz=%.1f", hz)
}

func buildRig(hw hardwareSpec, log *logrus.Entry) (*robotics.Controller, map[string]*ledstrip.Driver) {
	c := robotics.New(robotics.Config{Log: log})
	strips := make(map[string]*ledstrip.Driver, len(hw.Strips))

	for id, a := range hw.Actuators {
		drv := actuator.New(actuator.Config{
			StepsPerRevolution: a.StepsPerRevolution,
			ScrewLeadMMPerRev:  a.ScrewLeadMMPerRev,
			ForwardDirection:   a.ForwardDirection,
			RampAccelMMps2:     a.RampAccelMMps2,
			HaltRampAccelMMps2: a.HaltRampAccelMMps2,
			MinSpeedMMps:       a.MinSpeedMMps,
			SafeWaitMs:         a.SafeWaitMs,
			Output:             simOutput{id: id, log: log},
			Log:                log,
		})
		c.Register(id, drv)
	}
	for id, s := range hw.Strips {
		drv := ledstrip.New(ledstrip.Config{NumPixels: s.NumPixels, Segments: s.Segments, Log: log})
		c.Register(id, drv)
		strips[id] = drv
	}
	return c, strips
}
