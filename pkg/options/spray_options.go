package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SprayOptions)(nil)

// SprayOptions holds payload defaults for the spray orchestrator.
// Volumes are in abstract tank units.
type SprayOptions struct {
	// TankCapacity is the full tank volume.
	TankCapacity float64 `json:"tank-capacity" mapstructure:"tank-capacity"`

	// VolumePerTarget is the volume consumed per completed spray.
	VolumePerTarget float64 `json:"volume-per-target" mapstructure:"volume-per-target"`

	// RefillThreshold pauses the run for a refill when the tank drops
	// below it.
	RefillThreshold float64 `json:"refill-threshold" mapstructure:"refill-threshold"`

	// SprayDuration is the dispensing time per target.
	SprayDuration time.Duration `json:"spray-duration" mapstructure:"spray-duration"`

	// LoiterTime is the pre-spray settle time over a target.
	LoiterTime time.Duration `json:"loiter-time" mapstructure:"loiter-time"`

	// SprayAltitude is the per-target altitude when a target carries none.
	SprayAltitude float64 `json:"spray-altitude" mapstructure:"spray-altitude"`

	// AutoResumeAfterRefill continues the run when a refill is confirmed.
	AutoResumeAfterRefill bool `json:"auto-resume-after-refill" mapstructure:"auto-resume-after-refill"`

	// RequireManualConfirmation gates the post-refill resume on an
	// explicit operator confirmation.
	RequireManualConfirmation bool `json:"require-manual-confirmation" mapstructure:"require-manual-confirmation"`
}

// NewSprayOptions creates SprayOptions with defaults.
func NewSprayOptions() *SprayOptions {
	return &SprayOptions{
		TankCapacity:              1000,
		VolumePerTarget:           50,
		RefillThreshold:           100,
		SprayDuration:             3 * time.Second,
		LoiterTime:                5 * time.Second,
		SprayAltitude:             5,
		AutoResumeAfterRefill:     true,
		RequireManualConfirmation: true,
	}
}

func (o *SprayOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.TankCapacity <= 0 {
		errors = append(errors, fmt.Errorf("spray: tank-capacity must be positive, got %v", o.TankCapacity))
	}
	if o.VolumePerTarget <= 0 || o.VolumePerTarget > o.TankCapacity {
		errors = append(errors, fmt.Errorf("spray: volume-per-target %v outside (0, %v]", o.VolumePerTarget, o.TankCapacity))
	}
	if o.RefillThreshold < 0 || o.RefillThreshold >= o.TankCapacity {
		errors = append(errors, fmt.Errorf("spray: refill-threshold %v outside [0, %v)", o.RefillThreshold, o.TankCapacity))
	}

	return errors
}

func (o *SprayOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Float64Var(&o.TankCapacity, "spray.tank-capacity", o.TankCapacity, "Full tank volume.")
	fs.Float64Var(&o.VolumePerTarget, "spray.volume-per-target", o.VolumePerTarget, "Volume consumed per completed spray target.")
	fs.Float64Var(&o.RefillThreshold, "spray.refill-threshold", o.RefillThreshold, "Tank level below which a refill is required.")
	fs.DurationVar(&o.SprayDuration, "spray.spray-duration", o.SprayDuration, "Dispensing time per target.")
	fs.DurationVar(&o.LoiterTime, "spray.loiter-time", o.LoiterTime, "Pre-spray settle time over a target.")
	fs.Float64Var(&o.SprayAltitude, "spray.spray-altitude", o.SprayAltitude, "Default target altitude.")
	fs.BoolVar(&o.AutoResumeAfterRefill, "spray.auto-resume-after-refill", o.AutoResumeAfterRefill, "Continue automatically when a refill is confirmed.")
	fs.BoolVar(&o.RequireManualConfirmation, "spray.require-manual-confirmation", o.RequireManualConfirmation, "Require operator confirmation before post-refill resume.")
}
