// Package options aggregates the broker's command-line options.
package options

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/agrifly-io/agrifly/internal/broker"
	"github.com/agrifly-io/agrifly/pkg/log"
	"github.com/agrifly-io/agrifly/pkg/options"
)

// BrokerOptions groups every option set of the broker binary. A YAML
// config file, when given, takes precedence over the flag values.
type BrokerOptions struct {
	ConfigFile string

	Http  *options.HttpOptions
	Link  *options.LinkOptions
	Spray *options.SprayOptions
	Mqtt  *options.MqttOptions
	S3    *options.S3Options
	Log   *log.Options
}

// NewBrokerOptions creates BrokerOptions with defaults.
func NewBrokerOptions() *BrokerOptions {
	return &BrokerOptions{
		Http:  options.NewHttpOptions(),
		Link:  options.NewLinkOptions(),
		Spray: options.NewSprayOptions(),
		Mqtt:  options.NewMqttOptions(),
		S3:    options.NewS3Options(),
		Log:   log.NewOptions(),
	}
}

// AddFlags binds every option group onto fs.
func (o *BrokerOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile,
		"Path to the YAML configuration file (vehicle list, timing, spray, mqtt, s3).")

	o.Http.AddFlags(fs)
	o.Link.AddFlags(fs)
	o.Spray.AddFlags(fs)
	o.Mqtt.AddFlags(fs)
	o.S3.AddFlags(fs)
	o.Log.AddFlags(fs)
}

// Validate aggregates the per-group validators.
func (o *BrokerOptions) Validate() error {
	var errs []error
	errs = append(errs, o.Http.Validate()...)
	errs = append(errs, o.Link.Validate()...)
	errs = append(errs, o.Spray.Validate()...)
	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.S3.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("invalid options: %w", errors.Join(errs...))
	}
	return nil
}

// Config resolves the effective broker configuration. Without a config
// file the broker starts with an empty fleet; vehicles connect through
// the HTTP or operator surfaces.
func (o *BrokerOptions) Config() (*broker.FileConfig, *viper.Viper, error) {
	if o.ConfigFile != "" {
		return broker.LoadConfig(o.ConfigFile)
	}

	cfg := &broker.FileConfig{
		ArchiveDir: "data",
		Link:       o.Link,
		Spray:      o.Spray,
		Http:       o.Http,
		Mqtt:       o.Mqtt,
		S3:         o.S3,
	}
	return cfg, nil, nil
}
