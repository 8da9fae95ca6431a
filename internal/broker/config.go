package broker

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/agrifly-io/agrifly/internal/link"
	"github.com/agrifly-io/agrifly/pkg/log"
	"github.com/agrifly-io/agrifly/pkg/options"
)

// DefaultBaud is applied to vehicle entries that omit a baud rate.
const DefaultBaud = 57600

// VehicleConfig is one entry of the configured fleet.
type VehicleConfig struct {
	ID       int    `json:"id" mapstructure:"id"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	Baud     int    `json:"baud" mapstructure:"baud"`
}

// FileConfig is the YAML configuration file layout.
type FileConfig struct {
	Vehicles []VehicleConfig `json:"vehicles" mapstructure:"vehicles"`

	// ArchiveDir is the root for per-mission logs.
	ArchiveDir string `json:"archive-dir" mapstructure:"archive-dir"`

	// StatusRingSize bounds the per-vehicle status history.
	StatusRingSize int `json:"status-ring-size" mapstructure:"status-ring-size"`

	// DetectionDedupSize bounds the seen-detection-id set.
	DetectionDedupSize int `json:"detection-dedup-size" mapstructure:"detection-dedup-size"`

	Link  *options.LinkOptions  `json:"link" mapstructure:"link"`
	Spray *options.SprayOptions `json:"spray" mapstructure:"spray"`
	Http  *options.HttpOptions  `json:"http" mapstructure:"http"`
	Mqtt  *options.MqttOptions  `json:"mqtt" mapstructure:"mqtt"`
	S3    *options.S3Options    `json:"s3" mapstructure:"s3"`
}

// newFileConfig returns the defaults applied before unmarshalling.
func newFileConfig() *FileConfig {
	return &FileConfig{
		ArchiveDir: "data",
		Link:       options.NewLinkOptions(),
		Spray:      options.NewSprayOptions(),
		Http:       options.NewHttpOptions(),
		Mqtt:       options.NewMqttOptions(),
		S3:         options.NewS3Options(),
	}
}

// Validate runs the option validators and checks the vehicle list.
func (c *FileConfig) Validate() error {
	var errs []error
	errs = append(errs, c.Link.Validate()...)
	errs = append(errs, c.Spray.Validate()...)
	errs = append(errs, c.Http.Validate()...)
	errs = append(errs, c.Mqtt.Validate()...)
	errs = append(errs, c.S3.Validate()...)

	seen := make(map[int]bool, len(c.Vehicles))
	for _, v := range c.Vehicles {
		if v.ID <= 0 {
			errs = append(errs, fmt.Errorf("vehicle id must be positive, got %d", v.ID))
		}
		if v.Endpoint == "" {
			errs = append(errs, fmt.Errorf("vehicle %d: endpoint is required", v.ID))
		}
		if seen[v.ID] {
			errs = append(errs, fmt.Errorf("vehicle %d: duplicate id", v.ID))
		}
		seen[v.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %v", errs)
	}
	return nil
}

// LinkConfigs converts the vehicle list for a registry Sync.
func (c *FileConfig) LinkConfigs() []link.Config {
	out := make([]link.Config, 0, len(c.Vehicles))
	for _, v := range c.Vehicles {
		baud := v.Baud
		if baud == 0 {
			baud = DefaultBaud
		}
		out = append(out, link.Config{
			VehicleID: v.ID,
			Endpoint:  v.Endpoint,
			Baud:      baud,
		})
	}
	return out
}

// LoadConfig reads and validates the configuration file. A malformed
// file at startup is fatal to the caller.
func LoadConfig(path string) (*FileConfig, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := unmarshalConfig(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func unmarshalConfig(v *viper.Viper) (*FileConfig, error) {
	cfg := newFileConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WatchConfig re-reads the file on change and hands valid configs to
// onChange. A bad reload is logged and the previous config stays live.
func WatchConfig(v *viper.Viper, onChange func(*FileConfig)) {
	logger := log.WithName("config")
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := v.ReadInConfig(); err != nil {
			logger.Warn("Config reload failed, keeping previous", "file", e.Name, "error", err.Error())
			return
		}
		cfg, err := unmarshalConfig(v)
		if err != nil {
			logger.Warn("Config reload rejected, keeping previous", "file", e.Name, "error", err.Error())
			return
		}
		logger.Info("Config reloaded", "file", e.Name, "vehicles", len(cfg.Vehicles))
		onChange(cfg)
	})
	v.WatchConfig()
}
