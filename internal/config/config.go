// Package config loads the YAML configuration of a vout device: allocator
// partitions and placement policy, the simulated display, the monitor, and
// logging.
package config

import (
	"bytes"
	"io"
	"io/ioutil"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lanikai/vout/internal/bpa"
	"github.com/lanikai/vout/internal/buffer"
	"github.com/lanikai/vout/internal/display"
	"github.com/lanikai/vout/internal/format"
	"github.com/lanikai/vout/internal/logging"
)

var log = logging.DefaultLogger.WithTag("config")

type Config struct {
	// Logging directives, as in the LOGLEVEL environment variable.
	LogLevel string `yaml:"log_level"`

	Boundary       uint64      `yaml:"boundary"`
	Partitions     []Partition `yaml:"partitions"`
	Placement      string      `yaml:"placement"`
	MaxUserBuffers int         `yaml:"max_user_buffers"`

	Sink    Sink    `yaml:"sink"`
	Monitor Monitor `yaml:"monitor"`
}

type Partition struct {
	Name string `yaml:"name"`
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
}

type Sink struct {
	QueueDepth int           `yaml:"queue_depth"`
	VSync      time.Duration `yaml:"vsync"`
	Scan       string        `yaml:"scan"`
	Standard   string        `yaml:"standard"`

	// Optional hardware features: "resize", "deinterlace".
	Caps []string `yaml:"caps"`
}

type Monitor struct {
	// Address of the monitor's HTTP server; empty disables it.
	Listen string `yaml:"listen"`
}

const (
	ScanInterlaced  = "interlaced"
	ScanProgressive = "progressive"

	CapResize      = "resize"
	CapDeinterlace = "deinterlace"
)

func Default() *Config {
	return &Config{
		LogLevel: "info",
		Boundary: bpa.DefaultBoundary,
		Partitions: []Partition{
			{Name: "bigphysarea", Base: 0x40000000, Size: 32 << 20},
			{Name: "v4l2-video-buffers", Base: 0x4c000000, Size: 32 << 20},
		},
		Placement:      "any",
		MaxUserBuffers: buffer.DefaultMaxUserBuffers,
		Sink: Sink{
			QueueDepth: 4,
			VSync:      20 * time.Millisecond,
			Scan:       ScanInterlaced,
			Standard:   "pal",
			Caps:       []string{CapResize, CapDeinterlace},
		},
	}
}

// Load reads a configuration file over the defaults.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	log.Debug("loaded %s", path)
	return cfg, nil
}

// Parse decodes a configuration over the defaults and validates it. Unknown
// keys are errors.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(defaultDirective(c.LogLevel)); err != nil {
		return errors.Wrapf(err, "log_level %q", c.LogLevel)
	}
	if len(c.Partitions) == 0 {
		return errors.New("no partitions")
	}
	for i, p := range c.Partitions {
		if p.Name == "" {
			return errors.Errorf("partition %d has no name", i)
		}
		if p.Size == 0 || p.Base%bpa.PageSize != 0 || p.Size%bpa.PageSize != 0 {
			return errors.Errorf("partition %s: base %#x and size %#x must be nonzero multiples of the page size", p.Name, p.Base, p.Size)
		}
	}
	if c.Boundary != 0 && c.Boundary&(c.Boundary-1) != 0 {
		return errors.Errorf("boundary %#x is not a power of two", c.Boundary)
	}
	if _, err := bpa.ParsePlacement(c.Placement); err != nil {
		return errors.Wrap(err, "placement")
	}
	if c.MaxUserBuffers < 1 {
		return errors.Errorf("max_user_buffers %d", c.MaxUserBuffers)
	}

	s := c.Sink
	if s.QueueDepth < 1 {
		return errors.Errorf("sink queue_depth %d", s.QueueDepth)
	}
	if s.VSync <= 0 {
		return errors.Errorf("sink vsync %v", s.VSync)
	}
	if s.Scan != ScanInterlaced && s.Scan != ScanProgressive {
		return errors.Errorf("sink scan %q", s.Scan)
	}
	if _, ok := display.ParseStandard(s.Standard); !ok {
		return errors.Errorf("sink standard %q", s.Standard)
	}
	for _, feature := range s.Caps {
		if feature != CapResize && feature != CapDeinterlace {
			return errors.Errorf("sink capability %q", feature)
		}
	}
	return nil
}

// defaultDirective picks the bare level out of logging directives.
func defaultDirective(directives string) string {
	level := "info"
	for _, d := range strings.Split(directives, ",") {
		d = strings.TrimSpace(d)
		if d != "" && !strings.Contains(d, "=") {
			level = d
		}
	}
	return level
}

// ApplyLogging hands the logging directives to the logging package.
func (c *Config) ApplyLogging() error {
	return logging.Configure(c.LogLevel)
}

func (c *Config) Allocator() bpa.Config {
	cfg := bpa.Config{Boundary: c.Boundary}
	for _, p := range c.Partitions {
		cfg.Partitions = append(cfg.Partitions, bpa.PartitionConfig{Name: p.Name, Base: p.Base, Size: p.Size})
	}
	return cfg
}

func (c *Config) Pool() buffer.Config {
	placement, _ := bpa.ParsePlacement(c.Placement)
	return buffer.Config{Placement: placement, MaxUserBuffers: c.MaxUserBuffers}
}

func (c *Config) Simulator() display.SimulatorConfig {
	std, _ := display.ParseStandard(c.Sink.Standard)
	caps := display.Caps{MinWidth: 32, MinHeight: 24}
	for _, info := range format.All() {
		caps.Formats = append(caps.Formats, info.Fourcc)
	}
	for _, feature := range c.Sink.Caps {
		switch feature {
		case CapResize:
			caps.Resize = true
		case CapDeinterlace:
			caps.Deinterlace = true
		}
	}
	return display.SimulatorConfig{
		Caps:       caps,
		Mode:       display.ModeFor(std, c.Sink.Scan == ScanProgressive),
		QueueDepth: c.Sink.QueueDepth,
		VSync:      c.Sink.VSync,
	}
}

func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
