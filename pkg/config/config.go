// Package config loads and validates the flat configuration block for the
// playout service: defaults, then an optional JSON file, then command-line
// flags, then PLAYOUT_-prefixed environment variables, each layer
// overriding the previous one.
package config

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/retrovue/broadcast-core/pkg/logging"
)

// ServerConfig is the recognized option set. Every field maps to one flag
// and one PLAYOUT_ environment variable.
type ServerConfig struct {
	LogFormat string `json:"logformat"`
	LogLevel  string `json:"loglevel"`
	Port      int    `json:"port"`
	TimeoutS  int    `json:"timeouts"`

	FPS                      int     `json:"fps"`
	GridBlockMinutes         int     `json:"gridblockminutes"`
	BlockStartOffsetsMinutes string  `json:"blockstartoffsetsminutes"` // comma-separated minute offsets
	ProgrammingDayStartHour  int     `json:"programmingdaystarthour"`
	MinScheduleDayLeadDays   int     `json:"minscheduledayleaddays"`
	LookaheadBlocks          int     `json:"lookaheadblocks"`
	RingBufferFrames         int     `json:"ringbufferframes"`
	PreloadTriggerFraction   float64 `json:"preloadtriggerfraction"`
	TeardownBudgetMs         int     `json:"teardownbudgetms"`
	DriftToleranceMs         int     `json:"drifttolerancems"`
	LateFrameThresholdMs     int     `json:"lateframethresholdms"`
	JoinBudgetMs             int     `json:"joinbudgetms"`
	EmitAvailCues            bool    `json:"emitavailcues"`

	// AssetManifest points at a JSON file describing the ingested asset
	// catalog; ChannelFile at the channel/plan definitions; TSOutDir is
	// where each channel's transport stream lands.
	AssetManifest string `json:"assetmanifest"`
	ChannelFile   string `json:"channelfile"`
	TSOutDir      string `json:"tsoutdir"`
}

// DefaultConfig carries the documented defaults.
var DefaultConfig = ServerConfig{
	LogFormat:                "text",
	LogLevel:                 "INFO",
	Port:                     8888,
	TimeoutS:                 60,
	FPS:                      25,
	GridBlockMinutes:         30,
	BlockStartOffsetsMinutes: "0,30",
	ProgrammingDayStartHour:  6,
	MinScheduleDayLeadDays:   3,
	LookaheadBlocks:          2,
	RingBufferFrames:         60,
	PreloadTriggerFraction:   0.5,
	TeardownBudgetMs:         500,
	DriftToleranceMs:         2000,
	LateFrameThresholdMs:     200,
	JoinBudgetMs:             2000,
	TSOutDir:                 "./out",
}

// LoadConfig loads defaults, config file, command line, and finally
// applies environment variables.
func LoadConfig(args []string, cwd string) (*ServerConfig, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig, "json"), nil); err != nil {
		return nil, err
	}

	f := pflag.NewFlagSet("playoutd", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options]:\n", name)
		f.PrintDefaults()
	}
	cfgFile := f.String("cfg", "", "path to a JSON config file")
	f.Int("port", k.Int("port"), "HTTP port for the ops API")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	ll := strings.Join(logging.LogLevels, ", ")
	f.String("loglevel", k.String("loglevel"), fmt.Sprintf("log level [%s]", ll))
	f.Int("timeouts", k.Int("timeouts"), "timeout for ops API requests (seconds)")
	f.Int("fps", k.Int("fps"), "output frame rate")
	f.Int("gridblockminutes", k.Int("gridblockminutes"), "grid block length (minutes)")
	f.String("blockstartoffsetsminutes", k.String("blockstartoffsetsminutes"), "allowed block start offsets within an hour (comma-separated minutes)")
	f.Int("programmingdaystarthour", k.Int("programmingdaystarthour"), "broadcast day start hour")
	f.Int("minscheduledayleaddays", k.Int("minscheduledayleaddays"), "resolved-day materialization lead (days)")
	f.Int("lookaheadblocks", k.Int("lookaheadblocks"), "minimum blocks queued ahead of the executing block")
	f.Int("ringbufferframes", k.Int("ringbufferframes"), "frame ring depth")
	f.Float64("preloadtriggerfraction", k.Float64("preloadtriggerfraction"), "fraction of a block after which the next source preloads")
	f.Int("teardownbudgetms", k.Int("teardownbudgetms"), "session teardown budget (ms)")
	f.Int("drifttolerancems", k.Int("drifttolerancems"), "max |expected CT - actual CT| before termination (ms)")
	f.Int("lateframethresholdms", k.Int("lateframethresholdms"), "frames later than this are dropped (ms)")
	f.Int("joinbudgetms", k.Int("joinbudgetms"), "viewer-join budget (ms)")
	f.Bool("emitavailcues", k.Bool("emitavailcues"), "emit SCTE-35 avail markers at block fences")
	f.String("assetmanifest", k.String("assetmanifest"), "path to the asset catalog manifest (JSON)")
	f.String("channelfile", k.String("channelfile"), "path to channel and plan definitions (JSON)")
	f.String("tsoutdir", k.String("tsoutdir"), "directory for per-channel transport-stream output")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	if *cfgFile != "" {
		if err := k.Load(file.Provider(*cfgFile), json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %v", err)
	}

	err := k.Load(env.Provider("PLAYOUT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "PLAYOUT_")), "_", ".", -1)
	}), nil)
	if err != nil {
		return nil, err
	}

	// Anchor file paths at the working directory when relative.
	for _, key := range []string{"assetmanifest", "channelfile", "tsoutdir"} {
		v := k.String(key)
		if v != "" && !path.IsAbs(v) {
			if err := k.Load(confmap.Provider(map[string]any{key: path.Join(cwd, v)}, "."), nil); err != nil {
				return nil, err
			}
		}
	}

	var cfg ServerConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BlockStartOffsets parses the comma-separated offset list.
func (c *ServerConfig) BlockStartOffsets() ([]int, error) {
	parts := strings.Split(c.BlockStartOffsetsMinutes, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(p, "%d", &v); err != nil {
			return nil, fmt.Errorf("config: bad block start offset %q", p)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: no block start offsets")
	}
	return out, nil
}

// Validate rejects startup parameters the core cannot run with. Any error
// here is fatal at boot.
func (c *ServerConfig) Validate() error {
	if c.FPS <= 0 {
		return fmt.Errorf("config: fps must be positive, got %d", c.FPS)
	}
	if c.GridBlockMinutes <= 0 || 1440%c.GridBlockMinutes != 0 {
		return fmt.Errorf("config: gridblockminutes %d must be positive and divide the day", c.GridBlockMinutes)
	}
	if c.ProgrammingDayStartHour < 0 || c.ProgrammingDayStartHour > 23 {
		return fmt.Errorf("config: programmingdaystarthour %d out of range", c.ProgrammingDayStartHour)
	}
	if c.LookaheadBlocks < 1 {
		return fmt.Errorf("config: lookaheadblocks must be at least 1, got %d", c.LookaheadBlocks)
	}
	if c.RingBufferFrames < 2 {
		return fmt.Errorf("config: ringbufferframes must be at least 2, got %d", c.RingBufferFrames)
	}
	if c.PreloadTriggerFraction <= 0 || c.PreloadTriggerFraction >= 1 {
		return fmt.Errorf("config: preloadtriggerfraction %f out of (0,1)", c.PreloadTriggerFraction)
	}
	if c.MinScheduleDayLeadDays < 1 {
		return fmt.Errorf("config: minscheduledayleaddays must be at least 1, got %d", c.MinScheduleDayLeadDays)
	}
	if _, err := c.BlockStartOffsets(); err != nil {
		return err
	}
	found := false
	for _, lf := range logging.LogFormats {
		if c.LogFormat == lf {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}
