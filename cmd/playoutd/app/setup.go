// Package app wires the process together: configuration in, catalog and
// plans loaded, horizon manager and channel runtime constructed, ops API
// mounted.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/retrovue/broadcast-core/pkg/catalog"
	"github.com/retrovue/broadcast-core/pkg/clock"
	"github.com/retrovue/broadcast-core/pkg/config"
	"github.com/retrovue/broadcast-core/pkg/grid"
	"github.com/retrovue/broadcast-core/pkg/horizon"
	"github.com/retrovue/broadcast-core/pkg/httpapi"
	"github.com/retrovue/broadcast-core/pkg/orchestrator"
	"github.com/retrovue/broadcast-core/pkg/playout"
	"github.com/retrovue/broadcast-core/pkg/schedule"
	"github.com/retrovue/broadcast-core/pkg/telemetry"
	"github.com/retrovue/broadcast-core/pkg/tsmux"
)

// manifestAsset is one catalog record as serialized in the asset manifest.
type manifestAsset struct {
	ID          string  `json:"id"`
	URI         string  `json:"uri"`
	DurationMs  int64   `json:"durationMs"`
	State       string  `json:"state"`
	Approved    bool    `json:"approved"`
	Breakpoints []int64 `json:"breakpoints,omitempty"`
}

type assetManifest struct {
	Assets []manifestAsset `json:"assets"`
}

// channelZone is one zone of a channel's plan as serialized on disk.
type channelZone struct {
	ID         string   `json:"id"`
	StartMin   int      `json:"startMin"`
	EndMin     int      `json:"endMin"`
	DaysOfWeek []int    `json:"daysOfWeek,omitempty"`
	Kind       string   `json:"kind"`
	AssetIDs   []string `json:"assetIds"`
	Weights    []int    `json:"weights,omitempty"`
}

type channelDef struct {
	ID     string        `json:"id"`
	PlanID string        `json:"planId"`
	Zones  []channelZone `json:"zones"`
	Filler string        `json:"fillerAssetId,omitempty"`
}

type channelsFile struct {
	Channels []channelDef `json:"channels"`
}

// LoadAssets reads the asset manifest into catalog records.
func LoadAssets(path string) ([]catalog.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset manifest: %w", err)
	}
	var m assetManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse asset manifest: %w", err)
	}
	assets := make([]catalog.Asset, 0, len(m.Assets))
	for _, a := range m.Assets {
		assets = append(assets, catalog.Asset{
			ID:                   a.ID,
			URI:                  a.URI,
			DurationMs:           a.DurationMs,
			State:                catalog.AssetState(a.State),
			ApprovedForBroadcast: a.Approved,
			Breakpoints:          a.Breakpoints,
		})
	}
	return assets, nil
}

// LoadChannels reads channel/plan definitions.
func LoadChannels(path string) ([]channelDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channel file: %w", err)
	}
	var cf channelsFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse channel file: %w", err)
	}
	return cf.Channels, nil
}

func planFromDef(def channelDef) schedule.SchedulePlan {
	zones := make([]schedule.Zone, 0, len(def.Zones))
	for _, z := range def.Zones {
		days := make([]time.Weekday, 0, len(z.DaysOfWeek))
		for _, d := range z.DaysOfWeek {
			days = append(days, time.Weekday(d))
		}
		zones = append(zones, schedule.Zone{
			ID:         z.ID,
			StartMin:   z.StartMin,
			EndMin:     z.EndMin,
			DaysOfWeek: days,
			Rule: schedule.SelectionRule{
				Kind:     schedule.SelectionKind(z.Kind),
				AssetIDs: z.AssetIDs,
				Weights:  z.Weights,
			},
		})
	}
	planID := def.PlanID
	if planID == "" {
		planID = def.ID + "-plan"
	}
	return schedule.SchedulePlan{PlanID: planID, ChannelID: def.ID, Zones: zones}
}

// Service is the assembled process.
type Service struct {
	Server  *httpapi.Server
	Horizon *horizon.Manager
	Runtime *orchestrator.Runtime
	Clock   clock.Clock
}

// Setup builds every component from configuration. Background loops start
// under ctx; cancel it to stop them.
func Setup(ctx context.Context, cfg *config.ServerConfig) (*Service, error) {
	logger := slog.Default()

	clk, err := clock.NewSystemClock()
	if err != nil {
		return nil, fmt.Errorf("clock: %w", err)
	}
	sink := telemetry.NewSink(logger)

	offsets, err := cfg.BlockStartOffsets()
	if err != nil {
		return nil, err
	}
	gridSpec := grid.Spec{
		BlockMinutes: cfg.GridBlockMinutes,
		StartOffsets: offsets,
		DayStartHour: cfg.ProgrammingDayStartHour,
	}
	if err := gridSpec.Validate(); err != nil {
		return nil, err
	}

	var assets []catalog.Asset
	if cfg.AssetManifest != "" {
		assets, err = LoadAssets(cfg.AssetManifest)
		if err != nil {
			return nil, err
		}
	}
	cat := catalog.NewReloadableCatalog(assets)
	logger.Info("Asset catalog loaded", "count", len(assets))

	// Asset durations key the in-tree decode path by URI.
	durations := make(map[string]int64, len(assets))
	for _, a := range assets {
		durations[a.URI] = a.DurationMs
	}

	var defs []channelDef
	if cfg.ChannelFile != "" {
		defs, err = LoadChannels(cfg.ChannelFile)
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(cfg.TSOutDir, 0o755); err != nil {
		return nil, fmt.Errorf("tsoutdir: %w", err)
	}

	hm := horizon.NewManager(clk, sink, 10*time.Second)

	playCfg := playout.Config{
		FPS:                    cfg.FPS,
		RingFrames:             cfg.RingBufferFrames,
		PreloadTriggerFraction: cfg.PreloadTriggerFraction,
		DriftToleranceMs:       int64(cfg.DriftToleranceMs),
		LateFrameThresholdMs:   int64(cfg.LateFrameThresholdMs),
		TeardownBudgetMs:       int64(cfg.TeardownBudgetMs),
		EmitAvailCues:          cfg.EmitAvailCues,
	}
	newSession := func(channelID string, provider playout.BlockProvider) orchestrator.Session {
		out, err := os.Create(filepath.Join(cfg.TSOutDir, channelID+".ts"))
		var sinkOut playout.TransportSink
		if err != nil {
			logger.Error("transport output unavailable, discarding stream", "channel_id", channelID, "err", err)
			sinkOut = discardSink{}
		} else {
			sinkOut = tsmux.NewMuxer(out, tsmux.Config{EnableCues: cfg.EmitAvailCues})
		}
		newSource := func(entry horizon.ExecutionEntry) playout.Source {
			return playout.NewFileSource(entry, cfg.FPS, playout.NewSyntheticDecoderFactory(cfg.FPS, durations), sink)
		}
		return playout.New(channelID, playCfg, clk, sink, provider, newSource, sinkOut)
	}

	rt := orchestrator.NewRuntime(clk, sink, newSession, orchestrator.Config{
		JoinBudget: time.Duration(cfg.JoinBudgetMs) * time.Millisecond,
	})

	for _, def := range defs {
		plans := schedule.NewPlanHistory()
		plans.Add(planFromDef(def))
		var filler catalog.FillerPolicy
		if def.Filler != "" {
			if fa, ok := cat.Lookup(def.Filler); ok {
				filler = catalog.NewStaticFillerPolicy(map[catalog.ZoneID]catalog.Asset{
					horizon.DefaultFillerZone: fa,
				})
			}
		}
		store := hm.Register(def.ID, horizon.ChannelConfig{
			Grid:            gridSpec,
			Catalog:         cat,
			Filler:          filler,
			Resolved:        schedule.NewResolvedStore(),
			LookaheadBlocks: cfg.LookaheadBlocks,
			Plans:           plans,
			LeadDays:        cfg.MinScheduleDayLeadDays,
		})
		rt.RegisterChannel(def.ID, store)
		logger.Info("Channel registered", "channel_id", def.ID, "zones", len(def.Zones))
	}

	server, err := httpapi.SetupServer(cfg, rt, hm)
	if err != nil {
		return nil, err
	}

	hm.Start(ctx)
	return &Service{Server: server, Horizon: hm, Runtime: rt, Clock: clk}, nil
}

type discardSink struct{}

func (discardSink) WriteFrame(f *playout.Frame) error { return nil }
func (discardSink) Close() error                      { return nil }
