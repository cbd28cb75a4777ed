package schedule

import (
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/retrovue/broadcast-core/pkg/catalog"
	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

// selectionContext bundles the pieces pickAsset needs without threading
// each one through every call individually.
type selectionContext struct {
	Catalog   catalog.Catalog
	Filler    catalog.FillerPolicy
	Cursors   CursorStore
	Sink      *telemetry.Sink
	ChannelID string
	Seed      string // derived from (channel, date); combined with zone for Rotation
}

// pickAsset selects the next asset for a zone at the given selection-rule
// call index (how many picks have already been made for this zone in this
// pass — used to advance Sequence/Rotation deterministically without a
// mutable loop variable leaking across zones).
func (sc selectionContext) pickAsset(z Zone, callIndex int) (catalog.Asset, error) {
	switch z.Rule.Kind {
	case SelectionSequence:
		return sc.pickSequence(z)
	case SelectionRotation:
		return sc.pickRotation(z, callIndex)
	case SelectionFiller:
		return sc.pickFiller(z)
	default:
		return catalog.Asset{}, fmt.Errorf("schedule: unknown selection kind %q", z.Rule.Kind)
	}
}

func (sc selectionContext) cursorKey(z Zone) string {
	return sc.ChannelID + "|" + z.ID
}

func (sc selectionContext) pickSequence(z Zone) (catalog.Asset, error) {
	ids := z.Rule.AssetIDs
	if len(ids) == 0 {
		return sc.fallbackToFiller(z, "sequence zone has no configured assets")
	}
	key := sc.cursorKey(z)
	start := sc.Cursors.Get(key)
	for i := 0; i < len(ids); i++ {
		idx := (start + i) % len(ids)
		id := ids[idx]
		if a, ok := sc.Catalog.Lookup(id); ok && a.IsEligible() {
			sc.Cursors.Set(key, (idx+1)%len(ids))
			return a, nil
		}
	}
	sc.Cursors.Set(key, (start+1)%len(ids))
	return sc.fallbackToFiller(z, "no eligible asset in sequence rotation")
}

func (sc selectionContext) pickRotation(z Zone, callIndex int) (catalog.Asset, error) {
	ids := z.Rule.AssetIDs
	if len(ids) == 0 {
		return sc.fallbackToFiller(z, "rotation zone has no configured assets")
	}
	weights := make([]int, len(ids))
	total := 0
	for i := range ids {
		w := 1
		if i < len(z.Rule.Weights) && z.Rule.Weights[i] > 0 {
			w = z.Rule.Weights[i]
		}
		weights[i] = w
		total += w
	}
	seed := fnvSeed(fmt.Sprintf("%s|%s|%d", sc.Seed, z.ID, callIndex))
	rng := rand.New(rand.NewSource(seed))
	roll := rng.Intn(total)
	cum := 0
	for i, w := range weights {
		cum += w
		if roll < cum {
			if a, ok := sc.Catalog.Lookup(ids[i]); ok && a.IsEligible() {
				return a, nil
			}
			break
		}
	}
	// Deterministic fall-through: scan for the first eligible candidate so
	// the result is still reproducible rather than retrying the RNG.
	for _, id := range ids {
		if a, ok := sc.Catalog.Lookup(id); ok && a.IsEligible() {
			return a, nil
		}
	}
	return sc.fallbackToFiller(z, "no eligible asset in rotation set")
}

func (sc selectionContext) pickFiller(z Zone) (catalog.Asset, error) {
	return sc.fallbackToFiller(z, "zone rule is filler")
}

func (sc selectionContext) fallbackToFiller(z Zone, reason string) (catalog.Asset, error) {
	if sc.Filler == nil {
		return catalog.Asset{}, fmt.Errorf("%s and no filler policy configured", reason)
	}
	a, ok := sc.Filler.SelectFiller(catalog.ZoneID(z.ID))
	if !ok {
		return catalog.Asset{}, fmt.Errorf("%s and filler policy has no asset for zone %q", reason, z.ID)
	}
	if sc.Sink != nil {
		sc.Sink.Emit(telemetry.Event{
			ChannelID: sc.ChannelID,
			Code:      telemetry.IneligibleAsset,
			Detail:    fmt.Sprintf("zone %q: %s; substituted filler %q", z.ID, reason, a.ID),
		})
	}
	return a, nil
}

func fnvSeed(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}
