package photometry

import (
	"sort"

	"github.com/knolan10/BBHBot/internal/types"
)

// coordGroup is one batch-service request unit: coordinates plus the Julian
// days their previous retrievals ended, so the request range starts where
// the archive left off.
type coordGroup struct {
	Coords []types.Coordinate
	Dates  []float64
}

// GroupDates sorts dates ascending and splits them with a sliding window:
// a new group starts whenever the gap to the previous date in the group
// exceeds window days. Grouping keeps one service request per overlapping
// time range instead of one per source.
func GroupDates(dates []float64, window float64) [][]float64 {
	if len(dates) == 0 {
		return nil
	}
	sorted := append([]float64(nil), dates...)
	sort.Float64s(sorted)

	groups := [][]float64{{sorted[0]}}
	for _, d := range sorted[1:] {
		last := groups[len(groups)-1]
		if d-last[len(last)-1] > window {
			groups = append(groups, []float64{d})
			continue
		}
		groups[len(groups)-1] = append(last, d)
	}
	return groups
}

// newCoords returns catalog sources that have no local archive entry yet.
func newCoords(catalog []types.Coordinate, archived map[string]float64) []types.Coordinate {
	var out []types.Coordinate
	for _, c := range catalog {
		if _, ok := archived[coordKey(c)]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// updateGroups returns archived sources whose last retrieval is stale,
// grouped by retrieval date with the sliding window. staleBefore is the
// Julian day before which a retrieval counts as stale.
func updateGroups(archived map[string]float64, staleBefore, window float64) []coordGroup {
	type stale struct {
		coord types.Coordinate
		date  float64
	}
	var candidates []stale
	for key, jd := range archived {
		if jd >= staleBefore {
			continue
		}
		coord, ok := parseCoordKey(key)
		if !ok {
			continue
		}
		candidates = append(candidates, stale{coord: coord, date: jd})
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].date < candidates[j].date })

	groups := []coordGroup{{
		Coords: []types.Coordinate{candidates[0].coord},
		Dates:  []float64{candidates[0].date},
	}}
	for _, cand := range candidates[1:] {
		g := &groups[len(groups)-1]
		if cand.date-g.Dates[len(g.Dates)-1] > window {
			groups = append(groups, coordGroup{
				Coords: []types.Coordinate{cand.coord},
				Dates:  []float64{cand.date},
			})
			continue
		}
		g.Coords = append(g.Coords, cand.coord)
		g.Dates = append(g.Dates, cand.date)
	}
	return groups
}

// formatForBatch splits coords into sub-batches of at most batchSize and
// caps what is submitted immediately at maxBatches sub-batches. Everything
// beyond the cap is returned as overflow for the backlog.
func formatForBatch(coords []types.Coordinate, batchSize, maxBatches int) (immediate [][]types.Coordinate, overflow []types.Coordinate) {
	for start := 0; start < len(coords); start += batchSize {
		end := start + batchSize
		if end > len(coords) {
			end = len(coords)
		}
		if len(immediate) == maxBatches {
			overflow = append(overflow, coords[start:]...)
			break
		}
		immediate = append(immediate, coords[start:end])
	}
	return immediate, overflow
}
