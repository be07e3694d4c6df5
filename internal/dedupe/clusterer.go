package dedupe

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/locmaster/internal/debug"
	"github.com/locmaster/internal/location"
	"github.com/locmaster/internal/normalize"
)

// ProximityRadiusMeters is the distance under which two geocoded rows are
// treated as the same place
const ProximityRadiusMeters = 50.0

// keyPasses are the bucket passes, run in this order over the whole registry
var keyPasses = []struct {
	kind   normalize.KeyKind
	reason Reason
}{
	{normalize.KeyPlaceID, ReasonPlaceID},
	{normalize.KeyAddressFull, ReasonAddressFull},
	{normalize.KeyAddressNoZip, ReasonAddressNoZip},
}

// Clusterer partitions a master registry into duplicate groups
type Clusterer struct {
	RadiusMeters float64
}

// NewClusterer creates a clusterer with the default proximity radius
func NewClusterer() *Clusterer {
	return &Clusterer{RadiusMeters: ProximityRadiusMeters}
}

// FindDuplicates groups rows with the default clusterer
func FindDuplicates(rows []location.Record) []location.DuplicateGroup {
	return NewClusterer().FindDuplicates(false, rows)
}

// FindDuplicates returns every set of two or more rows linked by a shared
// place_id, full address, address without zip, or coordinates within the
// radius. Groups come out in order of their lowest row index and are
// numbered DUP001, DUP002, ...
func (c *Clusterer) FindDuplicates(localDebug bool, rows []location.Record) []location.DuplicateGroup {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)
	defer debug.DebugTiming(localDebug, fmt.Sprintf("clustering %d rows", len(rows)))()

	uf := NewUnionFind(len(rows))

	for _, pass := range keyPasses {
		unions := unionBuckets(uf, rows, pass.kind, pass.reason)
		debug.DebugOutput(localDebug, "Pass %s: %d unions", pass.reason, unions)
	}

	unions := c.unionProximity(uf, rows)
	debug.DebugOutput(localDebug, "Pass %s: %d unions", ReasonCoordinateProximity, unions)

	sets := uf.Components()
	roots := make([]int, 0, len(sets))
	for root, members := range sets {
		if len(members) >= 2 {
			roots = append(roots, root)
		}
	}
	sort.Ints(roots)

	groups := make([]location.DuplicateGroup, 0, len(roots))
	for i, root := range roots {
		members := sets[root]
		group := location.DuplicateGroup{
			GroupID: fmt.Sprintf("DUP%03d", i+1),
			Reason:  string(uf.Reason(root)),
			Rows:    make([]location.Record, 0, len(members)),
		}
		for _, idx := range members {
			group.Rows = append(group.Rows, rows[idx])
		}
		debug.DebugOutput(localDebug, "%s: %d rows (%s)", group.GroupID, len(group.Rows), group.Reason)
		groups = append(groups, group)
	}
	return groups
}

// unionBuckets unions every pair of rows sharing a non-empty key
func unionBuckets(uf *UnionFind, rows []location.Record, kind normalize.KeyKind, reason Reason) int {
	buckets := make(map[string][]int)
	for i, row := range rows {
		if key, ok := normalize.RecordKey(kind, row); ok {
			buckets[key] = append(buckets[key], i)
		}
	}

	unions := 0
	for _, members := range buckets {
		for _, idx := range members[1:] {
			uf.Union(members[0], idx, reason)
			unions++
		}
	}
	return unions
}

type geoPoint struct {
	idx      int
	lat, lon float64
}

// unionProximity unions every pair of geocoded rows within the radius. Rows
// are swept in latitude order; a pair further apart in latitude alone than
// the radius cannot be within it, which ends the inner scan early.
func (c *Clusterer) unionProximity(uf *UnionFind, rows []location.Record) int {
	radius := c.RadiusMeters
	if radius <= 0 {
		return 0
	}

	points := make([]geoPoint, 0, len(rows))
	for i, row := range rows {
		if row.HasCoordinates() {
			points = append(points, geoPoint{idx: i, lat: *row.Latitude, lon: *row.Longitude})
		}
	}
	sort.Slice(points, func(a, b int) bool {
		if points[a].lat != points[b].lat {
			return points[a].lat < points[b].lat
		}
		return points[a].idx < points[b].idx
	})

	unions := 0
	for i := range points {
		for j := i + 1; j < len(points); j++ {
			if (points[j].lat-points[i].lat)*metersPerDegreeLat > radius {
				break
			}
			if HaversineMeters(points[i].lat, points[i].lon, points[j].lat, points[j].lon) <= radius {
				uf.Union(points[i].idx, points[j].idx, ReasonCoordinateProximity)
				unions++
			}
		}
	}
	return unions
}

// ReasonCounts tallies groups by reason
func ReasonCounts(groups []location.DuplicateGroup) map[string]int {
	counts := make(map[string]int)
	for _, g := range groups {
		counts[g.Reason]++
	}
	return counts
}

// Group lookup errors
var (
	ErrGroupNotFound = errors.New("duplicate group not found")
	ErrGroupChanged  = errors.New("duplicate group membership changed")
)

// ResolveGroup finds a group in a fresh clustering run. Group ids are only
// stable within one run, so when memberIDs is given the group is matched by
// its exact membership and groupID is informational. Without memberIDs the
// lookup falls back to groupID.
func ResolveGroup(groups []location.DuplicateGroup, groupID string, memberIDs []string) (location.DuplicateGroup, error) {
	if len(memberIDs) == 0 {
		for _, g := range groups {
			if g.GroupID == groupID {
				return g, nil
			}
		}
		return location.DuplicateGroup{}, fmt.Errorf("%s: %w", groupID, ErrGroupNotFound)
	}

	want := sortedIDs(memberIDs)
	for _, g := range groups {
		if sameIDs(sortedIDs(g.IDs()), want) {
			return g, nil
		}
	}
	return location.DuplicateGroup{}, fmt.Errorf("%s [%s]: %w", groupID, strings.Join(want, ", "), ErrGroupChanged)
}

// sortedIDs returns the distinct non-empty ids in sorted order
func sortedIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
