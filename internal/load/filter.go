package load

import "osmstore/internal/pbf"

// acceptWay decides whether a way is kept during load pass 1: its node
// references marked in the ID Tracker and its record stored. Keeping
// everything would defeat the point of the two-pass filtered load (most of
// a planet extract's ways are buildings and land-use polygons irrelevant to
// routing/transit use cases), so only ways that carry a highway tag of any
// value, or that represent a public-transport platform, survive.
//
// Grounded on the other_examples graph-search repo's validWay predicate
// (any non-empty highway tag), broadened to also keep platform ways since
// those are the other entity class routing/transit extracts commonly need.
func acceptWay(tags []pbf.Tag) bool {
	for _, t := range tags {
		switch t.Key {
		case "highway":
			if t.Value != "" {
				return true
			}
		case "railway", "public_transport":
			if t.Value == "platform" {
				return true
			}
		}
	}
	return false
}
