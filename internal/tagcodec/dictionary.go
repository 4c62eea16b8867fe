package tagcodec

// dictionary.go holds the static tables the tag codec is built on: the
// exact key/value pairs and lone keys seen often enough in OSM data to earn
// a one-byte code, plus the relation member roles common enough to earn a
// one-byte role code. Populated from a curated subset of the most frequent
// tags reported by taginfo.openstreetmap.org -- the full dictionary the
// spec describes has on the order of 1-2 thousand entries; this is a
// representative slice sized for a teaching repository rather than a
// planet-scale deployment, and can grow without changing the wire format or
// any of the code around it.
//
// Codes are 1-indexed: knownPairs[i] has code i+1, knownKeys[i] has code
// -(i+1). Code 0 always means "not found in either table".

type pair struct {
	key   string
	value string
}

// knownPairs is the exact key=value dictionary. Order matters: it fixes the
// on-disk code for each pair, so entries are only ever appended, never
// reordered or removed.
var knownPairs = []pair{
	{"highway", "residential"},
	{"highway", "service"},
	{"highway", "footway"},
	{"highway", "path"},
	{"highway", "unclassified"},
	{"highway", "track"},
	{"highway", "tertiary"},
	{"highway", "secondary"},
	{"highway", "primary"},
	{"highway", "trunk"},
	{"highway", "motorway"},
	{"highway", "cycleway"},
	{"highway", "steps"},
	{"highway", "pedestrian"},
	{"highway", "living_street"},
	{"building", "yes"},
	{"building", "house"},
	{"building", "residential"},
	{"building", "garage"},
	{"building", "apartments"},
	{"building", "commercial"},
	{"building", "industrial"},
	{"natural", "tree"},
	{"natural", "water"},
	{"natural", "wood"},
	{"natural", "coastline"},
	{"natural", "scrub"},
	{"landuse", "residential"},
	{"landuse", "farmland"},
	{"landuse", "forest"},
	{"landuse", "grass"},
	{"landuse", "industrial"},
	{"landuse", "commercial"},
	{"surface", "asphalt"},
	{"surface", "paved"},
	{"surface", "unpaved"},
	{"surface", "gravel"},
	{"surface", "concrete"},
	{"amenity", "parking"},
	{"amenity", "restaurant"},
	{"amenity", "school"},
	{"amenity", "bench"},
	{"amenity", "place_of_worship"},
	{"amenity", "fuel"},
	{"amenity", "cafe"},
	{"amenity", "bank"},
	{"amenity", "pharmacy"},
	{"shop", "convenience"},
	{"shop", "supermarket"},
	{"shop", "bakery"},
	{"shop", "hairdresser"},
	{"waterway", "stream"},
	{"waterway", "river"},
	{"waterway", "ditch"},
	{"power", "pole"},
	{"power", "line"},
	{"power", "tower"},
	{"barrier", "fence"},
	{"barrier", "gate"},
	{"barrier", "wall"},
	{"leisure", "park"},
	{"leisure", "pitch"},
	{"railway", "rail"},
	{"railway", "station"},
	{"boundary", "administrative"},
	{"type", "multipolygon"},
	{"type", "boundary"},
	{"type", "route"},
	{"type", "restriction"},
	{"oneway", "yes"},
	{"oneway", "no"},
	{"access", "private"},
	{"access", "yes"},
	{"service", "driveway"},
	{"service", "parking_aisle"},
	{"tunnel", "yes"},
	{"bridge", "yes"},
	{"area", "yes"},
}

// knownKeys is the lone-key dictionary: the key is common enough to deserve
// a code, but the value is freetext and follows inline.
var knownKeys = []string{
	"name",
	"ref",
	"addr:housenumber",
	"addr:street",
	"addr:city",
	"addr:postcode",
	"addr:country",
	"maxspeed",
	"lanes",
	"layer",
	"width",
	"height",
	"ele",
	"operator",
	"network",
	"wikidata",
	"wikipedia",
	"opening_hours",
	"phone",
	"website",
	"description",
	"note",
	"population",
	"admin_level",
}

// knownRoles is the top relation member roles, indexed starting at 1; role
// code 0 means "no role / not in this table".
var knownRoles = []string{
	"outer",
	"inner",
	"from",
	"to",
	"via",
	"stop",
	"platform",
	"member",
	"label",
	"admin_centre",
	"subarea",
	"forward",
	"backward",
	"main_stream",
	"side_stream",
	"house",
	"street",
}

// noiseKeys are dropped during encoding entirely: they carry no geographic
// or descriptive information and bloat every other tool that touches raw
// OSM extracts.
var noiseKeys = map[string]bool{
	"created_by":  true,
	"import_uuid": true,
	"attribution": true,
}

func isNoiseKey(key string) bool {
	if noiseKeys[key] {
		return true
	}
	return hasPrefix(key, "source") || hasPrefix(key, "tiger:")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
