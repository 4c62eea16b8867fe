// Package coord implements the compact geographic coordinate used
// throughout the store: longitude and latitude mapped onto the full
// signed-32-bit range, giving ~2cm precision at the equator.
package coord

import "math"

// Coord is a geographic point stored as two signed 32-bit integers.
// x = round(lon * 2^31 / 180), y = round(lat * 2^31 / 90).
type Coord struct {
	X int32
	Y int32
}

const (
	lonScale = float64(1<<31) / 180.0
	latScale = float64(1<<31) / 90.0
)

// FromDegrees converts floating point longitude/latitude (in degrees) to the
// internal representation. The upper bounds lon = 180 and lat = 90 (2^31,
// one past the int32 range) are clamped to math.MaxInt32.
func FromDegrees(lon, lat float64) Coord {
	return Coord{
		X: int32(math.Min(math.Round(lon*lonScale), math.MaxInt32)),
		Y: int32(math.Min(math.Round(lat*latScale), math.MaxInt32)),
	}
}

// FromNanodegrees converts PBF-style nanodegree longitude/latitude to the
// internal representation.
func FromNanodegrees(lonNano, latNano int64) Coord {
	return FromDegrees(float64(lonNano)/1e9, float64(latNano)/1e9)
}

// Lon returns the longitude in degrees.
func (c Coord) Lon() float64 {
	return float64(c.X) / lonScale
}

// Lat returns the latitude in degrees.
func (c Coord) Lat() float64 {
	return float64(c.Y) / latScale
}

// ToNanodegrees returns the longitude and latitude in nanodegrees, the unit
// PBF node callbacks use.
func (c Coord) ToNanodegrees() (lonNano, latNano int64) {
	return int64(math.Round(c.Lon() * 1e9)), int64(math.Round(c.Lat() * 1e9))
}

// CellX returns the grid column for this coordinate at the given number of
// bits of grid resolution (14 for the 2^14 x 2^14 spatial grid): the top
// bits of X offset by 2^31, so lon -180 is column 0 and columns increase
// eastward up to 2^bits-1.
func (c Coord) CellX(bits uint) uint32 {
	return (uint32(c.X) ^ 0x80000000) >> (32 - bits)
}

// CellY returns the grid row for this coordinate at the given number of bits
// of grid resolution, offset the same way as CellX (lat -90 is row 0).
func (c Coord) CellY(bits uint) uint32 {
	return (uint32(c.Y) ^ 0x80000000) >> (32 - bits)
}
