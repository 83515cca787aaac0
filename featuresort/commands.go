package featuresort

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// GeomType tags the decoded geometry kind stored alongside a feature,
// per spec §3.
type GeomType uint8

const (
	GeomUnknown GeomType = 0
	GeomPoint   GeomType = 1
	GeomLine    GeomType = 2
	GeomPolygon GeomType = 3
)

// Command ids, the same vector-tile command encoding the downstream
// encoder consumes (github.com/paulmach/orb/encoding/mvt produces the same
// wire format, but does not export a standalone geometry<->commands
// function — see DESIGN.md). MoveTo starts a new part, LineTo appends to
// it, ClosePath closes a ring back to its first point.
const (
	cmdMoveTo    = 1
	cmdLineTo    = 2
	cmdClosePath = 7
)

func commandInteger(id, count uint32) uint32 {
	return (id & 0x7) | (count << 3)
}

func decodeCommandInteger(v uint32) (id, count uint32) {
	return v & 0x7, v >> 3
}

func zigzagEncode(v int64) uint32 {
	return uint32((v << 1) ^ (v >> 63))
}

func zigzagDecode(v uint32) int64 {
	return int64((v >> 1) ^ -(v & 1))
}

// encodeCommands packs geom into the length-prefixed i32 command array
// described in spec §3. Coordinates are truncated to integer tile units by
// the caller's projection step; this codec stores them as-is (rounded to
// the nearest integer) since the command format only carries integers.
func encodeCommands(buf *packBuffer, geomType GeomType, geom orb.Geometry) error {
	var commands []int32

	switch geomType {
	case GeomPoint:
		switch g := geom.(type) {
		case orb.Point:
			commands = appendMoveTo(commands, []orb.Point{g})
		case orb.MultiPoint:
			commands = appendMoveTo(commands, []orb.Point(g))
		default:
			return fmt.Errorf("featuresort: geom type POINT with unsupported geometry %T", geom)
		}
	case GeomLine:
		lines, err := asLineStrings(geom)
		if err != nil {
			return err
		}
		for _, ls := range lines {
			commands = appendLineString(commands, ls)
		}
	case GeomPolygon:
		polys, err := asPolygons(geom)
		if err != nil {
			return err
		}
		for _, poly := range polys {
			for _, ring := range poly {
				commands = appendRing(commands, ring)
			}
		}
	case GeomUnknown:
		// no commands
	default:
		return fmt.Errorf("featuresort: unknown geom type %d", geomType)
	}

	buf.putUvarint(uint64(len(commands)))
	for _, c := range commands {
		buf.putVarint(int64(c))
	}
	return nil
}

func appendMoveTo(commands []int32, pts []orb.Point) []int32 {
	commands = append(commands, int32(commandInteger(cmdMoveTo, uint32(len(pts)))))
	var px, py int64
	for _, p := range pts {
		x, y := int64(math.Round(p.X())), int64(math.Round(p.Y()))
		commands = append(commands, int32(zigzagEncode(x-px)), int32(zigzagEncode(y-py)))
		px, py = x, y
	}
	return commands
}

func appendLineString(commands []int32, ls orb.LineString) []int32 {
	if len(ls) == 0 {
		return commands
	}
	commands = appendMoveTo(commands, []orb.Point{ls[0]})
	if len(ls) <= 1 {
		return commands
	}
	commands = append(commands, int32(commandInteger(cmdLineTo, uint32(len(ls)-1))))
	px, py := int64(math.Round(ls[0].X())), int64(math.Round(ls[0].Y()))
	for _, p := range ls[1:] {
		x, y := int64(math.Round(p.X())), int64(math.Round(p.Y()))
		commands = append(commands, int32(zigzagEncode(x-px)), int32(zigzagEncode(y-py)))
		px, py = x, y
	}
	return commands
}

// appendRing encodes a polygon ring. The MVT convention drops the closing
// point (first==last) and replaces it with a ClosePath command.
func appendRing(commands []int32, ring orb.Ring) []int32 {
	pts := []orb.Point(ring)
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	if len(pts) == 0 {
		return commands
	}
	commands = appendMoveTo(commands, []orb.Point{pts[0]})
	if len(pts) > 1 {
		commands = append(commands, int32(commandInteger(cmdLineTo, uint32(len(pts)-1))))
		px, py := int64(math.Round(pts[0].X())), int64(math.Round(pts[0].Y()))
		for _, p := range pts[1:] {
			x, y := int64(math.Round(p.X())), int64(math.Round(p.Y()))
			commands = append(commands, int32(zigzagEncode(x-px)), int32(zigzagEncode(y-py)))
			px, py = x, y
		}
	}
	commands = append(commands, int32(commandInteger(cmdClosePath, 1)))
	return commands
}

// decodeCommands is the inverse of encodeCommands: it rebuilds an
// orb.Geometry of the requested kind from the packed command array.
func decodeCommands(c *cursor, geomType GeomType) (orb.Geometry, error) {
	n := c.getUvarint()
	commands := make([]int32, n)
	for i := range commands {
		commands[i] = int32(c.getVarint())
	}

	switch geomType {
	case GeomUnknown:
		return nil, nil
	case GeomPoint:
		pts := decodeMoveToOnly(commands)
		if len(pts) == 1 {
			return pts[0], nil
		}
		return orb.MultiPoint(pts), nil
	case GeomLine:
		lines := decodeLineStrings(commands)
		if len(lines) == 1 {
			return lines[0], nil
		}
		return orb.MultiLineString(lines), nil
	case GeomPolygon:
		rings := decodeRings(commands)
		polys := groupRingsIntoPolygons(rings)
		if len(polys) == 1 {
			return polys[0], nil
		}
		return orb.MultiPolygon(polys), nil
	default:
		return nil, fmt.Errorf("featuresort: unknown geom type %d", geomType)
	}
}

func decodeMoveToOnly(commands []int32) []orb.Point {
	var pts []orb.Point
	var px, py int64
	i := 0
	for i < len(commands) {
		id, count := decodeCommandInteger(uint32(commands[i]))
		i++
		if id != cmdMoveTo {
			break
		}
		for k := uint32(0); k < count; k++ {
			dx := zigzagDecode(uint32(commands[i]))
			dy := zigzagDecode(uint32(commands[i+1]))
			i += 2
			px += dx
			py += dy
			pts = append(pts, orb.Point{float64(px), float64(py)})
		}
	}
	return pts
}

func decodeLineStrings(commands []int32) []orb.LineString {
	var lines []orb.LineString
	var px, py int64
	i := 0
	for i < len(commands) {
		id, count := decodeCommandInteger(uint32(commands[i]))
		i++
		if id != cmdMoveTo || count != 1 {
			break
		}
		dx := zigzagDecode(uint32(commands[i]))
		dy := zigzagDecode(uint32(commands[i+1]))
		i += 2
		px += dx
		py += dy
		ls := orb.LineString{{float64(px), float64(py)}}

		if i < len(commands) {
			id2, count2 := decodeCommandInteger(uint32(commands[i]))
			if id2 == cmdLineTo {
				i++
				for k := uint32(0); k < count2; k++ {
					dx := zigzagDecode(uint32(commands[i]))
					dy := zigzagDecode(uint32(commands[i+1]))
					i += 2
					px += dx
					py += dy
					ls = append(ls, orb.Point{float64(px), float64(py)})
				}
			}
		}
		lines = append(lines, ls)
	}
	return lines
}

func decodeRings(commands []int32) []orb.Ring {
	var rings []orb.Ring
	var px, py int64
	i := 0
	for i < len(commands) {
		id, count := decodeCommandInteger(uint32(commands[i]))
		i++
		if id != cmdMoveTo || count != 1 {
			break
		}
		dx := zigzagDecode(uint32(commands[i]))
		dy := zigzagDecode(uint32(commands[i+1]))
		i += 2
		px += dx
		py += dy
		ring := orb.Ring{{float64(px), float64(py)}}

		if i < len(commands) {
			id2, count2 := decodeCommandInteger(uint32(commands[i]))
			if id2 == cmdLineTo {
				i++
				for k := uint32(0); k < count2; k++ {
					dx := zigzagDecode(uint32(commands[i]))
					dy := zigzagDecode(uint32(commands[i+1]))
					i += 2
					px += dx
					py += dy
					ring = append(ring, orb.Point{float64(px), float64(py)})
				}
			}
		}
		if i < len(commands) {
			id3, _ := decodeCommandInteger(uint32(commands[i]))
			if id3 == cmdClosePath {
				i++
				if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
					ring = append(ring, ring[0])
				}
			}
		}
		rings = append(rings, ring)
	}
	return rings
}

// groupRingsIntoPolygons assigns each ring to a polygon using winding
// order: a ring with positive signed area starts a new polygon (exterior
// ring); a ring with negative signed area is a hole of the current
// polygon. This is the same convention the vector-tile spec uses.
func groupRingsIntoPolygons(rings []orb.Ring) []orb.Polygon {
	var polys []orb.Polygon
	for _, ring := range rings {
		if ringArea(ring) > 0 || len(polys) == 0 {
			polys = append(polys, orb.Polygon{ring})
		} else {
			polys[len(polys)-1] = append(polys[len(polys)-1], ring)
		}
	}
	return polys
}

// ringArea returns the signed shoelace area of a ring: positive for
// counter-clockwise (exterior), negative for clockwise (hole), matching
// the orientation convention used throughout the vector-tile and polygon
// merge (§4.G) code. This is the "area(ring)" geometry primitive named in
// spec §6.
func ringArea(ring orb.Ring) float64 {
	var sum float64
	n := len(ring)
	for i := 0; i < n; i++ {
		p1 := ring[i]
		p2 := ring[(i+1)%n]
		sum += p1.X()*p2.Y() - p2.X()*p1.Y()
	}
	return sum / 2
}

func asLineStrings(geom orb.Geometry) ([]orb.LineString, error) {
	switch g := geom.(type) {
	case orb.LineString:
		return []orb.LineString{g}, nil
	case orb.MultiLineString:
		return []orb.LineString(g), nil
	default:
		return nil, fmt.Errorf("featuresort: geom type LINE with unsupported geometry %T", geom)
	}
}

func asPolygons(geom orb.Geometry) ([]orb.Polygon, error) {
	switch g := geom.(type) {
	case orb.Polygon:
		return []orb.Polygon{g}, nil
	case orb.MultiPolygon:
		return []orb.Polygon(g), nil
	default:
		return nil, fmt.Errorf("featuresort: geom type POLYGON with unsupported geometry %T", geom)
	}
}
