package engine

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	stlHeader = 84
	stlFacet  = 50
)

// ReadSTL reads a triangulated surface. Vertices with identical coordinates
// are merged.
func (r *Reference) ReadSTL(path string) (Mesh, error) {
	d, err := readSTL(path)
	if err != nil {
		return nil, err
	}
	return r.NewMesh(Mesh32, d)
}

func readSTL(path string) (MeshData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return MeshData{}, err
	}
	var tris [][9]float64
	if isBinarySTL(raw) {
		tris = decodeBinarySTL(raw)
	} else if tris, err = decodeASCIISTL(raw); err != nil {
		return MeshData{}, fmt.Errorf("stl %s: %w", path, err)
	}
	if len(tris) == 0 {
		return MeshData{}, fmt.Errorf("stl %s: no facets", path)
	}

	var d MeshData
	ids := make(map[[3]float64]uint32)
	for _, t := range tris {
		for v := 0; v < 3; v++ {
			p := [3]float64{t[3*v], t[3*v+1], t[3*v+2]}
			id, ok := ids[p]
			if !ok {
				id = uint32(len(ids))
				ids[p] = id
				d.Coords = append(d.Coords, p[:]...)
			}
			d.Elems = append(d.Elems, id)
		}
		d.Etags = append(d.Etags, 1)
	}
	logf(LevelDebug, "meshd::engine", "read %s: %d facets, %d verts", path, len(tris), len(ids))
	return d, nil
}

// isBinarySTL trusts the facet count in the header when the file size
// matches it exactly. ASCII files start with "solid" but so do some binary
// headers.
func isBinarySTL(raw []byte) bool {
	if len(raw) < stlHeader {
		return false
	}
	n := binary.LittleEndian.Uint32(raw[80:84])
	return uint64(len(raw)) == stlHeader+stlFacet*uint64(n)
}

func decodeBinarySTL(raw []byte) [][9]float64 {
	n := int(binary.LittleEndian.Uint32(raw[80:84]))
	out := make([][9]float64, n)
	for i := range out {
		// Skip the 12-byte normal; vertices follow.
		rec := raw[stlHeader+i*stlFacet+12:]
		for k := 0; k < 9; k++ {
			out[i][k] = float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[4*k:])))
		}
	}
	return out
}

func decodeASCIISTL(raw []byte) ([][9]float64, error) {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	var out [][9]float64
	var cur [9]float64
	nv, line := 0, 0
	for sc.Scan() {
		line++
		f := strings.Fields(sc.Text())
		if len(f) == 0 {
			continue
		}
		switch strings.ToLower(f[0]) {
		case "vertex":
			if len(f) != 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", line)
			}
			if nv == 3 {
				return nil, fmt.Errorf("line %d: facet has more than 3 vertices", line)
			}
			for k := 0; k < 3; k++ {
				x, err := strconv.ParseFloat(f[1+k], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				cur[3*nv+k] = x
			}
			nv++
		case "endloop":
			if nv != 3 {
				return nil, fmt.Errorf("line %d: facet has %d vertices", line, nv)
			}
			out = append(out, cur)
			nv = 0
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if nv != 0 {
		return nil, errors.New("truncated facet")
	}
	return out, nil
}
