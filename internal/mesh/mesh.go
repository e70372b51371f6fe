package mesh

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// Mesh is a decoded volume or surface mesh.
type Mesh struct {
	// Points are the node coordinates. Cells refer to them by index.
	Points []r3.Vec `json:"points"`

	// Cells are the element blocks in file order.
	Cells []CellBlock `json:"cells"`

	// PhysicalNames are the named physical groups declared in the file.
	PhysicalNames []PhysicalName `json:"physicalNames,omitempty"`
}

// CellBlock is a run of elements sharing one element type.
type CellBlock struct {
	// Type is the meshio-style element name, e.g. "tetra" or "triangle".
	Type string `json:"type"`

	// Data holds one row of point indices per element.
	Data [][]int `json:"data"`

	// Physical is the physical group tag of each element (0 if untagged).
	Physical []int `json:"physical,omitempty"`

	// Geometrical is the elementary entity tag of each element
	// (0 if untagged). Netgen writes the face or domain number here.
	Geometrical []int `json:"geometrical,omitempty"`
}

// PhysicalName is an entry of the $PhysicalNames section.
type PhysicalName struct {
	Dim  int    `json:"dim"`
	Tag  int    `json:"tag"`
	Name string `json:"name"`
}

// NumCells returns the total number of elements across all blocks.
func (m *Mesh) NumCells() int {
	n := 0
	for _, b := range m.Cells {
		n += len(b.Data)
	}
	return n
}

// CellCounts returns the number of elements per element type.
func (m *Mesh) CellCounts() map[string]int {
	counts := make(map[string]int, len(m.Cells))
	for _, b := range m.Cells {
		counts[b.Type] += len(b.Data)
	}
	return counts
}

// CellTypes returns the distinct element types in the mesh, sorted.
func (m *Mesh) CellTypes() []string {
	counts := m.CellCounts()
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// CellsOfType concatenates the connectivity of every block of the given
// type. It returns nil if the mesh has no such elements.
func (m *Mesh) CellsOfType(typ string) [][]int {
	var out [][]int
	for _, b := range m.Cells {
		if b.Type == typ {
			out = append(out, b.Data...)
		}
	}
	return out
}

// Bounds returns the axis-aligned bounding box of all points. An empty
// mesh yields the zero box.
func (m *Mesh) Bounds() r3.Box {
	if len(m.Points) == 0 {
		return r3.Box{}
	}
	box := r3.Box{Min: m.Points[0], Max: m.Points[0]}
	for _, p := range m.Points[1:] {
		box.Min.X = min(box.Min.X, p.X)
		box.Min.Y = min(box.Min.Y, p.Y)
		box.Min.Z = min(box.Min.Z, p.Z)
		box.Max.X = max(box.Max.X, p.X)
		box.Max.Y = max(box.Max.Y, p.Y)
		box.Max.Z = max(box.Max.Z, p.Z)
	}
	return box
}

// Validate checks that every block has a known type, rows of the right
// length, in-range point indices, and tag slices that are either empty or
// one entry per element.
func (m *Mesh) Validate() error {
	for i, b := range m.Cells {
		et, ok := elementByName[b.Type]
		if !ok {
			return fmt.Errorf("cell block %d: unknown element type %q", i, b.Type)
		}
		if len(b.Physical) != 0 && len(b.Physical) != len(b.Data) {
			return fmt.Errorf("cell block %d: %d physical tags for %d elements", i, len(b.Physical), len(b.Data))
		}
		if len(b.Geometrical) != 0 && len(b.Geometrical) != len(b.Data) {
			return fmt.Errorf("cell block %d: %d geometrical tags for %d elements", i, len(b.Geometrical), len(b.Data))
		}
		for j, row := range b.Data {
			if len(row) != et.nodes {
				return fmt.Errorf("cell block %d element %d: %s needs %d nodes, got %d", i, j, b.Type, et.nodes, len(row))
			}
			for _, idx := range row {
				if idx < 0 || idx >= len(m.Points) {
					return fmt.Errorf("cell block %d element %d: point index %d out of range", i, j, idx)
				}
			}
		}
	}
	return nil
}
