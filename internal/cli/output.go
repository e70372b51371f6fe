package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/shinji-kodama/ngmesh/internal/mesh"
)

// meshSummaryJSON is the JSON form of a mesh summary, shared by the
// generate and info commands.
type meshSummaryJSON struct {
	Points     int            `json:"points"`
	Cells      int            `json:"cells"`
	CellCounts map[string]int `json:"cellCounts"`
	Bounds     *boundsJSON    `json:"bounds,omitempty"`
	Physical   []string       `json:"physicalNames,omitempty"`
	Output     string         `json:"output,omitempty"`
}

type boundsJSON struct {
	Min [3]float64 `json:"min"`
	Max [3]float64 `json:"max"`
}

// summarize collects the figures printed for a mesh. output is the file
// the mesh was written to, if any.
func summarize(m *mesh.Mesh, output string) meshSummaryJSON {
	s := meshSummaryJSON{
		Points:     len(m.Points),
		Cells:      m.NumCells(),
		CellCounts: m.CellCounts(),
		Output:     output,
	}
	if len(m.Points) > 0 {
		b := m.Bounds()
		s.Bounds = &boundsJSON{
			Min: [3]float64{b.Min.X, b.Min.Y, b.Min.Z},
			Max: [3]float64{b.Max.X, b.Max.Y, b.Max.Z},
		}
	}
	for _, pn := range m.PhysicalNames {
		s.Physical = append(s.Physical, pn.Name)
	}
	return s
}

// printMeshSummary writes the summary in text or JSON form.
func printMeshSummary(w io.Writer, m *mesh.Mesh, output string) {
	s := summarize(m, output)
	if IsJSONOutput() {
		data, _ := json.MarshalIndent(s, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}
	printMeshSummaryText(w, m, s)
}

// printMeshSummaryText prints a short report:
//
//	Mesh: 4 points, 5 cells
//	  triangle       4
//	  tetra          1
//	  Bounds:  (0, 0, 0) - (1, 1, 1)
//	  Written: out.msh
func printMeshSummaryText(w io.Writer, m *mesh.Mesh, s meshSummaryJSON) {
	fmt.Fprintf(w, "Mesh: %d points, %d cells\n", s.Points, s.Cells)
	for _, typ := range m.CellTypes() {
		fmt.Fprintf(w, "  %-14s %d\n", typ, s.CellCounts[typ])
	}
	if s.Bounds != nil {
		fmt.Fprintf(w, "  Bounds:  %s - %s\n", formatPoint(s.Bounds.Min), formatPoint(s.Bounds.Max))
	}
	if s.Output != "" {
		fmt.Fprintf(w, "  Written: %s\n", s.Output)
	}
}

// formatPoint renders a coordinate triple with the shortest exact float
// formatting, e.g. "(0, 0.5, 1)".
func formatPoint(p [3]float64) string {
	return "(" + strconv.FormatFloat(p[0], 'g', -1, 64) + ", " +
		strconv.FormatFloat(p[1], 'g', -1, 64) + ", " +
		strconv.FormatFloat(p[2], 'g', -1, 64) + ")"
}
