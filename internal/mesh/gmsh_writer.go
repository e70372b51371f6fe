package mesh

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// WriteMSH encodes m as a Gmsh MSH 2.2 ASCII file. Node and element ids
// are written 1-based in order; every element carries two tags (physical,
// geometrical), defaulting to 0 when the block has none.
func WriteMSH(w io.Writer, m *Mesh) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("write msh: %w", err)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "$MeshFormat\n2.2 0 8\n$EndMeshFormat\n")

	if len(m.PhysicalNames) > 0 {
		fmt.Fprintf(bw, "$PhysicalNames\n%d\n", len(m.PhysicalNames))
		for _, pn := range m.PhysicalNames {
			// Gmsh writes names between plain double quotes with no escaping.
			fmt.Fprintf(bw, "%d %d \"%s\"\n", pn.Dim, pn.Tag, pn.Name)
		}
		fmt.Fprint(bw, "$EndPhysicalNames\n")
	}

	fmt.Fprintf(bw, "$Nodes\n%d\n", len(m.Points))
	for i, p := range m.Points {
		fmt.Fprintf(bw, "%d %s %s %s\n", i+1, formatFloat(p.X), formatFloat(p.Y), formatFloat(p.Z))
	}
	fmt.Fprint(bw, "$EndNodes\n")

	fmt.Fprintf(bw, "$Elements\n%d\n", m.NumCells())
	id := 1
	for _, b := range m.Cells {
		gmshType := elementByName[b.Type].gmsh
		for j, row := range b.Data {
			fmt.Fprintf(bw, "%d %d 2 %d %d", id, gmshType, tagAt(b.Physical, j), tagAt(b.Geometrical, j))
			for _, idx := range row {
				fmt.Fprintf(bw, " %d", idx+1)
			}
			bw.WriteByte('\n')
			id++
		}
	}
	fmt.Fprint(bw, "$EndElements\n")

	return bw.Flush()
}

// formatFloat uses the shortest representation that parses back to the
// same float64.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func tagAt(tags []int, i int) int {
	if i < len(tags) {
		return tags[i]
	}
	return 0
}
