package mesh

// elementType describes one Gmsh element type.
type elementType struct {
	gmsh  int
	name  string
	nodes int
}

// elementTypes lists the MSH 2 element types with fixed node counts, using
// meshio's names so meshes look the same regardless of which tool decoded
// them.
var elementTypes = []elementType{
	{1, "line", 2},
	{2, "triangle", 3},
	{3, "quad", 4},
	{4, "tetra", 4},
	{5, "hexahedron", 8},
	{6, "wedge", 6},
	{7, "pyramid", 5},
	{8, "line3", 3},
	{9, "triangle6", 6},
	{10, "quad9", 9},
	{11, "tetra10", 10},
	{12, "hexahedron27", 27},
	{13, "wedge18", 18},
	{14, "pyramid14", 14},
	{15, "vertex", 1},
	{16, "quad8", 8},
	{17, "hexahedron20", 20},
	{18, "wedge15", 15},
	{19, "pyramid13", 13},
}

var (
	elementByGmsh = make(map[int]elementType, len(elementTypes))
	elementByName = make(map[string]elementType, len(elementTypes))
)

func init() {
	for _, et := range elementTypes {
		elementByGmsh[et.gmsh] = et
		elementByName[et.name] = et
	}
}

// NodesPerElement returns the node count of a named element type and
// whether the type is known.
func NodesPerElement(typ string) (int, bool) {
	et, ok := elementByName[typ]
	return et.nodes, ok
}
