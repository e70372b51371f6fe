package mesh

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrUnsupportedVersion is returned for MSH files whose major version is
// not 2.
var ErrUnsupportedVersion = errors.New("unsupported MSH version")

// Header counts come from the file and are not trusted for allocation
// sizes. maxPrealloc caps the initial capacity; maxTags bounds the per
// element tag count of binary groups.
const (
	maxPrealloc = 1 << 16
	maxTags     = 64
)

// mshReader carries the decoding state for one file. Line-oriented and
// binary reads share the same bufio.Reader so binary blocks embedded in
// sections are consumed in place.
type mshReader struct {
	br      *bufio.Reader
	line    int
	binary  bool
	order   binary.ByteOrder
	nodeIdx map[int]int
	mesh    *Mesh
}

// ReadMSH decodes a Gmsh MSH 2.x file (ASCII or binary).
//
// Unknown sections ($NodeData, $Periodic, ...) are skipped. Node ids are
// remapped to 0-based indices in file order.
func ReadMSH(r io.Reader) (*Mesh, error) {
	d := &mshReader{
		br:      bufio.NewReader(r),
		order:   binary.LittleEndian,
		nodeIdx: make(map[int]int),
		mesh:    &Mesh{},
	}
	sawFormat := false
	sawNodes := false

	for {
		line, err := d.nextLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(line, "$") {
			return nil, d.errorf("expected section header, got %q", line)
		}
		section := line[1:]

		switch section {
		case "MeshFormat":
			if err := d.readFormat(); err != nil {
				return nil, err
			}
			sawFormat = true
		case "PhysicalNames":
			if err := d.readPhysicalNames(); err != nil {
				return nil, err
			}
		case "Nodes":
			if !sawFormat {
				return nil, d.errorf("$Nodes before $MeshFormat")
			}
			if err := d.readNodes(); err != nil {
				return nil, err
			}
			sawNodes = true
		case "Elements":
			if !sawNodes {
				return nil, d.errorf("$Elements before $Nodes")
			}
			if err := d.readElements(); err != nil {
				return nil, err
			}
		default:
			if err := d.skipSection(section); err != nil {
				return nil, err
			}
			continue
		}
		if err := d.expectEnd(section); err != nil {
			return nil, err
		}
	}

	if !sawFormat {
		return nil, fmt.Errorf("msh: missing $MeshFormat section")
	}
	if !sawNodes {
		return nil, fmt.Errorf("msh: missing $Nodes section")
	}
	return d.mesh, nil
}

func (d *mshReader) errorf(format string, args ...any) error {
	return fmt.Errorf("msh: line %d: %s", d.line, fmt.Sprintf(format, args...))
}

// nextLine returns the next non-blank line with surrounding whitespace
// removed.
func (d *mshReader) nextLine() (string, error) {
	for {
		s, err := d.br.ReadString('\n')
		if s == "" && err != nil {
			return "", err
		}
		d.line++
		s = strings.TrimSpace(s)
		if s != "" {
			return s, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func (d *mshReader) expectEnd(section string) error {
	line, err := d.nextLine()
	if err != nil {
		return d.errorf("missing $End%s: %v", section, err)
	}
	if line != "$End"+section {
		return d.errorf("expected $End%s, got %q", section, line)
	}
	return nil
}

func (d *mshReader) skipSection(section string) error {
	end := "$End" + section
	for {
		line, err := d.nextLine()
		if err != nil {
			return d.errorf("unterminated section $%s", section)
		}
		if line == end {
			return nil
		}
	}
}

func (d *mshReader) readFormat() error {
	line, err := d.nextLine()
	if err != nil {
		return d.errorf("truncated $MeshFormat")
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return d.errorf("malformed format line %q", line)
	}
	if !strings.HasPrefix(fields[0], "2") {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, fields[0])
	}
	if fields[2] != "8" {
		return d.errorf("unsupported data size %s", fields[2])
	}
	switch fields[1] {
	case "0":
		return nil
	case "1":
		d.binary = true
	default:
		return d.errorf("unknown file type %s", fields[1])
	}

	// Binary files follow the format line with the integer 1 written in
	// the writer's native byte order.
	var one [4]byte
	if _, err := io.ReadFull(d.br, one[:]); err != nil {
		return d.errorf("truncated endianness marker")
	}
	switch {
	case binary.LittleEndian.Uint32(one[:]) == 1:
		d.order = binary.LittleEndian
	case binary.BigEndian.Uint32(one[:]) == 1:
		d.order = binary.BigEndian
	default:
		return d.errorf("invalid endianness marker % x", one)
	}
	return nil
}

func (d *mshReader) readCount(what string) (int, error) {
	line, err := d.nextLine()
	if err != nil {
		return 0, d.errorf("missing %s count", what)
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 0 {
		return 0, d.errorf("invalid %s count %q", what, line)
	}
	return n, nil
}

func (d *mshReader) readPhysicalNames() error {
	n, err := d.readCount("physical name")
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		line, err := d.nextLine()
		if err != nil {
			return d.errorf("truncated $PhysicalNames")
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) != 3 {
			return d.errorf("malformed physical name %q", line)
		}
		dim, err1 := strconv.Atoi(fields[0])
		tag, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			return d.errorf("malformed physical name %q", line)
		}
		d.mesh.PhysicalNames = append(d.mesh.PhysicalNames, PhysicalName{
			Dim:  dim,
			Tag:  tag,
			Name: unquoteName(fields[2]),
		})
	}
	return nil
}

// unquoteName strips one pair of surrounding double quotes. Quotes inside
// the name are kept as written.
func unquoteName(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func (d *mshReader) addNode(id int, p r3.Vec) error {
	if _, dup := d.nodeIdx[id]; dup {
		return d.errorf("duplicate node id %d", id)
	}
	d.nodeIdx[id] = len(d.mesh.Points)
	d.mesh.Points = append(d.mesh.Points, p)
	return nil
}

func (d *mshReader) readNodes() error {
	n, err := d.readCount("node")
	if err != nil {
		return err
	}
	d.mesh.Points = make([]r3.Vec, 0, min(n, maxPrealloc))

	if d.binary {
		rec := make([]byte, 4+3*8)
		for i := 0; i < n; i++ {
			if _, err := io.ReadFull(d.br, rec); err != nil {
				return d.errorf("truncated binary node block")
			}
			id := int(int32(d.order.Uint32(rec[0:4])))
			p := r3.Vec{
				X: math.Float64frombits(d.order.Uint64(rec[4:12])),
				Y: math.Float64frombits(d.order.Uint64(rec[12:20])),
				Z: math.Float64frombits(d.order.Uint64(rec[20:28])),
			}
			if err := d.addNode(id, p); err != nil {
				return err
			}
		}
		return nil
	}

	for i := 0; i < n; i++ {
		line, err := d.nextLine()
		if err != nil {
			return d.errorf("truncated $Nodes")
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return d.errorf("malformed node %q", line)
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return d.errorf("invalid node id %q", fields[0])
		}
		var xyz [3]float64
		for k := 0; k < 3; k++ {
			xyz[k], err = strconv.ParseFloat(fields[k+1], 64)
			if err != nil {
				return d.errorf("invalid coordinate %q", fields[k+1])
			}
		}
		if err := d.addNode(id, r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}); err != nil {
			return err
		}
	}
	return nil
}

// addElement appends one element to the current block, opening a new
// block when the element type changes.
func (d *mshReader) addElement(gmshType int, tags []int, nodeIDs []int) error {
	et, ok := elementByGmsh[gmshType]
	if !ok {
		return d.errorf("unsupported element type %d", gmshType)
	}
	if len(nodeIDs) != et.nodes {
		return d.errorf("%s element needs %d nodes, got %d", et.name, et.nodes, len(nodeIDs))
	}
	row := make([]int, len(nodeIDs))
	for i, id := range nodeIDs {
		idx, ok := d.nodeIdx[id]
		if !ok {
			return d.errorf("element references unknown node %d", id)
		}
		row[i] = idx
	}
	var physical, geometrical int
	if len(tags) > 0 {
		physical = tags[0]
	}
	if len(tags) > 1 {
		geometrical = tags[1]
	}

	cells := d.mesh.Cells
	if len(cells) == 0 || cells[len(cells)-1].Type != et.name {
		d.mesh.Cells = append(d.mesh.Cells, CellBlock{Type: et.name})
	}
	b := &d.mesh.Cells[len(d.mesh.Cells)-1]
	b.Data = append(b.Data, row)
	b.Physical = append(b.Physical, physical)
	b.Geometrical = append(b.Geometrical, geometrical)
	return nil
}

func (d *mshReader) readElements() error {
	n, err := d.readCount("element")
	if err != nil {
		return err
	}
	if d.binary {
		return d.readBinaryElements(n)
	}

	for i := 0; i < n; i++ {
		line, err := d.nextLine()
		if err != nil {
			return d.errorf("truncated $Elements")
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return d.errorf("malformed element %q", line)
		}
		ints := make([]int, len(fields))
		for k, f := range fields {
			if ints[k], err = strconv.Atoi(f); err != nil {
				return d.errorf("invalid integer %q in element", f)
			}
		}
		ntags := ints[2]
		if ntags < 0 || 3+ntags > len(ints) {
			return d.errorf("element %d declares %d tags", ints[0], ntags)
		}
		if err := d.addElement(ints[1], ints[3:3+ntags], ints[3+ntags:]); err != nil {
			return err
		}
	}
	return nil
}

// readBinaryElements reads element groups: each group starts with a
// header (type, count, ntags) followed by count records of
// (id, tags..., nodes...) as 4-byte integers.
func (d *mshReader) readBinaryElements(n int) error {
	var hdr [12]byte
	for read := 0; read < n; {
		if _, err := io.ReadFull(d.br, hdr[:]); err != nil {
			return d.errorf("truncated binary element header")
		}
		gmshType := int(int32(d.order.Uint32(hdr[0:4])))
		count := int(int32(d.order.Uint32(hdr[4:8])))
		ntags := int(int32(d.order.Uint32(hdr[8:12])))
		et, ok := elementByGmsh[gmshType]
		if !ok {
			return d.errorf("unsupported element type %d", gmshType)
		}
		if count <= 0 || read+count > n {
			return d.errorf("invalid binary element group (type %d, count %d)", gmshType, count)
		}
		if ntags < 0 || ntags > maxTags {
			return d.errorf("invalid tag count %d in binary element group", ntags)
		}

		recLen := 1 + ntags + et.nodes
		rec := make([]byte, 4*recLen)
		ints := make([]int, recLen)
		for i := 0; i < count; i++ {
			if _, err := io.ReadFull(d.br, rec); err != nil {
				return d.errorf("truncated binary element block")
			}
			for k := range ints {
				ints[k] = int(int32(d.order.Uint32(rec[4*k:])))
			}
			if err := d.addElement(gmshType, ints[1:1+ntags], ints[1+ntags:]); err != nil {
				return err
			}
		}
		read += count
	}
	return nil
}
