package netgen

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/shlex"
)

// Defaults for the tool invocation. They match the command line the Netgen
// images have always been driven with.
const (
	DefaultExecutable   = "netgen"
	DefaultOutputPath   = "/output.msh"
	DefaultOutputFormat = "Gmsh2 Format"
	DefaultUser         = "root"
	DefaultSuffix       = ".geo"
)

// DefaultIdleCmd keeps a container alive between execs.
var DefaultIdleCmd = []string{"sleep", "infinity"}

// BuildCommandLine renders the Netgen command line for one run:
//
//	<executable> <params> -geofile=<geoPath> -meshfile=<outputPath> -meshfiletype="<format>" -batchmode
//
// params is inserted verbatim. When it is empty the executable is followed
// directly by -geofile=, with no empty token in between.
func BuildCommandLine(executable, params, geoPath, outputPath, format string) string {
	var b strings.Builder
	b.WriteString(executable)
	b.WriteByte(' ')
	if params != "" {
		b.WriteString(params)
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "-geofile=%s -meshfile=%s -meshfiletype=%q -batchmode", geoPath, outputPath, format)
	return b.String()
}

// CheckPathToken returns an error if s would not survive SplitCommandLine
// as part of a single argument. Paths are inserted into the command line
// unquoted, so whitespace splits them and quotes or backslashes are
// consumed by the tokenizer.
func CheckPathToken(what, s string) error {
	if strings.ContainsFunc(s, unicode.IsSpace) || strings.ContainsAny(s, "\"'\\#") {
		return fmt.Errorf("%s %q must not contain whitespace, quotes, backslashes or '#'", what, s)
	}
	return nil
}

// SplitCommandLine tokenizes a command line into argv using shell quoting
// rules, so `-meshfiletype="Gmsh2 Format"` becomes a single argument.
func SplitCommandLine(line string) ([]string, error) {
	argv, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("parse command line %q: %w", line, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command line")
	}
	return argv, nil
}
