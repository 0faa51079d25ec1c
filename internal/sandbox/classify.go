package sandbox

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type ExecutableKind string

const (
	KindScript        ExecutableKind = "script"
	KindNative        ExecutableKind = "native"
	KindUnknown       ExecutableKind = "unknown"
	KindNotExecutable ExecutableKind = "non-executable"
)

// Classification is the result of inspecting one resolved executable.
// Interpreter is only set for scripts.
type Classification struct {
	Kind        ExecutableKind
	Interpreter string
}

var binaryMagics = [][]byte{
	{0x7f, 'E', 'L', 'F'},
	{0xfe, 0xed, 0xfa, 0xce}, // Mach-O 32
	{0xfe, 0xed, 0xfa, 0xcf}, // Mach-O 64
	{0xce, 0xfa, 0xed, 0xfe},
	{0xcf, 0xfa, 0xed, 0xfe},
	{0xca, 0xfe, 0xba, 0xbe}, // universal
}

// maxShebang bounds how much of the first line is read.
const maxShebang = 512

// Classify inspects path. lookPath resolves "#!/usr/bin/env name" style
// interpreters one level through the search path.
func Classify(path string, lookPath func(string) (string, error)) (Classification, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Classification{}, err
	}
	if info.Mode().Perm()&0o100 == 0 {
		return Classification{Kind: KindNotExecutable}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Classification{}, err
	}
	defer f.Close()

	head := make([]byte, maxShebang)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Classification{}, err
	}
	head = head[:n]

	if bytes.HasPrefix(head, []byte("#!")) {
		if interp := parseShebang(head, lookPath); interp != "" {
			return Classification{Kind: KindScript, Interpreter: interp}, nil
		}
	}
	for _, magic := range binaryMagics {
		if bytes.HasPrefix(head, magic) {
			return Classification{Kind: KindNative}, nil
		}
	}
	return Classification{Kind: KindUnknown}, nil
}

// parseShebang returns the interpreter named on the first line, or "" when
// the line carries no interpreter token.
func parseShebang(head []byte, lookPath func(string) (string, error)) string {
	line, _, _ := bufio.NewReader(bytes.NewReader(head[2:])).ReadLine()
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return ""
	}
	interp := fields[0]
	if filepath.Base(interp) == "env" && len(fields) > 1 {
		args := fields[1:]
		for len(args) > 0 && strings.HasPrefix(args[0], "-") {
			args = args[1:]
		}
		if len(args) > 0 && lookPath != nil {
			if resolved, err := lookPath(args[0]); err == nil {
				return resolved
			}
		}
	}
	return interp
}

// venvMarkers identify the root of an isolated Python environment.
var venvMarkers = []string{"pyvenv.cfg", filepath.Join("bin", "activate")}

// FindVenvRoot looks two and three levels above a python interpreter for
// an environment marker. The interpreter path is not resolved through
// symlinks: a venv's bin/python symlink is itself the signal.
func FindVenvRoot(interpreter string) (string, bool) {
	if !strings.Contains(interpreter, "python") {
		return "", false
	}
	parent := filepath.Dir(interpreter)
	candidates := []string{filepath.Dir(parent), filepath.Dir(filepath.Dir(parent))}
	for _, root := range candidates {
		for _, marker := range venvMarkers {
			if _, err := os.Stat(filepath.Join(root, marker)); err == nil {
				return root, true
			}
		}
	}
	return "", false
}
