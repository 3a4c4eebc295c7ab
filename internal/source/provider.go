package source

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/jward/injectpoint/internal/bytecode"
)

// Provider supplies source text for a compiled class. ok is false when no
// source is available, which is not an error.
type Provider interface {
	SourceFor(cls *bytecode.ClassNode) (file string, src []byte, ok bool, err error)
}

// FSProvider reads sources from a file system laid out by package,
// e.g. com/example/Target.java.
type FSProvider struct {
	FS fs.FS
}

// SourcePath returns the package-relative path a class's source is expected
// at: the SourceFile attribute when present, else the outermost class name
// with a .java extension.
func SourcePath(cls *bytecode.ClassNode) string {
	dir, simple := path.Split(cls.Name)
	file := cls.SourceFile
	if file == "" {
		outer, _, _ := strings.Cut(simple, "$")
		file = outer + ".java"
	}
	return dir + file
}

// SourceFor implements Provider.
func (p FSProvider) SourceFor(cls *bytecode.ClassNode) (string, []byte, bool, error) {
	file := SourcePath(cls)
	src, err := fs.ReadFile(p.FS, file)
	if errors.Is(err, fs.ErrNotExist) {
		return file, nil, false, nil
	}
	if err != nil {
		return file, nil, false, fmt.Errorf("source: read %s: %w", file, err)
	}
	return file, src, true, nil
}
