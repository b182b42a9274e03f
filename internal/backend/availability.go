package backend

import (
	"strings"

	"github.com/samcharles93/spindle/internal/backend/onnx"
)

// Available returns a comma-separated list of the backends that can run
// here; onnx needs its shared library.
func Available(libraryPath string) string {
	entries := []string{Toy}
	if Has(ONNX, libraryPath) {
		entries = append(entries, ONNX)
	}
	return strings.Join(entries, ",")
}

func Has(name, libraryPath string) bool {
	switch name {
	case ONNX:
		return onnx.LibraryAvailable(libraryPath)
	default:
		return name == Toy
	}
}
