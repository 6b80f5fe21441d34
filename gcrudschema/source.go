package gcrudschema

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lemmego/gcrud"
)

// FileSource picks the source for path by its extension
func FileSource(path string) (gcrud.SchemaSource, error) {
	if path == "" {
		return nil, gcrud.NewError(gcrud.ErrorTypeValidation, "schema path is required")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".prisma":
		return PrismaSource{Path: path}, nil
	case ".yaml", ".yml":
		return YAMLSource{Path: path}, nil
	}
	return nil, gcrud.NewError(gcrud.ErrorTypeValidation,
		fmt.Sprintf("unsupported schema file %q, expected .prisma, .yaml or .yml", path))
}
