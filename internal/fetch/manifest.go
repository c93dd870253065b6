package fetch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lisurui6/ukbb-batch-downloader/internal/fsx"
)

// Field is one remote data-field request: a UK Biobank field code for a
// given visit (instance) and array index.
type Field struct {
	Code     int `yaml:"code"`
	Visit    int `yaml:"visit"`
	Instance int `yaml:"instance"`
}

// String renders the field the way the fetch tool expects it in a batch
// file, e.g. 20208_2_0.
func (f Field) String() string {
	return fmt.Sprintf("%d_%d_%d", f.Code, f.Visit, f.Instance)
}

// DefaultFields are the cardiac MRI fields fetched at the imaging visit:
// long axis (20208) and short axis (20209) heart images, visit 2, instance 0.
var DefaultFields = []Field{
	{Code: 20208, Visit: 2, Instance: 0},
	{Code: 20209, Visit: 2, Instance: 0},
}

// ManifestName returns the batch file name for id.
func ManifestName(id string) string {
	return id + "_batch"
}

// RenderManifest returns the batch file content: one "<id> <field>" line per
// field.
func RenderManifest(id string, fields []Field) string {
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "%s %s\n", id, f)
	}
	return b.String()
}

// writeManifest creates the batch file for id under dir and returns its
// path. The caller owns removal.
func writeManifest(dir, id string, fields []Field) (string, error) {
	name := ManifestName(id)
	if err := fsx.WriteFileAtomic(dir, name, []byte(RenderManifest(id, fields)), 0o644); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
