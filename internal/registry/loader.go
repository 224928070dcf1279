// Package registry scans bundled model directories.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"llmbridge/internal/common/fsutil"
	"llmbridge/pkg/types"
)

// ModelExtensions are the file suffixes treated as model assets.
var ModelExtensions = []string{".bin", ".task", ".gguf", ".tflite", ".litertlm"}

// IsModelFile reports whether name carries one of ModelExtensions (case-insensitive).
func IsModelFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range ModelExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// LoadDir scans a directory for model files and returns them sorted by name.
// Name is the full filename (including extension). Cached is left false.
func LoadDir(dir string) ([]types.Asset, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var assets []types.Asset
	for _, e := range entries {
		if e.IsDir() || !IsModelFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		assets = append(assets, types.Asset{Name: e.Name(), SizeBytes: info.Size()})
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Name < assets[j].Name })
	return assets, nil
}
