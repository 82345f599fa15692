package providers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jfima/amanu/internal/models"
)

// descriptorFileName is the metadata file every provider directory must carry.
const descriptorFileName = "defaults.yaml"

// loadDescriptor parses one provider's defaults.yaml into a ProviderDescriptor, defaulting
// Name from the directory name when the file omits it.
func loadDescriptor(dir string) (models.ProviderDescriptor, error) {
	path := filepath.Join(dir, descriptorFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ProviderDescriptor{}, fmt.Errorf("read %s: %w", path, err)
	}

	var desc models.ProviderDescriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return models.ProviderDescriptor{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if strings.TrimSpace(desc.Name) == "" {
		desc.Name = filepath.Base(dir)
	}
	if len(desc.Capabilities) == 0 {
		return models.ProviderDescriptor{}, fmt.Errorf("%s: declares no capabilities", path)
	}
	return desc, nil
}

// listProviderDirs returns every immediate subdirectory of root that carries a defaults.yaml.
func listProviderDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read providers dir %s: %w", root, err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, descriptorFileName)); err == nil {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}
