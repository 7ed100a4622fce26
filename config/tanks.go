package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/tankwatch/core/model"
)

// TanksFile is the provisioning document listing tank geometries.
type TanksFile struct {
	Tanks []model.TankGeometry `yaml:"tanks"`
}

// LoadTanks reads the provisioning file at path. Geometry validity is left
// to the store so that a broken entry only blocks its own tank.
func LoadTanks(path string) ([]model.TankGeometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tanks file: %w", err)
	}
	var f TanksFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tanks file %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(f.Tanks))
	for i, g := range f.Tanks {
		if g.TankID == "" {
			return nil, fmt.Errorf("tanks[%d]: tank_id is required", i)
		}
		if _, dup := seen[g.TankID]; dup {
			return nil, fmt.Errorf("tanks[%d]: duplicate tank_id %q", i, g.TankID)
		}
		seen[g.TankID] = struct{}{}
	}
	return f.Tanks, nil
}
