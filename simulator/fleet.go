package simulator

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/kilianp07/tankwatch/core/model"
)

var fuelTypes = []string{"diesel", "gasoline", "heating_oil"}

// GenerateFleet creates size cylindrical tanks with IDs tank0001..tankNNNN
// spread round-robin over stations st01..stNN.
func GenerateFleet(size, stations int, rng *rand.Rand) []model.TankGeometry {
	if size <= 0 {
		return nil
	}
	if stations <= 0 {
		stations = 1
	}
	out := make([]model.TankGeometry, size)
	for i := range out {
		out[i] = model.TankGeometry{
			TankID:    fmt.Sprintf("tank%04d", i+1),
			StationID: fmt.Sprintf("st%02d", i%stations+1),
			FuelType:  fuelTypes[rng.Intn(len(fuelTypes))],
			Shape:     model.ShapeCylindrical,
			HeightCm:  150 + float64(rng.Intn(11))*10,
			RadiusCm:  80 + float64(rng.Intn(9))*5,
		}
	}
	return out
}

// LoadProfile reads an hourly consumption profile from JSON such as
// {"0":0.2,"7":1.5}. Hours that are not listed stay 0.
func LoadProfile(data []byte) ([24]float64, error) {
	var m map[string]float64
	var prof [24]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return prof, err
	}
	for h, v := range m {
		var hour int
		if _, err := fmt.Sscanf(h, "%d", &hour); err != nil {
			continue
		}
		if hour >= 0 && hour < 24 {
			prof[hour] = v
		}
	}
	return prof, nil
}
