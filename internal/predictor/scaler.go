package predictor

import "fmt"

// Scaler transforms a feature vector before inference.
type Scaler interface {
	Transform(x []float64) ([]float64, error)
}

const (
	ScalerStandard = "standard"
	ScalerMinMax   = "minmax"
)

type scalerFile struct {
	Kind  string    `yaml:"kind"`
	Mean  []float64 `yaml:"mean"`
	Scale []float64 `yaml:"scale"`
	Min   []float64 `yaml:"min"`
}

// StandardScaler computes (x - mean) / scale. An empty Mean skips centering.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Scale) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.Scale), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		if len(s.Mean) > 0 {
			v -= s.Mean[i]
		}
		out[i] = v / s.Scale[i]
	}
	return out, nil
}

// MinMaxScaler computes x * scale + min.
type MinMaxScaler struct {
	Scale []float64
	Min   []float64
}

func (s *MinMaxScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Scale) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.Scale), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v*s.Scale[i] + s.Min[i]
	}
	return out, nil
}

func buildScaler(f scalerFile) (Scaler, error) {
	switch f.Kind {
	case ScalerStandard:
		if len(f.Scale) == 0 {
			return nil, fmt.Errorf("standard scaler has no scale")
		}
		if len(f.Mean) != 0 && len(f.Mean) != len(f.Scale) {
			return nil, fmt.Errorf("standard scaler has %d means but %d scales", len(f.Mean), len(f.Scale))
		}
		for i, s := range f.Scale {
			if s == 0 {
				return nil, fmt.Errorf("standard scaler has zero scale at %d", i)
			}
		}
		return &StandardScaler{Mean: f.Mean, Scale: f.Scale}, nil
	case ScalerMinMax:
		if len(f.Scale) == 0 || len(f.Min) != len(f.Scale) {
			return nil, fmt.Errorf("minmax scaler needs matching scale and min")
		}
		return &MinMaxScaler{Scale: f.Scale, Min: f.Min}, nil
	}
	return nil, fmt.Errorf("unknown scaler kind %q", f.Kind)
}
