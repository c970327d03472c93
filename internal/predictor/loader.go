package predictor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"kasouyosou/internal/storage"
)

// LoadModel reads the model artifact name under dir.
func LoadModel(dir, name string) (Model, error) {
	var f modelFile
	if err := readArtifact(dir, name, &f); err != nil {
		return nil, err
	}
	m, err := buildModel(f)
	if err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", name, err)
	}
	if len(f.Columns) > 0 {
		return &columnChecked{Model: m, width: len(f.Columns)}, nil
	}
	return m, nil
}

// LoadScaler reads the scaler artifact name under dir.
func LoadScaler(dir, name string) (Scaler, error) {
	var f scalerFile
	if err := readArtifact(dir, name, &f); err != nil {
		return nil, err
	}
	s, err := buildScaler(f)
	if err != nil {
		return nil, fmt.Errorf("invalid scaler %s: %w", name, err)
	}
	return s, nil
}

// Predict scales x when a scaler is given, runs the model and checks the label.
func Predict(m Model, s Scaler, x []float64) (storage.Choice, error) {
	if s != nil {
		scaled, err := s.Transform(x)
		if err != nil {
			return 0, fmt.Errorf("transform: %w", err)
		}
		x = scaled
	}
	c, err := m.Predict(x)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	if !c.Valid() {
		return 0, fmt.Errorf("model produced invalid choice %d", int(c))
	}
	return c, nil
}

func readArtifact(dir, name string, out any) error {
	if name == "" {
		return fmt.Errorf("artifact name is empty")
	}
	if filepath.IsAbs(name) || strings.Contains(name, "..") {
		return fmt.Errorf("artifact name %q must be relative to the model directory", name)
	}
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to parse artifact %s: %w", name, err)
	}
	return nil
}

// columnChecked rejects inputs whose width differs from the training columns.
type columnChecked struct {
	Model
	width int
}

func (m *columnChecked) Predict(x []float64) (storage.Choice, error) {
	if len(x) != m.width {
		return 0, fmt.Errorf("model trained on %d features, got %d", m.width, len(x))
	}
	return m.Model.Predict(x)
}
