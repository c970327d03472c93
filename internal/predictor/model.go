// Package predictor loads exported classifier artifacts and turns one
// feature vector into a Choice.
package predictor

import (
	"fmt"

	"kasouyosou/internal/storage"
)

// Model maps a feature vector to exactly one choice.
type Model interface {
	Predict(x []float64) (storage.Choice, error)
}

// Model kinds understood by LoadModel.
const (
	KindLinear   = "linear"
	KindTree     = "tree"
	KindConstant = "constant"
)

// modelFile is the on-disk artifact layout.
type modelFile struct {
	Kind      string      `yaml:"kind"`
	Columns   []string    `yaml:"columns"`
	Classes   []int       `yaml:"classes"`
	Coef      [][]float64 `yaml:"coef"`
	Intercept []float64   `yaml:"intercept"`
	Nodes     []treeNode  `yaml:"nodes"`
	Class     int         `yaml:"class"`
}

// LinearModel is a multinomial (one row per class, argmax) or binary
// (one row, positive score picks the second class) linear classifier.
type LinearModel struct {
	Classes   []storage.Choice
	Coef      [][]float64
	Intercept []float64
}

func (m *LinearModel) Predict(x []float64) (storage.Choice, error) {
	for i, row := range m.Coef {
		if len(row) != len(x) {
			return 0, fmt.Errorf("coef row %d has %d weights, input has %d features", i, len(row), len(x))
		}
	}
	if len(m.Coef) == 1 {
		if dot(m.Coef[0], x)+m.Intercept[0] > 0 {
			return m.Classes[1], nil
		}
		return m.Classes[0], nil
	}
	best := 0
	bestScore := dot(m.Coef[0], x) + m.Intercept[0]
	for k := 1; k < len(m.Coef); k++ {
		if s := dot(m.Coef[k], x) + m.Intercept[k]; s > bestScore {
			best, bestScore = k, s
		}
	}
	return m.Classes[best], nil
}

func (m *LinearModel) validate() error {
	if len(m.Coef) == 0 {
		return fmt.Errorf("linear model has no coefficients")
	}
	if len(m.Intercept) != len(m.Coef) {
		return fmt.Errorf("linear model has %d coef rows but %d intercepts", len(m.Coef), len(m.Intercept))
	}
	switch {
	case len(m.Coef) == 1 && len(m.Classes) != 2:
		return fmt.Errorf("binary linear model needs 2 classes, got %d", len(m.Classes))
	case len(m.Coef) > 1 && len(m.Classes) != len(m.Coef):
		return fmt.Errorf("linear model has %d coef rows but %d classes", len(m.Coef), len(m.Classes))
	}
	width := len(m.Coef[0])
	for i, row := range m.Coef {
		if len(row) != width {
			return fmt.Errorf("coef row %d has %d weights, want %d", i, len(row), width)
		}
	}
	return nil
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

type treeNode struct {
	Leaf      bool    `yaml:"leaf"`
	Class     int     `yaml:"class"`
	Feature   int     `yaml:"feature"`
	Threshold float64 `yaml:"threshold"`
	Left      int     `yaml:"left"`
	Right     int     `yaml:"right"`
}

// TreeModel is a binary decision tree rooted at node 0. A split sends
// x[feature] <= threshold left.
type TreeModel struct {
	nodes []treeNode
}

func (m *TreeModel) Predict(x []float64) (storage.Choice, error) {
	i := 0
	// a valid tree reaches a leaf in fewer steps than it has nodes
	for steps := 0; steps <= len(m.nodes); steps++ {
		n := m.nodes[i]
		if n.Leaf {
			return storage.Choice(n.Class), nil
		}
		if n.Feature >= len(x) {
			return 0, fmt.Errorf("tree node %d splits on feature %d, input has %d", i, n.Feature, len(x))
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return 0, fmt.Errorf("tree does not terminate")
}

func (m *TreeModel) validate() error {
	if len(m.nodes) == 0 {
		return fmt.Errorf("tree model has no nodes")
	}
	for i, n := range m.nodes {
		if n.Leaf {
			if !storage.Choice(n.Class).Valid() {
				return fmt.Errorf("tree leaf %d has invalid class %d", i, n.Class)
			}
			continue
		}
		if n.Feature < 0 {
			return fmt.Errorf("tree node %d has negative feature index", i)
		}
		for _, child := range []int{n.Left, n.Right} {
			if child <= i || child >= len(m.nodes) {
				return fmt.Errorf("tree node %d points to invalid child %d", i, child)
			}
		}
	}
	return nil
}

// ConstantModel always predicts the same choice.
type ConstantModel struct {
	Choice storage.Choice
}

func (m ConstantModel) Predict([]float64) (storage.Choice, error) {
	return m.Choice, nil
}

func buildModel(f modelFile) (Model, error) {
	switch f.Kind {
	case KindLinear:
		classes, err := toChoices(f.Classes)
		if err != nil {
			return nil, err
		}
		m := &LinearModel{Classes: classes, Coef: f.Coef, Intercept: f.Intercept}
		if err := m.validate(); err != nil {
			return nil, err
		}
		return m, nil
	case KindTree:
		m := &TreeModel{nodes: f.Nodes}
		if err := m.validate(); err != nil {
			return nil, err
		}
		return m, nil
	case KindConstant:
		c := storage.Choice(f.Class)
		if !c.Valid() {
			return nil, fmt.Errorf("constant model has invalid class %d", f.Class)
		}
		return ConstantModel{Choice: c}, nil
	}
	return nil, fmt.Errorf("unknown model kind %q", f.Kind)
}

func toChoices(raw []int) ([]storage.Choice, error) {
	out := make([]storage.Choice, len(raw))
	for i, v := range raw {
		c := storage.Choice(v)
		if !c.Valid() {
			return nil, fmt.Errorf("invalid class label %d", v)
		}
		out[i] = c
	}
	return out, nil
}
