// Package simple trains a linear regressor on streamed batches. It exists to give the
// batch stream a real consumer: small, deterministic and free of any deep-learning
// runtime.
package simple

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/bigdata/datasets"
)

// Config holds the training hyperparameters.
type Config struct {
	// LearningRate of plain SGD. Default 0.05.
	LearningRate float64 `json:"learning_rate"`

	// Steps is the number of batches Fit consumes. Default 100.
	Steps int `json:"steps"`

	// ClipNorm bounds the L2 norm of each gradient. Default 5.
	ClipNorm float64 `json:"clip_norm"`

	// L2 is the weight decay coefficient.
	L2 float64 `json:"l2"`

	// Seed controls weight initialization. If zero, a time-based seed is used.
	Seed int64 `json:"seed"`
}

// BatchSource hands out batches that must be given back after use.
// *layer.Layer implements it.
type BatchSource interface {
	NextBatch(ctx context.Context) (*datasets.Batch, error)
	Release(b *datasets.Batch)
}

// Model is y = w·standardize(x) + b. Features are standardized with running
// estimates of their mean and deviation, updated from every batch seen in training.
type Model struct {
	Config Config

	weights []float64
	bias    float64
	scaler  *scaler

	grad []float64
	rng  *rand.Rand
}

// NewModel creates a model for inputDim features.
func NewModel(inputDim int, cfg Config) (*Model, error) {
	if inputDim < 1 {
		return nil, errors.Errorf("input dimension %d", inputDim)
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.05
	}
	if cfg.Steps == 0 {
		cfg.Steps = 100
	}
	if cfg.ClipNorm == 0 {
		cfg.ClipNorm = 5
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	m := &Model{
		Config:  cfg,
		weights: make([]float64, inputDim),
		scaler:  newScaler(inputDim),
		grad:    make([]float64, inputDim),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
	limit := math.Sqrt(6.0 / float64(inputDim+1))
	for i := range m.weights {
		m.weights[i] = (m.rng.Float64()*2 - 1) * limit * 0.5
	}
	return m, nil
}

// Fit consumes Config.Steps batches from src, taking one gradient step per batch, and
// returns the mean squared error of each batch measured before its step.
func (m *Model) Fit(ctx context.Context, src BatchSource) ([]float64, error) {
	losses := make([]float64, 0, m.Config.Steps)
	for step := 0; step < m.Config.Steps; step++ {
		b, err := src.NextBatch(ctx)
		if err != nil {
			return losses, errors.Wrapf(err, "step %d", step)
		}
		if b.Labels == nil {
			src.Release(b)
			return losses, errors.New("batches carry no labels")
		}
		if b.Shape().Features != len(m.weights) {
			src.Release(b)
			return losses, errors.Errorf("batch has %d features, model %d", b.Shape().Features, len(m.weights))
		}
		loss := m.step(b)
		src.Release(b)

		losses = append(losses, loss)
		if klog.V(2).Enabled() {
			klog.Infof("simple: step %d loss %.6g", step, loss)
		}
	}
	return losses, nil
}

// step applies one SGD update on b and returns the loss before it.
func (m *Model) step(b *datasets.Batch) float64 {
	n := b.Len()
	if n == 0 {
		return 0
	}
	m.scaler.observe(b)
	x := m.scaler.matrix(b)

	residual := mat.NewVecDense(n, nil)
	residual.MulVec(x, mat.NewVecDense(len(m.weights), m.weights))
	r := residual.RawVector().Data
	floats.AddConst(m.bias, r)
	floats.Sub(r, b.Labels[:n])
	loss := floats.Dot(r, r) / float64(n)

	grad := mat.NewVecDense(len(m.grad), m.grad)
	grad.MulVec(x.T(), residual)
	floats.Scale(2/float64(n), m.grad)
	gradBias := 2 * floats.Sum(r) / float64(n)
	if m.Config.L2 > 0 {
		floats.AddScaled(m.grad, m.Config.L2, m.weights)
	}

	norm := math.Hypot(floats.Norm(m.grad, 2), gradBias)
	if norm > m.Config.ClipNorm {
		s := m.Config.ClipNorm / norm
		floats.Scale(s, m.grad)
		gradBias *= s
	}

	floats.AddScaled(m.weights, -m.Config.LearningRate, m.grad)
	m.bias -= m.Config.LearningRate * gradBias
	return loss
}

// Predict returns the model output for one feature vector.
func (m *Model) Predict(features []float64) float64 {
	scaled := make([]float64, len(m.weights))
	m.scaler.apply(scaled, features)
	return floats.Dot(m.weights, scaled) + m.bias
}

// PredictBatch returns the model output for every valid row of b.
func (m *Model) PredictBatch(b *datasets.Batch) []float64 {
	out := make([]float64, b.Len())
	for i := range out {
		out[i] = m.Predict(b.Features(i))
	}
	return out
}

// Loss is the mean squared error on b without updating the model.
func (m *Model) Loss(b *datasets.Batch) float64 {
	if b.Len() == 0 || b.Labels == nil {
		return 0
	}
	pred := m.PredictBatch(b)
	floats.Sub(pred, b.Labels[:b.Len()])
	return floats.Dot(pred, pred) / float64(len(pred))
}

// scaler keeps Welford running moments per feature.
type scaler struct {
	count float64
	mean  []float64
	m2    []float64
	buf   []float64
}

func newScaler(dim int) *scaler {
	return &scaler{mean: make([]float64, dim), m2: make([]float64, dim)}
}

func (s *scaler) observe(b *datasets.Batch) {
	for i := 0; i < b.Len(); i++ {
		s.count++
		for j, v := range b.Features(i) {
			d := v - s.mean[j]
			s.mean[j] += d / s.count
			s.m2[j] += d * (v - s.mean[j])
		}
	}
}

func (s *scaler) std(j int) float64 {
	if s.count < 2 {
		return 1
	}
	sd := math.Sqrt(s.m2[j] / s.count)
	if sd < 1e-12 {
		return 1
	}
	return sd
}

func (s *scaler) apply(dst, features []float64) {
	for j, v := range features {
		dst[j] = (v - s.mean[j]) / s.std(j)
	}
}

// matrix returns the standardized valid rows of b in a buffer owned by the scaler.
func (s *scaler) matrix(b *datasets.Batch) *mat.Dense {
	f := b.Shape().Features
	n := b.Len()
	if cap(s.buf) < n*f {
		s.buf = make([]float64, n*f)
	}
	s.buf = s.buf[:n*f]
	for i := 0; i < n; i++ {
		s.apply(s.buf[i*f:(i+1)*f], b.Features(i))
	}
	return mat.NewDense(n, f, s.buf)
}
