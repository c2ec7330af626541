package main

import (
	"image/color"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/bigdata/datasets"
)

// maxLabelSamples caps the labels kept for the histogram.
const maxLabelSamples = 100_000

// streamSummary collects what the run saw, for plotting afterwards.
type streamSummary struct {
	labels      plotter.Values
	featureSums []float64
	rows        int
	losses      []float64
}

func (s *streamSummary) observe(b *datasets.Batch) {
	if b.Len() == 0 {
		return
	}
	for i := 0; i < b.Len() && len(s.labels) < maxLabelSamples; i++ {
		if b.Labels != nil {
			s.labels = append(s.labels, b.Label(i))
		}
	}

	// Column sums through gonum, for the feature mean chart.
	m := b.Matrix()
	_, cols := m.Dims()
	if s.featureSums == nil {
		s.featureSums = make([]float64, cols)
	}
	for j := 0; j < cols; j++ {
		s.featureSums[j] += mat.Sum(m.ColView(j))
	}
	s.rows += b.Len()
}

func (s *streamSummary) plot(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	if len(s.losses) > 0 {
		if err := plotLoss(filepath.Join(dir, "loss.png"), s.losses); err != nil {
			return err
		}
	}
	if len(s.labels) > 0 {
		if err := plotLabels(filepath.Join(dir, "labels.png"), s.labels); err != nil {
			return err
		}
	}
	if s.rows > 0 {
		means := make(plotter.Values, len(s.featureSums))
		for j, sum := range s.featureSums {
			means[j] = sum / float64(s.rows)
		}
		if err := plotFeatureMeans(filepath.Join(dir, "features.png"), means); err != nil {
			return err
		}
	}
	klog.Infof("plots written to %s", dir)
	return nil
}

func plotLoss(path string, losses []float64) error {
	p := plot.New()
	p.Title.Text = "Training loss per batch"
	p.X.Label.Text = "step"
	p.Y.Label.Text = "mean squared error"

	xys := make(plotter.XYs, len(losses))
	for i, l := range losses {
		xys[i].X = float64(i)
		xys[i].Y = l
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	line.Width = vg.Points(1.2)
	p.Add(line, plotter.NewGrid())
	return errors.Wrap(p.Save(8*vg.Inch, 5*vg.Inch, path), "save loss plot")
}

func plotLabels(path string, labels plotter.Values) error {
	p := plot.New()
	p.Title.Text = "Label distribution"
	p.X.Label.Text = "label"
	p.Y.Label.Text = "rows"

	h, err := plotter.NewHist(labels, 32)
	if err != nil {
		return err
	}
	h.FillColor = color.RGBA{R: 120, G: 120, B: 120, A: 200}
	p.Add(h)
	return errors.Wrap(p.Save(8*vg.Inch, 5*vg.Inch, path), "save label plot")
}

func plotFeatureMeans(path string, means plotter.Values) error {
	p := plot.New()
	p.Title.Text = "Feature means"
	p.X.Label.Text = "feature"
	p.Y.Label.Text = "mean"

	bars, err := plotter.NewBarChart(means, vg.Points(12))
	if err != nil {
		return err
	}
	bars.Color = color.RGBA{R: 200, G: 30, B: 30, A: 180}
	p.Add(bars, plotter.NewGrid())
	return errors.Wrap(p.Save(8*vg.Inch, 5*vg.Inch, path), "save feature plot")
}
