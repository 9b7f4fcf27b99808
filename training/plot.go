package training

import (
	"bytes"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/houseprice/neural"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
)

// PlotHistory renders the training and validation loss curves of h as a PNG.
func PlotHistory(h *neural.History) ([]byte, error) {
	if h == nil || len(h.Loss) == 0 {
		return nil, errors.NewValueError("PlotHistory", "empty history")
	}

	p := plot.New()
	p.Title.Text = "Model Loss"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Loss (MSE)"
	p.Add(plotter.NewGrid())

	train, err := plotter.NewLine(curve(h.Loss))
	if err != nil {
		return nil, errors.Wrap(err, "training loss line")
	}
	train.Color = color.RGBA{B: 200, A: 255}
	p.Add(train)
	p.Legend.Add("Training Loss", train)

	if val := curve(h.ValLoss); len(val) > 0 {
		line, err := plotter.NewLine(val)
		if err != nil {
			return nil, errors.Wrap(err, "validation loss line")
		}
		line.Color = color.RGBA{R: 220, G: 120, A: 255}
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(line)
		p.Legend.Add("Validation Loss", line)
	}
	p.Legend.Top = true

	w, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return nil, errors.Wrap(err, "render loss plot")
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "encode loss plot")
	}
	return buf.Bytes(), nil
}

// curve converts per-epoch values to 1-based points, skipping NaN entries.
func curve(values []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i + 1), Y: v})
	}
	return pts
}
