package figures

import (
	"image/color"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"qcweekly/internal/groupreport"
)

var (
	boxFill     = color.Gray{Y: 211}
	boxLabels   = []string{"This Week", "Full sample"}
	titleHeight = vg.Length(0.5) * vg.Inch
)

func renderBoxPlots(path string, panel Panel, week, full *groupreport.Table, opts Options) error {
	metrics := panel.Metrics
	if len(metrics) == 0 {
		metrics = []string{""}
	}
	inches := opts.PanelInches
	if inches <= 0 {
		inches = 4
	}
	dpi := opts.DPI
	if dpi <= 0 {
		dpi = 300
	}

	row := make([]*plot.Plot, len(metrics))
	for i, metric := range metrics {
		p, err := metricPlot(metric, week.Floats(metric), full.Floats(metric))
		if err != nil {
			return err
		}
		row[i] = p
	}

	width := vg.Length(inches*float64(len(metrics))) * vg.Inch
	height := vg.Length(inches)*vg.Inch + titleHeight
	img := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(dpi))
	dc := draw.New(img)

	title := draw.TextStyle{
		Color:   color.Black,
		Font:    font.From(plot.DefaultFont, 14),
		Handler: plot.DefaultTextHandler,
		XAlign:  draw.XCenter,
		YAlign:  draw.YTop,
	}
	dc.FillText(title, vg.Point{X: dc.Center().X, Y: dc.Max.Y - vg.Points(6)}, panel.Title())

	body := draw.Crop(dc, 0, 0, 0, -titleHeight)
	tiles := draw.Tiles{Rows: 1, Cols: len(metrics), PadX: vg.Points(12), PadLeft: vg.Points(4), PadRight: vg.Points(4), PadBottom: vg.Points(4)}
	canvases := plot.Align([][]*plot.Plot{row}, tiles, body)
	for i, p := range row {
		p.Draw(canvases[0][i])
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func metricPlot(metric string, week, full []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = metric
	p.Y.Label.Text = metric
	p.NominalX(boxLabels...)
	p.X.Min, p.X.Max = -0.5, 1.5

	width := vg.Points(40)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, values := range [][]float64{week, full} {
		if len(values) == 0 {
			continue
		}
		box, err := plotter.NewBoxPlot(width, float64(i), plotter.Values(values))
		if err != nil {
			return nil, err
		}
		box.FillColor = boxFill
		// Outliers are hidden; whiskers still span 1.5 IQR.
		box.GlyphStyle.Radius = 0
		p.Add(box)
		lo, hi = min(lo, box.AdjLow), max(hi, box.AdjHigh)
	}
	if lo <= hi {
		p.Y.Min, p.Y.Max = whiskerRange(lo, hi)
	}
	return p, nil
}

// whiskerRange pads the whisker extents so the axis ignores hidden fliers
// and a single-valued box still gets a visible span.
func whiskerRange(lo, hi float64) (float64, float64) {
	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(lo)*0.05, 0.5)
	}
	return lo - pad, hi + pad
}
