package eazy

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// filterWidth returns the approximate NIRCam bandpass width in Angstrom
// for the filter centered at the given wavelength, used as horizontal
// error bars on the observed SED.
func filterWidth(lambda float64) float64 {
	switch {
	case lambda > 4.4e4: // F444W
		return 0.553e4
	case lambda > 3.5e4: // F356W
		return 0.42e4
	case lambda > 2.7e4: // F277W
		return 0.356e4
	case lambda > 1.9e4: // F200W
		return 0.236e4
	case lambda > 1.5e4: // F150W
		return 0.169e4
	case lambda > 0.9e4: // F090W
		return 0.105e4
	}
	return 0
}

// sedData adapts observed SED points to the plotter interfaces, with
// the magnitude error vertically and half the bandpass horizontally.
type sedData []SEDPoint

func (s sedData) Len() int                    { return len(s) }
func (s sedData) XY(i int) (float64, float64) { return s[i].Lambda, s[i].Flux }
func (s sedData) YError(i int) (float64, float64) {
	return s[i].Err, s[i].Err
}
func (s sedData) XError(i int) (float64, float64) {
	w := filterWidth(s[i].Lambda) / 2
	return w, w
}

// PlotSED renders the best-fit template with the observed photometry
// over it, log-log, to a PNG at path.
func PlotSED(res *ObjectResult, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Galaxy %d  %s %s", res.ID, res.ZBest, res.ZPrior)
	p.X.Label.Text = "Wavelength [A]"
	p.Y.Label.Text = "F_nu"
	p.X.Scale = plot.LogScale{}
	p.Y.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	// log axes cannot take non-positive samples
	tmpl := make(plotter.XYs, 0, len(res.Template))
	for _, pt := range res.Template {
		if pt.Lambda > 0 && pt.Flux > 0 {
			tmpl = append(tmpl, plotter.XY{X: pt.Lambda, Y: pt.Flux})
		}
	}
	line, err := plotter.NewLine(tmpl)
	if err != nil {
		return err
	}
	p.Add(line)

	obs := make(sedData, 0, len(res.Observed))
	for _, pt := range res.Observed {
		if pt.Lambda > 0 && pt.Flux > 0 {
			obs = append(obs, pt)
		}
	}
	if len(obs) > 0 {
		scatter, err := plotter.NewScatter(obs)
		if err != nil {
			return err
		}
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		yerr, err := plotter.NewYErrorBars(obs)
		if err != nil {
			return err
		}
		xerr, err := plotter.NewXErrorBars(obs)
		if err != nil {
			return err
		}
		p.Add(scatter, yerr, xerr)
	}

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

// PlotPZ renders the redshift probability curve to a PNG at path.
func PlotPZ(res *ObjectResult, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Galaxy %d  P(z)", res.ID)
	p.X.Label.Text = "z"
	p.Y.Label.Text = "P"

	pts := make(plotter.XYs, len(res.PZ))
	for i, s := range res.PZ {
		pts[i] = plotter.XY{X: s.Z, Y: s.P}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(line)

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
