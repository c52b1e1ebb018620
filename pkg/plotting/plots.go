// Package plotting renders the descriptive plots derived from the
// finished metrics table: per-metric histograms with kernel density
// overlays compared across subgroups, and side-by-side boxplots of the
// tissue-contrast metrics.
package plotting

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	moremath "github.com/aclements/go-moremath/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"mriqa/internal/models"
	"mriqa/pkg/config"
)

// kdePoints is the sampling resolution of the density curves
const kdePoints = 200

// ErrNoData marks a plot that has nothing to draw because no successful
// row carries the requested metric. The batch driver skips such plots
// rather than failing the whole run.
var ErrNoData = errors.New("no successful rows carry a value")

// groupSample is the values of one metric within one subgroup
type groupSample struct {
	Name string
	Xs   []float64
}

// HistKDE renders a density-normalized histogram of one metric with a
// smoothed kernel density curve per subgroup, all sharing the x-axis,
// and saves it as <metric>_hist_kde.png in outDir.
func HistKDE(rows []models.MetricRow, metric string, cfg *config.Config, outDir string) error {
	groups := collectGroups(rows, metric, cfg.Plots.Groups)
	if len(groups) == 0 {
		return fmt.Errorf("plot %s: %w", metric, ErrNoData)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Distribution of %s", metric)
	p.X.Label.Text = metric
	p.Y.Label.Text = "Density"
	p.Legend.Top = true

	for i, g := range groups {
		h, err := plotter.NewHist(plotter.Values(g.Xs), cfg.Plots.Bins)
		if err != nil {
			return fmt.Errorf("histogram for %s/%s: %w", metric, g.Name, err)
		}
		h.Normalize(1)
		h.FillColor = plotutil.Color(i)
		p.Add(h)

		// A density estimate needs spread; a single observation has none
		if line, ok := kdeLine(g.Xs); ok {
			l, err := plotter.NewLine(line)
			if err != nil {
				return fmt.Errorf("density curve for %s/%s: %w", metric, g.Name, err)
			}
			l.Color = plotutil.Color(i)
			l.Width = vg.Points(2)
			p.Add(l)
			p.Legend.Add(g.Name, l)
		}
	}

	out := filepath.Join(outDir, strings.ToLower(metric)+"_hist_kde.png")
	if err := p.Save(10*vg.Inch, 7*vg.Inch, out); err != nil {
		return fmt.Errorf("saving %s: %w", out, err)
	}
	return nil
}

// SegBoxPlot renders side-by-side boxplots of CNR and CJV, one pair per
// subgroup, and saves them as cnr_cjv_boxplot.png in outDir.
func SegBoxPlot(rows []models.MetricRow, cfg *config.Config, outDir string) error {
	p := plot.New()
	p.Title.Text = "Tissue contrast quality by group"
	p.Y.Label.Text = "Value"

	var names []string
	pos := 0.0
	for _, metric := range []string{"CNR", "CJV"} {
		if !cfg.HasMetric(metric) {
			continue
		}
		for _, g := range collectGroups(rows, metric, cfg.Plots.Groups) {
			b, err := plotter.NewBoxPlot(vg.Points(30), pos, plotter.Values(g.Xs))
			if err != nil {
				return fmt.Errorf("boxplot for %s/%s: %w", metric, g.Name, err)
			}
			p.Add(b)
			names = append(names, fmt.Sprintf("%s %s", g.Name, metric))
			pos++
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("boxplot: %w", ErrNoData)
	}
	p.NominalX(names...)

	out := filepath.Join(outDir, "cnr_cjv_boxplot.png")
	if err := p.Save(10*vg.Inch, 7*vg.Inch, out); err != nil {
		return fmt.Errorf("saving %s: %w", out, err)
	}
	return nil
}

// CreateAllPlots is the batch driver: one histogram/KDE image per
// configured metric plus the joint CNR/CJV boxplot image. Metrics with
// no successful values get their plot skipped with a log line; any
// other rendering failure aborts.
func CreateAllPlots(rows []models.MetricRow, cfg *config.Config, outDir string) error {
	for _, metric := range cfg.Metrics {
		if err := HistKDE(rows, metric, cfg, outDir); err != nil {
			if errors.Is(err, ErrNoData) {
				log.Printf("plot: %v, skipping", err)
				continue
			}
			return err
		}
	}
	if cfg.HasMetric("CNR") || cfg.HasMetric("CJV") {
		if err := SegBoxPlot(rows, cfg, outDir); err != nil {
			if errors.Is(err, ErrNoData) {
				log.Printf("plot: %v, skipping", err)
				return nil
			}
			return err
		}
	}
	return nil
}

// collectGroups partitions the successful rows carrying the metric into
// subgroups. Order follows the configured group list when given, else
// the order groups first appear in the table. Rows without a subgroup
// tag fall into the "all" group.
func collectGroups(rows []models.MetricRow, metric string, order []string) []groupSample {
	byName := make(map[string]*groupSample)
	var groups []*groupSample

	add := func(name string) *groupSample {
		g := &groupSample{Name: name}
		byName[name] = g
		groups = append(groups, g)
		return g
	}
	for _, name := range order {
		add(name)
	}

	for _, row := range rows {
		if row.Failed() {
			continue
		}
		v := row.Value(metric)
		if v == nil {
			continue
		}
		name := row.Group
		if name == "" {
			name = "all"
		}
		g, ok := byName[name]
		if !ok {
			if len(order) > 0 {
				// A fixed group ordering excludes unlisted groups
				continue
			}
			g = add(name)
		}
		g.Xs = append(g.Xs, *v)
	}

	out := make([]groupSample, 0, len(groups))
	for _, g := range groups {
		if len(g.Xs) > 0 {
			out = append(out, *g)
		}
	}
	return out
}

// kdeLine samples a Gaussian kernel density estimate of xs across a
// slightly padded data range
func kdeLine(xs []float64) (plotter.XYs, bool) {
	if len(xs) < 2 {
		return nil, false
	}
	lo, hi := floats.Min(xs), floats.Max(xs)
	if lo == hi {
		return nil, false
	}

	span := hi - lo
	lo -= 0.1 * span
	hi += 0.1 * span

	kde := &moremath.KDE{Sample: moremath.Sample{Xs: xs}}
	pts := make(plotter.XYs, kdePoints+1)
	for i := range pts {
		x := lo + (hi-lo)*float64(i)/float64(kdePoints)
		pts[i].X = x
		pts[i].Y = kde.PDF(x)
	}
	return pts, true
}
