package evaluation

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"mriqa/internal/models"
	"mriqa/pkg/config"
	"mriqa/pkg/metrics"
	"mriqa/pkg/volume"
)

// TableName is the metrics table filename inside the output directory
const TableName = "metrics.csv"

// Params holds the parameters for one evaluation run
type Params struct {
	// DataDir is the BIDS-like dataset root
	DataDir string

	// OutputDir receives the metrics table and all plot images
	OutputDir string

	// Config carries the label mapping, metric list and policies
	Config *config.Config
}

// Runner walks the dataset, computes the configured quality metrics for
// every subject/session and writes the aggregated metrics table.
//
// Subjects are processed by a bounded worker pool; the result slice is
// guarded by a mutex and sorted by (subject, session) afterwards, so the
// table content does not depend on completion order.
type Runner struct {
	params *Params

	mu   sync.Mutex
	rows []models.MetricRow
}

// NewRunner creates a runner for the given parameters
func NewRunner(params *Params) *Runner {
	return &Runner{params: params}
}

// Rows returns the metric rows collected by the last Process call,
// ordered by (subject, session)
func (r *Runner) Rows() []models.MetricRow {
	return r.rows
}

// TablePath returns the location of the written metrics table
func (r *Runner) TablePath() string {
	return filepath.Join(r.params.OutputDir, TableName)
}

// Process runs the full evaluation: scan, per-subject metrics, table.
// Per-subject failures are logged and recorded as failed rows; only
// errors that precede any subject work (missing data directory,
// unwritable output directory) abort the run.
func (r *Runner) Process() error {
	cfg := r.params.Config

	if _, err := os.Stat(r.params.DataDir); err != nil {
		return fmt.Errorf("data directory %s not found: %w", r.params.DataDir, err)
	}
	if err := os.MkdirAll(r.params.OutputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	records, err := Scan(r.params.DataDir)
	if err != nil {
		return err
	}
	if cfg.Output.Verbose {
		fmt.Printf("Discovered %d subject/session records\n", len(records))
	}

	groups, err := LoadParticipants(r.params.DataDir, cfg.Plots.GroupColumn)
	if err != nil {
		return err
	}
	for i := range records {
		records[i].Group = groups[records[i].Key()]
	}

	numWorkers := cfg.Processing.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	jobs := make(chan models.SubjectRecord)
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				row := r.processSubject(rec)
				if row.Failed() && !cfg.Output.KeepFailed {
					continue
				}
				r.mu.Lock()
				r.rows = append(r.rows, row)
				r.mu.Unlock()
			}
		}()
	}
	for _, rec := range records {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()

	sort.Slice(r.rows, func(i, j int) bool {
		if r.rows[i].SubjectID != r.rows[j].SubjectID {
			return r.rows[i].SubjectID < r.rows[j].SubjectID
		}
		return r.rows[i].SessionID < r.rows[j].SessionID
	})

	if err := WriteTable(r.rows, r.TablePath()); err != nil {
		return err
	}
	if cfg.Output.Verbose {
		fmt.Printf("Metrics table written to %s\n", r.TablePath())
	}
	return nil
}

// processSubject loads one record's volumes and computes the configured
// metrics. Every failure mode ends up in the row's error marker, never
// in a returned error: one bad subject must not abort the batch.
func (r *Runner) processSubject(rec models.SubjectRecord) models.MetricRow {
	cfg := r.params.Config
	row := models.MetricRow{
		SubjectID: rec.SubjectID,
		SessionID: rec.SessionID,
		Group:     rec.Group,
	}

	if rec.SegPath == "" {
		row.Error = "missing segmentation"
		log.Printf("%s: missing segmentation, metrics not computed", rec.Key())
		return row
	}

	img, err := volume.Load(rec.ImagePath)
	if err != nil {
		row.Error = "load error: " + err.Error()
		log.Printf("%s: %s", rec.Key(), row.Error)
		return row
	}
	seg, err := volume.Load(rec.SegPath)
	if err != nil {
		row.Error = "segmentation load error: " + err.Error()
		log.Printf("%s: %s", rec.Key(), row.Error)
		return row
	}
	if !img.SameShape(seg) {
		row.Error = fmt.Sprintf("shape mismatch: image %s vs segmentation %s", img.ShapeString(), seg.ShapeString())
		log.Printf("%s: %s", rec.Key(), row.Error)
		return row
	}

	var errs []string
	fail := func(metric string, err error) {
		errs = append(errs, metric+": "+err.Error())
		log.Printf("%s: %s failed: %v", rec.Key(), metric, err)
	}

	if cfg.HasMetric("EFC") {
		if v, err := metrics.EFC(img.Data); err != nil {
			fail("EFC", err)
		} else {
			row.EFC = &v
		}
	}

	if cfg.HasMetric("SNR") {
		if v, err := metrics.SNR(img.Data, seg.Data, cfg.Labels.Foreground(), cfg.Labels.Background); err != nil {
			fail("SNR", err)
		} else {
			row.SNR = &v
		}
	}

	// CNR and CJV work on min-max normalized intensities so that the
	// values are comparable across acquisitions
	if cfg.HasMetric("CNR") || cfg.HasMetric("CJV") {
		normalized, err := metrics.MinMaxNormalize(img.Data)
		if err != nil {
			fail("normalize", err)
		} else {
			if cfg.HasMetric("CNR") {
				if v, err := metrics.CNR(normalized, seg.Data, cfg.Labels); err != nil {
					fail("CNR", err)
				} else {
					row.CNR = &v
				}
			}
			if cfg.HasMetric("CJV") {
				if v, err := metrics.CJV(normalized, seg.Data, cfg.Labels); err != nil {
					fail("CJV", err)
				} else {
					row.CJV = &v
				}
			}
		}
	}

	row.Error = strings.Join(errs, "; ")
	if cfg.Output.Verbose && !row.Failed() {
		fmt.Printf("%s: done\n", rec.Key())
	}
	return row
}
