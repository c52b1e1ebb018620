package evaluation

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"mriqa/pkg/config"
	"mriqa/pkg/nifti"
)

// testConfig returns a quiet single-worker configuration for tests
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Processing.NumWorkers = 1
	cfg.Output.Verbose = false
	return cfg
}

// TestRunnerEndToEnd verifies the full pipeline: two valid subjects in,
// a two-row table out with every metric populated
func TestRunnerEndToEnd(t *testing.T) {
	root := t.TempDir()
	writeSubject(t, root, "sub-01", "ses-1", true, 0)
	writeSubject(t, root, "sub-02", "ses-1", true, 25)

	outDir := filepath.Join(t.TempDir(), "out")
	runner := NewRunner(&Params{DataDir: root, OutputDir: outDir, Config: testConfig()})
	if err := runner.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	rows := runner.Rows()
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Failed() {
			t.Errorf("Row %s/%s unexpectedly failed: %s", row.SubjectID, row.SessionID, row.Error)
		}
		for _, m := range []string{"EFC", "SNR", "CNR", "CJV"} {
			if row.Value(m) == nil {
				t.Errorf("Row %s/%s is missing %s", row.SubjectID, row.SessionID, m)
			}
		}
	}

	// CJV should be positive and EFC inside (0, 1) for these volumes
	if v := rows[0].CJV; v != nil && *v <= 0 {
		t.Errorf("Expected positive CJV, got %g", *v)
	}
	if v := rows[0].EFC; v != nil && (*v <= 0 || *v >= 1) {
		t.Errorf("Expected EFC in (0, 1), got %g", *v)
	}

	records := readTable(t, runner.TablePath())
	if len(records) != 3 { // header + 2 rows
		t.Fatalf("Expected 3 CSV records, got %d", len(records))
	}
	if records[1][0] != "sub-01" || records[2][0] != "sub-02" {
		t.Errorf("Expected rows ordered by subject, got %v / %v", records[1][0], records[2][0])
	}
}

// TestRunnerMissingSegmentationPolicy verifies both sides of the
// failed-row policy: kept with a marker, or dropped entirely
func TestRunnerMissingSegmentationPolicy(t *testing.T) {
	root := t.TempDir()
	writeSubject(t, root, "sub-01", "ses-1", true, 0)
	writeSubject(t, root, "sub-02", "ses-1", false, 10)

	// Default policy: the failed subject stays with an error marker
	outDir := filepath.Join(t.TempDir(), "keep")
	runner := NewRunner(&Params{DataDir: root, OutputDir: outDir, Config: testConfig()})
	if err := runner.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	rows := runner.Rows()
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows with keepFailed, got %d", len(rows))
	}
	if rows[0].Failed() {
		t.Errorf("Expected sub-01 to succeed, got error %q", rows[0].Error)
	}
	if !rows[1].Failed() || rows[1].Error != "missing segmentation" {
		t.Errorf("Expected sub-02 marked as missing segmentation, got %+v", rows[1])
	}
	if rows[1].EFC != nil || rows[1].SNR != nil {
		t.Error("Expected empty metrics on the failed row")
	}

	// Drop policy: the failed subject vanishes from the table
	cfg := testConfig()
	cfg.Output.KeepFailed = false
	outDir = filepath.Join(t.TempDir(), "drop")
	runner = NewRunner(&Params{DataDir: root, OutputDir: outDir, Config: cfg})
	if err := runner.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	rows = runner.Rows()
	if len(rows) != 1 || rows[0].SubjectID != "sub-01" {
		t.Fatalf("Expected only sub-01 with keepFailed=false, got %d rows", len(rows))
	}
}

// TestRunnerShapeMismatch verifies that a subject whose volumes disagree
// on the voxel grid fails alone without aborting the batch
func TestRunnerShapeMismatch(t *testing.T) {
	root := t.TempDir()
	writeSubject(t, root, "sub-01", "ses-1", true, 0)
	writeSubject(t, root, "sub-02", "ses-1", true, 10)

	// Corrupt sub-02's segmentation with a different grid
	_, seg := syntheticVolumes(0)
	seg.Data = seg.Data[:5*6*6]
	seg.Nz = 5
	segPath := filepath.Join(root, segDir, "sub-02_ses-1_seg.nii")
	if err := os.Remove(segPath); err != nil {
		t.Fatal(err)
	}
	if err := nifti.Save(segPath, seg); err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(&Params{DataDir: root, OutputDir: filepath.Join(t.TempDir(), "out"), Config: testConfig()})
	if err := runner.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	rows := runner.Rows()
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].Failed() {
		t.Errorf("Expected sub-01 to succeed, got %q", rows[0].Error)
	}
	if !rows[1].Failed() {
		t.Error("Expected sub-02 to fail on the shape mismatch")
	}
}

// TestRunnerSubgroups verifies that the participants table joins group
// tags onto the rows
func TestRunnerSubgroups(t *testing.T) {
	root := t.TempDir()
	writeSubject(t, root, "sub-01", "ses-1", true, 0)
	writeSubject(t, root, "sub-02", "ses-1", true, 10)

	tsv := "participant_id\tsession_id\tSequence\nsub-01\t1\tMPRAGE\nsub-02\t1\tMP2RAGE\n"
	if err := os.WriteFile(filepath.Join(root, "derivatives", "scanning_parameters.tsv"), []byte(tsv), 0644); err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(&Params{DataDir: root, OutputDir: filepath.Join(t.TempDir(), "out"), Config: testConfig()})
	if err := runner.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	rows := runner.Rows()
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].Group != "MPRAGE" || rows[1].Group != "MP2RAGE" {
		t.Errorf("Expected joined groups MPRAGE/MP2RAGE, got %q/%q", rows[0].Group, rows[1].Group)
	}
}

// TestRunnerMissingDataDir verifies the fatal configuration path
func TestRunnerMissingDataDir(t *testing.T) {
	runner := NewRunner(&Params{
		DataDir:   filepath.Join(t.TempDir(), "nope"),
		OutputDir: t.TempDir(),
		Config:    testConfig(),
	})
	if err := runner.Process(); err == nil {
		t.Error("Expected an error for a missing data directory")
	}
}

// TestRunnerParallel verifies that a multi-worker run produces the same
// ordered table as a sequential one
func TestRunnerParallel(t *testing.T) {
	root := t.TempDir()
	for _, sub := range []string{"sub-01", "sub-02", "sub-03", "sub-04"} {
		writeSubject(t, root, sub, "ses-1", true, float64(len(sub)))
	}

	cfg := testConfig()
	cfg.Processing.NumWorkers = 4
	runner := NewRunner(&Params{DataDir: root, OutputDir: filepath.Join(t.TempDir(), "out"), Config: cfg})
	if err := runner.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	rows := runner.Rows()
	if len(rows) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i-1].SubjectID > rows[i].SubjectID {
			t.Errorf("Rows out of order: %s before %s", rows[i-1].SubjectID, rows[i].SubjectID)
		}
	}
}

// Helper functions for tests

func readTable(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening metrics table: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parsing metrics table: %v", err)
	}
	return records
}
