package evaluation

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"mriqa/internal/models"
	"mriqa/pkg/nifti"
)

// TestScanDiscoversSubjects verifies discovery across both the
// sessioned and the session-less layout, in deterministic order
func TestScanDiscoversSubjects(t *testing.T) {
	root := t.TempDir()
	writeSubject(t, root, "sub-01", "ses-1", true, 0)
	writeSubject(t, root, "sub-02", "ses-1", true, 10)
	writeSubject(t, root, "sub-03", "", true, 20)

	records, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	keys := make([]string, len(records))
	for i, rec := range records {
		keys[i] = rec.Key()
	}
	want := []string{"sub-01/ses-1", "sub-02/ses-1", "sub-03"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("Expected records %v, got %v", want, keys)
	}

	for _, rec := range records {
		if rec.ImagePath == "" || rec.SegPath == "" {
			t.Errorf("Record %s is missing paths: %+v", rec.Key(), rec)
		}
	}
}

// TestScanMissingSegmentation verifies that a subject without its
// paired segmentation is reported with an empty SegPath, not dropped
func TestScanMissingSegmentation(t *testing.T) {
	root := t.TempDir()
	writeSubject(t, root, "sub-01", "ses-1", true, 0)
	writeSubject(t, root, "sub-02", "ses-1", false, 10)

	records, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].SegPath == "" {
		t.Errorf("Expected sub-01 to have a segmentation, got %+v", records[0])
	}
	if records[1].SegPath != "" {
		t.Errorf("Expected sub-02 to lack a segmentation, got %+v", records[1])
	}
}

// TestScanIgnoresNonSubjectDirs verifies that derivatives and stray
// files do not produce records
func TestScanIgnoresNonSubjectDirs(t *testing.T) {
	root := t.TempDir()
	writeSubject(t, root, "sub-01", "ses-1", true, 0)
	if err := os.MkdirAll(filepath.Join(root, "code"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "README"), []byte("dataset"), 0644); err != nil {
		t.Fatal(err)
	}

	records, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 record, got %d", len(records))
	}
}

// TestScanSkipsUnreadableSubject verifies that one unreadable subject
// directory is skipped without aborting discovery of the others
func TestScanSkipsUnreadableSubject(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, directory permissions are not enforced")
	}

	root := t.TempDir()
	writeSubject(t, root, "sub-01", "ses-1", true, 0)
	writeSubject(t, root, "sub-02", "ses-1", true, 10)

	locked := filepath.Join(root, "sub-01")
	if err := os.Chmod(locked, 0000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(locked, 0755) })

	records, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].SubjectID != "sub-02" {
		t.Errorf("Expected sub-02 to survive the scan, got %s", records[0].Key())
	}
}

// TestScanMissingRoot verifies the fatal path for an absent dataset
func TestScanMissingRoot(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Expected an error for a missing dataset directory")
	}
}

// Helper functions for tests

// writeSubject creates one subject in the BIDS-like layout with a
// synthetic intensity volume and, optionally, its tissue segmentation.
// The offset shifts the subject's intensities so that subjects differ.
func writeSubject(t *testing.T, root, sub, ses string, withSeg bool, offset float64) {
	t.Helper()

	img, seg := syntheticVolumes(offset)

	base := sub
	holder := filepath.Join(root, sub)
	if ses != "" {
		base = sub + "_" + ses
		holder = filepath.Join(holder, ses)
	}
	anat := filepath.Join(holder, "anat")
	if err := os.MkdirAll(anat, 0755); err != nil {
		t.Fatal(err)
	}
	if err := nifti.Save(filepath.Join(anat, base+"_T1w.nii"), img); err != nil {
		t.Fatalf("writing image for %s: %v", base, err)
	}

	if !withSeg {
		return
	}
	segHome := filepath.Join(root, segDir)
	if err := os.MkdirAll(segHome, 0755); err != nil {
		t.Fatal(err)
	}
	if err := nifti.Save(filepath.Join(segHome, base+"_seg.nii"), seg); err != nil {
		t.Fatalf("writing segmentation for %s: %v", base, err)
	}
}

// syntheticVolumes builds a 6x6x6 intensity volume and a three-class
// segmentation using the default label convention: background (0) in the
// lower slices, white matter (2) in the middle, gray matter (3) on top.
// All classes have non-zero intensity spread and distinct means, so all
// four metrics are computable.
func syntheticVolumes(offset float64) (img, seg *models.Volume) {
	img = models.NewVolume(6, 6, 6)
	seg = models.NewVolume(6, 6, 6)

	i := 0
	for z := 0; z < 6; z++ {
		for y := 0; y < 6; y++ {
			for x := 0; x < 6; x++ {
				switch {
				case z < 2:
					seg.Set(x, y, z, 0)
					img.Set(x, y, z, float64(i%3))
				case z < 4:
					seg.Set(x, y, z, 2)
					img.Set(x, y, z, 100+offset+float64(i%4))
				default:
					seg.Set(x, y, z, 3)
					img.Set(x, y, z, 50+offset+float64(i%4))
				}
				i++
			}
		}
	}
	return img, seg
}
