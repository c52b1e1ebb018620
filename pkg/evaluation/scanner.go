// Package evaluation discovers subject/session volumes in a BIDS-like
// dataset, runs the quality metrics over each of them, and assembles the
// per-subject results into the metrics table written to the output
// directory.
package evaluation

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"mriqa/internal/models"
)

// segDir is the dataset-relative directory holding tissue segmentations
const segDir = "derivatives/manual_segmentation"

// Scan walks the dataset root for subject directories (sub-*), each
// optionally subdivided into sessions (ses-*), and returns one record
// per discovered anatomical volume. Records whose paired segmentation
// file is absent are returned with an empty SegPath; the skip is logged
// here and resolved by the runner's failed-row policy.
//
// Traversal follows sorted directory order, so repeated runs over an
// unchanged filesystem yield the same sequence.
func Scan(dataDir string) ([]models.SubjectRecord, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("data directory %s not found: %w", dataDir, err)
	}

	var records []models.SubjectRecord
	for _, sub := range entries {
		if !sub.IsDir() || !strings.HasPrefix(sub.Name(), "sub-") {
			continue
		}

		subDir := filepath.Join(dataDir, sub.Name())
		sessions, err := sessionDirs(subDir)
		if err != nil {
			// One unreadable subject must not take the rest of the
			// dataset down with it
			log.Printf("scan: %s: %v, skipping subject", sub.Name(), err)
			continue
		}

		if len(sessions) == 0 {
			// Dataset without a session level: anat sits directly
			// under the subject directory
			if rec, ok := buildRecord(dataDir, subDir, sub.Name(), ""); ok {
				records = append(records, rec)
			}
			continue
		}

		for _, ses := range sessions {
			sesDir := filepath.Join(subDir, ses)
			if rec, ok := buildRecord(dataDir, sesDir, sub.Name(), ses); ok {
				records = append(records, rec)
			}
		}
	}

	return records, nil
}

func sessionDirs(subDir string) ([]string, error) {
	entries, err := os.ReadDir(subDir)
	if err != nil {
		return nil, fmt.Errorf("reading subject directory %s: %w", subDir, err)
	}
	var sessions []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "ses-") {
			sessions = append(sessions, e.Name())
		}
	}
	return sessions, nil
}

// buildRecord locates the anatomical image and its segmentation for one
// subject/session. Returns ok=false when no anatomical image exists at
// all, in which case there is nothing to evaluate.
func buildRecord(dataDir, holder, subID, sesID string) (models.SubjectRecord, bool) {
	base := subID
	if sesID != "" {
		base = subID + "_" + sesID
	}

	anat := filepath.Join(holder, "anat")
	imagePath := firstExisting(
		filepath.Join(anat, base+"_T1w.nii"),
		filepath.Join(anat, base+"_T1w.nii.gz"),
		filepath.Join(anat, base+"_T1w"), // DICOM series directory
	)
	if imagePath == "" {
		log.Printf("scan: %s: no anatomical image under %s, skipping", base, anat)
		return models.SubjectRecord{}, false
	}

	segPath := firstExisting(
		filepath.Join(dataDir, segDir, base+"_seg.nii"),
		filepath.Join(dataDir, segDir, base+"_seg.nii.gz"),
	)
	if segPath == "" {
		log.Printf("scan: %s: segmentation file missing under %s", base, filepath.Join(dataDir, segDir))
	}

	return models.SubjectRecord{
		SubjectID: subID,
		SessionID: sesID,
		ImagePath: imagePath,
		SegPath:   segPath,
	}, true
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
