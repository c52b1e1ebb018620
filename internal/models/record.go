package models

// SubjectRecord identifies one subject/session discovered in the dataset
// together with the files needed to compute its quality metrics
type SubjectRecord struct {
	// SubjectID is the subject directory name, e.g. "sub-01"
	SubjectID string

	// SessionID is the session directory name, e.g. "ses-1".
	// Empty when the dataset has no session level.
	SessionID string

	// ImagePath is the anatomical intensity volume. It is either a
	// NIfTI file or a directory holding one DICOM series.
	ImagePath string

	// SegPath is the paired tissue segmentation volume. Empty when the
	// segmentation file was not found during scanning.
	SegPath string

	// Group is the subgroup tag joined from the participants table
	// (e.g. the acquisition sequence). Empty when no table is present.
	Group string
}

// Key returns the (subject, session) identity used to order the output table
func (r SubjectRecord) Key() string {
	if r.SessionID == "" {
		return r.SubjectID
	}
	return r.SubjectID + "/" + r.SessionID
}

// MetricRow holds the computed quality metrics for one subject/session.
// Metric fields are nil when the metric was not computed, either because
// it was not configured or because the subject failed (see Error).
type MetricRow struct {
	SubjectID string
	SessionID string
	Group     string

	EFC *float64
	SNR *float64
	CNR *float64
	CJV *float64

	// Error is a short marker describing why the subject failed.
	// Empty for successful rows. Failed rows are excluded from plots.
	Error string
}

// Failed reports whether the row carries an error marker
func (r MetricRow) Failed() bool {
	return r.Error != ""
}

// Value returns the named metric value, or nil when absent.
// Recognized names are EFC, SNR, CNR and CJV.
func (r MetricRow) Value(metric string) *float64 {
	switch metric {
	case "EFC":
		return r.EFC
	case "SNR":
		return r.SNR
	case "CNR":
		return r.CNR
	case "CJV":
		return r.CJV
	}
	return nil
}
