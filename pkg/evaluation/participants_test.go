package evaluation

import (
	"os"
	"path/filepath"
	"testing"
)

func writeParticipants(t *testing.T, root, content string) {
	t.Helper()
	dir := filepath.Join(root, "derivatives")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scanning_parameters.tsv"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// TestLoadParticipants verifies keying by subject/session and session
// name normalization
func TestLoadParticipants(t *testing.T) {
	root := t.TempDir()
	writeParticipants(t, root, "participant_id\tsession_id\tSequence\nsub-01\t1\tMPRAGE\nsub-02\tses-2\tMP2RAGE\n")

	groups, err := LoadParticipants(root, "Sequence")
	if err != nil {
		t.Fatalf("LoadParticipants failed: %v", err)
	}

	if groups["sub-01/ses-1"] != "MPRAGE" {
		t.Errorf("Expected MPRAGE for sub-01/ses-1, got %q", groups["sub-01/ses-1"])
	}
	if groups["sub-02/ses-2"] != "MP2RAGE" {
		t.Errorf("Expected MP2RAGE for sub-02/ses-2, got %q", groups["sub-02/ses-2"])
	}
}

// TestLoadParticipantsMissingFile verifies that an absent table is not
// an error
func TestLoadParticipantsMissingFile(t *testing.T) {
	groups, err := LoadParticipants(t.TempDir(), "Sequence")
	if err != nil {
		t.Fatalf("Expected no error for a missing table, got %v", err)
	}
	if groups != nil {
		t.Errorf("Expected no groups, got %v", groups)
	}
}

// TestLoadParticipantsNoGroupColumn verifies that a table without the
// configured column yields no groups rather than failing
func TestLoadParticipantsNoGroupColumn(t *testing.T) {
	root := t.TempDir()
	writeParticipants(t, root, "participant_id\tsession_id\nsub-01\t1\n")

	groups, err := LoadParticipants(root, "Sequence")
	if err != nil {
		t.Fatalf("LoadParticipants failed: %v", err)
	}
	if groups != nil {
		t.Errorf("Expected no groups, got %v", groups)
	}
}

// TestLoadParticipantsMissingIDColumn verifies the malformed-table error
func TestLoadParticipantsMissingIDColumn(t *testing.T) {
	root := t.TempDir()
	writeParticipants(t, root, "subject\tSequence\nsub-01\tMPRAGE\n")

	if _, err := LoadParticipants(root, "Sequence"); err == nil {
		t.Error("Expected an error for a table without participant_id")
	}
}
