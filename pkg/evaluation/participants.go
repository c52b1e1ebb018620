package evaluation

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// participantsFile is the dataset-relative scanning parameters table
const participantsFile = "derivatives/scanning_parameters.tsv"

// LoadParticipants reads the optional scanning parameters TSV and
// returns subgroup tags keyed by subject/session. The table must carry a
// participant_id column; session_id and the group column are optional.
// A missing file is not an error: every subject then falls into one
// unnamed group.
func LoadParticipants(dataDir, groupColumn string) (map[string]string, error) {
	path := filepath.Join(dataDir, participantsFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening participants table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing participants table %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	subCol, sesCol, grpCol := -1, -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "participant_id":
			subCol = i
		case "session_id":
			sesCol = i
		case groupColumn:
			grpCol = i
		}
	}
	if subCol < 0 {
		return nil, fmt.Errorf("participants table %s has no participant_id column", path)
	}
	if grpCol < 0 {
		// Table exists but carries no subgroup information
		return nil, nil
	}

	groups := make(map[string]string)
	for _, row := range rows[1:] {
		if subCol >= len(row) || grpCol >= len(row) {
			continue
		}
		key := strings.TrimSpace(row[subCol])
		if sesCol >= 0 && sesCol < len(row) {
			if ses := normalizeSession(row[sesCol]); ses != "" {
				key += "/" + ses
			}
		}
		groups[key] = strings.TrimSpace(row[grpCol])
	}
	return groups, nil
}

// normalizeSession accepts both bare session numbers ("1") and full
// directory names ("ses-1")
func normalizeSession(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "ses-") {
		return s
	}
	return "ses-" + s
}
