package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// suggestionCutoff is how far (in edits) a known key may be from a typo
// and still be offered as a "did you mean?" suggestion.
const suggestionCutoff = 3

// knownGlobalKeys are the valid leaf keys across every config section,
// kept sorted so equally-distant suggestion candidates resolve
// deterministically.
var knownGlobalKeys = func() []string {
	keys := []string{
		// [server]
		"listen_addr", "admin_addr", "data_dir", "state_backend",
		"strict_offset", "strict_single_writer", "shutdown_timeout", "idle_timeout",
		// [notifier]
		"url", "max_retries", "timeout",
		// [client]
		"server_addr", "chunk_size", "state_dir", "token", "digest",
		// [logging]
		"log_level", "log_format",
	}
	slices.Sort(keys)

	return keys
}()

// checkUnknownKeys turns every key the TOML decoder could not place into
// an error, each carrying the closest known key as a suggestion when one
// is near enough. Unknown keys are fatal rather than ignored so a typo'd
// setting fails loudly instead of silently running on defaults.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		full := key.String()

		// Suggestions match on the leaf name; the section prefix is the
		// user's, not ours, to second-guess.
		leaf := full
		if i := strings.LastIndex(full, "."); i >= 0 {
			leaf = full[i+1:]
		}

		if hint := suggestKey(leaf); hint != "" {
			errs = append(errs, fmt.Errorf("unknown config key %q — did you mean %q?", full, hint))
		} else {
			errs = append(errs, fmt.Errorf("unknown config key %q", full))
		}
	}

	return errors.Join(errs...)
}

// suggestKey returns the known key closest to unknown by edit distance,
// or "" when nothing is within suggestionCutoff.
func suggestKey(unknown string) string {
	best, bestDist := "", suggestionCutoff+1

	for _, k := range knownGlobalKeys {
		if d := editDistance(unknown, k); d < bestDist {
			best, bestDist = k, d
		}
	}

	return best
}

// editDistance is Levenshtein over bytes, computed in a single reused row.
func editDistance(a, b string) int {
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}

	for i := 1; i <= len(a); i++ {
		prevDiag := row[0]
		row[0] = i

		for j := 1; j <= len(b); j++ {
			subst := prevDiag
			if a[i-1] != b[j-1] {
				subst++
			}

			prevDiag = row[j]
			row[j] = min(subst, row[j]+1, row[j-1]+1)
		}
	}

	return row[len(b)]
}
