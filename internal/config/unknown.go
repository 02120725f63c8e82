package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys are the valid dotted keys in the config file: sections and
// the fields inside them.
var knownKeys = map[string]bool{
	"sharepoint": true, "sharepoint.site_url": true,

	"auth": true, "auth.client_id": true, "auth.tenant_id": true,
	"auth.redirect_uri": true, "auth.credential_file": true,

	"scan": true, "scan.parallel_listings": true, "scan.requests_per_second": true,

	"transfer": true, "transfer.parallel_downloads": true,
	"transfer.output_dir": true, "transfer.ledger_file": true,

	"bedrock": true, "bedrock.knowledge_base_id": true, "bedrock.data_source_id": true,
	"bedrock.region": true, "bedrock.poll_timeout": true, "bedrock.poll_interval": true,

	"logging": true, "logging.log_level": true, "logging.log_format": true,

	"network": true, "network.connect_timeout": true, "network.request_timeout": true,
}

// knownKeysList is the sorted slice form of knownKeys for Levenshtein
// matching. Sorted for deterministic suggestions when two candidates have
// the same edit distance.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
// Strictness is deliberate: silently ignoring a typo in a config file
// leads to hard-to-debug behavior.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	seen := make(map[string]bool)

	for _, key := range undecoded {
		keyStr := key.String()
		if seen[keyStr] {
			continue
		}

		seen[keyStr] = true

		// An unknown section reports both itself and every child; skip the
		// children so the user gets one error per mistake.
		if parent := parentKey(keyStr); parent != "" && seen[parent] {
			continue
		}

		suggestion := closestMatch(keyStr, knownKeysList)
		if suggestion != "" {
			errs = append(errs, fmt.Errorf("unknown config key %q — did you mean %q?", keyStr, suggestion))
		} else {
			errs = append(errs, fmt.Errorf("unknown config key %q", keyStr))
		}
	}

	return errors.Join(errs...)
}

// parentKey returns the dotted prefix of a nested key, or "" for a
// top-level key.
func parentKey(key string) string {
	idx := strings.LastIndex(key, ".")
	if idx < 0 {
		return ""
	}

	return key[:idx]
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using the
// single-row optimization to avoid allocating a full matrix.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
