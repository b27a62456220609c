package archive

import (
	"strconv"
	"strings"
)

// CompareVersions orders two archive version strings using distribution-
// native (dpkg) ordering: "epoch:upstream-revision", where upstream and
// revision are compared by alternating non-digit/digit runs, and "~" sorts
// before everything, including the end of string. Returns -1, 0, or 1.
//
// No pack example carries a Debian-version-comparison library (hashicorp/
// go-version and hashed semver libraries present elsewhere in the retrieval
// pack implement SemVer, which misorders epochs, tildes, and the digit/
// non-digit alternation Debian versions rely on), so this is a direct port
// of the dpkg algorithm rather than a semver call — see DESIGN.md.
func CompareVersions(a, b string) int {
	aEpoch, aRest := splitEpoch(a)
	bEpoch, bRest := splitEpoch(b)

	if c := compareEpoch(aEpoch, bEpoch); c != 0 {
		return c
	}

	aUpstream, aRevision := splitRevision(aRest)
	bUpstream, bRevision := splitRevision(bRest)

	if c := compareVersionPart(aUpstream, bUpstream); c != 0 {
		return c
	}

	return compareVersionPart(aRevision, bRevision)
}

func splitEpoch(v string) (epoch, rest string) {
	if idx := strings.Index(v, ":"); idx >= 0 {
		return v[:idx], v[idx+1:]
	}

	return "0", v
}

func compareEpoch(a, b string) int {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)

	if aerr != nil {
		ai = 0
	}

	if berr != nil {
		bi = 0
	}

	switch {
	case ai < bi:
		return -1
	case ai > bi:
		return 1
	default:
		return 0
	}
}

func splitRevision(v string) (upstream, revision string) {
	if idx := strings.LastIndex(v, "-"); idx >= 0 {
		return v[:idx], v[idx+1:]
	}

	return v, "0"
}

// compareVersionPart implements dpkg's single-part comparison: walk
// alternating runs of non-digits and digits, comparing non-digit runs
// character-by-character (where '~' sorts lower than anything, including
// the absence of a character) and digit runs numerically.
func compareVersionPart(a, b string) int {
	ai, bi := 0, 0

	for ai < len(a) || bi < len(b) {
		aStart := ai
		for ai < len(a) && !isDigit(a[ai]) {
			ai++
		}

		bStart := bi
		for bi < len(b) && !isDigit(b[bi]) {
			bi++
		}

		if c := compareNonDigitRun(a[aStart:ai], b[bStart:bi]); c != 0 {
			return c
		}

		aStart = ai
		for ai < len(a) && isDigit(a[ai]) {
			ai++
		}

		bStart = bi
		for bi < len(b) && isDigit(b[bi]) {
			bi++
		}

		if c := compareDigitRun(a[aStart:ai], b[bStart:bi]); c != 0 {
			return c
		}
	}

	return 0
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// tildeRank gives '~' a rank below every other byte, and below the absence
// of a byte (end of string), matching dpkg's tilde semantics used for
// pre-release suffixes like "1.0~beta1" sorting before "1.0".
func tildeRank(c byte, present bool) int {
	if !present {
		return 0
	}

	if c == '~' {
		return -1
	}

	return int(c) + 1
}

func compareNonDigitRun(a, b string) int {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	for i := 0; i < maxLen; i++ {
		var ac, bc byte

		aPresent := i < len(a)
		bPresent := i < len(b)

		if aPresent {
			ac = a[i]
		}

		if bPresent {
			bc = b[i]
		}

		ar := tildeRank(ac, aPresent)
		br := tildeRank(bc, bPresent)

		if ar != br {
			if ar < br {
				return -1
			}

			return 1
		}
	}

	return 0
}

func compareDigitRun(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")

	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}

		return 1
	}

	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
