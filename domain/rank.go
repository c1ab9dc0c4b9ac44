package domain

import (
	"errors"
	"sort"
	"strings"
)

// Ranks are lowercase base36 strings ordered lexicographically. A new rank
// can always be generated between two existing ones, so moving a card only
// rewrites the moved card.
const rankDigits = "0123456789abcdefghijklmnopqrstuvwxyz"

const maxRankLen = 64

var (
	errRankOrder = errors.New("rank: lower bound must sort before upper bound")
	errRankSpace = errors.New("rank: no space between bounds")
	errRankChar  = errors.New("rank: invalid character")
)

func rankValue(c byte) (int, bool) {
	i := strings.IndexByte(rankDigits, c)
	return i, i >= 0
}

// NormalizeRank lowercases and trims a stored rank.
func NormalizeRank(r string) string {
	return strings.ToLower(strings.TrimSpace(r))
}

// RankBetween returns a rank strictly between lo and hi. An empty lo means
// no lower bound and an empty hi means no upper bound.
func RankBetween(lo, hi string) (string, error) {
	lo, hi = NormalizeRank(lo), NormalizeRank(hi)
	if lo != "" && hi != "" && lo >= hi {
		return "", errRankOrder
	}

	out := make([]byte, 0, len(lo)+1)
	for i := 0; i < maxRankLen; i++ {
		dl, dh := 0, len(rankDigits)-1
		if i < len(lo) {
			v, ok := rankValue(lo[i])
			if !ok {
				return "", errRankChar
			}
			dl = v
		}
		if i < len(hi) {
			v, ok := rankValue(hi[i])
			if !ok {
				return "", errRankChar
			}
			dh = v
		}

		switch {
		case dl == dh:
			out = append(out, rankDigits[dl])
		case dh-dl > 1:
			out = append(out, rankDigits[dl+(dh-dl)/2])
			return checkBetween(string(out), lo, hi)
		default:
			// adjacent digits: any extension of lo still sorts before hi
			base := lo
			if len(base) < i+1 {
				base = string(out) + string(rankDigits[dl])
			}
			return checkBetween(base+string(rankDigits[len(rankDigits)/2]), lo, hi)
		}
	}
	return "", errRankSpace
}

func checkBetween(r, lo, hi string) (string, error) {
	if (lo != "" && r <= lo) || (hi != "" && r >= hi) {
		return "", errRankSpace
	}
	return r, nil
}

// RankAfter returns a rank that sorts after r.
func RankAfter(r string) (string, error) { return RankBetween(r, "") }

// RankBefore returns a rank that sorts before r.
func RankBefore(r string) (string, error) { return RankBetween("", r) }

// RankInitial returns the rank for the first card of an empty bucket.
func RankInitial() string {
	r, _ := RankBetween("", "")
	return r
}

// PlaceRank returns the rank for a card inserted into column, which must be
// sorted with SortByRank and must not contain the card itself. With an empty
// before the card is appended; otherwise it is placed directly ahead of the
// card with that id. Unranked cards are ignored when picking bounds.
func PlaceRank(column []Task, before string) (string, error) {
	ranked := make([]string, 0, len(column))
	anchor := -1
	for _, t := range column {
		r := NormalizeRank(t.Rank)
		if r == "" {
			continue
		}
		if t.ID == before && anchor < 0 {
			anchor = len(ranked)
		}
		ranked = append(ranked, r)
	}

	if anchor < 0 {
		if len(ranked) == 0 {
			return RankInitial(), nil
		}
		return RankAfter(ranked[len(ranked)-1])
	}
	lo := ""
	// skip equal neighbours so the bounds stay strictly ordered
	for i := anchor - 1; i >= 0; i-- {
		if ranked[i] < ranked[anchor] {
			lo = ranked[i]
			break
		}
	}
	return RankBetween(lo, ranked[anchor])
}

// SortByRank orders tasks by rank, then id. Unranked tasks sort last, most
// recently updated first.
func SortByRank(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		ri, rj := NormalizeRank(tasks[i].Rank), NormalizeRank(tasks[j].Rank)
		switch {
		case ri != "" && rj != "":
			if ri != rj {
				return ri < rj
			}
		case ri != "":
			return true
		case rj != "":
			return false
		default:
			if !tasks[i].UpdatedAt.Equal(tasks[j].UpdatedAt) {
				return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
			}
		}
		return tasks[i].ID < tasks[j].ID
	})
}
