// Package duplicate scores a transaction's similarity to prior transactions.
package duplicate

import (
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Weights are the duplicate-score contributions. Exact weights sum to 1.0;
// partial credit applies only when the exact flag did not.
const (
	weightExactAmount       = 0.30
	weightExactDate         = 0.25
	weightExactDescription  = 0.25
	weightExactCounterparty = 0.20

	weightNearAmount      = 0.15
	weightNearDate        = 0.10
	weightNearDescription = 0.10
)

const (
	nearAmountTolerance   = 0.05 // within 5%
	nearDateWindow        = 7 * 24 * time.Hour
	nearDescriptionFloor  = 0.80 // 1 - normalized edit distance
)

// Detector compares a candidate transaction against supplied history.
type Detector struct {
	// Threshold is the score at or above which isDuplicate is set.
	// Conservative default 0.6.
	Threshold float64
}

// NewDetector creates a duplicate detector with the given cutoff.
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = 0.6
	}
	return &Detector{Threshold: threshold}
}

// Check pairwise-compares the transaction against every history item and
// keeps the single highest-scoring prior match. History must already
// exclude the candidate itself by id; Check re-excludes defensively since
// a self-match would always score 1.0.
func (d *Detector) Check(tx *domain.Transaction, history domain.History) *domain.DuplicateCheck {
	result := &domain.DuplicateCheck{}

	best := -1.0
	for _, prior := range history {
		if prior.ID == tx.ID {
			continue
		}
		cmp := compare(tx, prior)
		if cmp.Score > best {
			best = cmp.Score
			*result = cmp
			result.BestMatchID = prior.ID
		}
	}

	if best < 0 {
		return &domain.DuplicateCheck{}
	}

	result.IsDuplicate = result.Score >= d.Threshold
	return result
}

// compare computes the weighted similarity between two transactions.
func compare(tx, prior *domain.Transaction) domain.DuplicateCheck {
	cmp := domain.DuplicateCheck{}
	score := 0.0

	// Amount: exact, else within tolerance
	if tx.Amount == prior.Amount {
		cmp.SameAmount = true
		score += weightExactAmount
	} else if withinAmountTolerance(tx.Amount, prior.Amount) {
		cmp.NearAmount = true
		score += weightNearAmount
	}

	// Date: same calendar day, else within the window
	if sameCalendarDay(tx.Date, prior.Date) {
		cmp.SameDate = true
		score += weightExactDate
	} else if dateDistance(tx.Date, prior.Date) <= nearDateWindow {
		cmp.NearDate = true
		score += weightNearDate
	}

	// Description: exact after normalization, else edit-distance similarity
	descA, descB := normalize(tx.Description), normalize(prior.Description)
	if descA != "" && descA == descB {
		cmp.SameDescription = true
		score += weightExactDescription
	} else if descA != "" && descB != "" && similarity(descA, descB) >= nearDescriptionFloor {
		cmp.NearDescription = true
		score += weightNearDescription
	}

	// Counterparty: exact only. When either side never recorded one, the
	// remaining fields carry the counterparty weight instead, so a
	// counterparty-less resubmission can still reach the auto-block band.
	if tx.Counterparty != "" && tx.Counterparty == prior.Counterparty {
		cmp.SameCounterparty = true
		score += weightExactCounterparty
	} else if tx.Counterparty == "" || prior.Counterparty == "" {
		score /= 1 - weightExactCounterparty
	}

	cmp.Score = math.Min(score, 1.0)
	return cmp
}

func withinAmountTolerance(a, b int64) bool {
	larger := math.Max(float64(a), float64(b))
	if larger == 0 {
		return true
	}
	return math.Abs(float64(a)-float64(b))/larger <= nearAmountTolerance
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func dateDistance(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d
}

// normalize lowercases a description and collapses runs of whitespace so
// cosmetic differences don't defeat exact matching.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// similarity is 1 - normalized Levenshtein distance, in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	// Rune counts, matching the distance metric's units.
	longest := len([]rune(a))
	if lb := len([]rune(b)); lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(longest)
}
