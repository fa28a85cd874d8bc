package lifecycle

import "strings"

// Status is the canonical review state of a submission. Entities store their
// own words for it; see Vocabulary.
type Status string

const (
	StatusPending  Status = "pending"
	StatusLive     Status = "live"
	StatusRejected Status = "rejected"
	StatusDisabled Status = "disabled"
)

// Vocabulary maps canonical statuses to the words an entity persists and
// exposes. A status missing from the map is not reachable for that entity.
type Vocabulary map[Status]string

var (
	// ReviewVocabulary is used by entities moderated as approved/rejected.
	ReviewVocabulary = Vocabulary{
		StatusPending:  "pending",
		StatusLive:     "approved",
		StatusRejected: "rejected",
	}

	// ActivationVocabulary is used by entities published as active/inactive.
	ActivationVocabulary = Vocabulary{
		StatusPending:  "pending",
		StatusLive:     "active",
		StatusRejected: "rejected",
		StatusDisabled: "inactive",
	}

	// CatalogVocabulary covers admin-curated entities that never go through review.
	CatalogVocabulary = Vocabulary{
		StatusLive:     "active",
		StatusDisabled: "inactive",
	}
)

func (v Vocabulary) Word(status Status) (string, bool) {
	word, ok := v[status]
	return word, ok
}

func (v Vocabulary) Supports(status Status) bool {
	_, ok := v[status]
	return ok
}

// Parse resolves a stored or client-supplied word. Canonical names are
// accepted as well so callers can filter with either form.
func (v Vocabulary) Parse(word string) (Status, bool) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return "", false
	}
	for status, w := range v {
		if w == word {
			return status, true
		}
	}
	if v.Supports(Status(word)) {
		return Status(word), true
	}
	return "", false
}
