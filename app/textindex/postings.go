package textindex

import "sort"

// Postings accumulates word -> verse ids. Ids are kept in the order they
// were added, which during seeding is corpus order.
type Postings struct {
	refs map[string][]string
	last map[string]string
}

func NewPostings() *Postings {
	return &Postings{
		refs: make(map[string][]string),
		last: make(map[string]string),
	}
}

// AddVerse tokenizes text and records verseID under every term. Adding the
// same verse twice in a row is a no-op.
func (p *Postings) AddVerse(verseID, text string) {
	for _, term := range Tokenize(text) {
		if p.last[term] == verseID {
			continue
		}
		p.refs[term] = append(p.refs[term], verseID)
		p.last[term] = verseID
	}
}

func (p *Postings) Len() int {
	return len(p.refs)
}

func (p *Postings) Get(word string) []string {
	return p.refs[word]
}

// Words returns every term, sorted.
func (p *Postings) Words() []string {
	words := make([]string, 0, len(p.refs))
	for w := range p.refs {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}

// Intersect keeps the ids of first that appear in every other list,
// preserving the order of first.
func Intersect(first []string, others ...[]string) []string {
	if len(others) == 0 {
		return first
	}
	sets := make([]map[string]struct{}, len(others))
	for i, list := range others {
		sets[i] = make(map[string]struct{}, len(list))
		for _, id := range list {
			sets[i][id] = struct{}{}
		}
	}

	var out []string
outer:
	for _, id := range first {
		for _, set := range sets {
			if _, ok := set[id]; !ok {
				continue outer
			}
		}
		out = append(out, id)
	}
	return out
}
