package reviews

import (
	"strconv"

	"carreviews/internal/domain"
)

// IDPrefix prefixes the positional document ids.
const IDPrefix = "review"

// Projection holds the three parallel sequences a collection is built from.
// Index i of every slice refers to the same review.
type Projection struct {
	IDs       []string
	Documents []string
	Metadatas []domain.Metadata
}

// Project assigns ids "review0".."review{n-1}" in input order and splits
// each review into document text and metadata.
func Project(in []domain.Review) Projection {
	p := Projection{
		IDs:       make([]string, len(in)),
		Documents: make([]string, len(in)),
		Metadatas: make([]domain.Metadata, len(in)),
	}
	for i, r := range in {
		p.IDs[i] = IDPrefix + strconv.Itoa(i)
		p.Documents[i] = r.Text
		p.Metadatas[i] = domain.Metadata{
			Title:  r.Title,
			Rating: r.Rating,
			Year:   r.Year,
			Model:  r.Model,
		}
	}
	return p
}

// Len returns the number of projected records.
func (p Projection) Len() int { return len(p.IDs) }

// Docs zips the range [start, end) into documents.
func (p Projection) Docs(start, end int) []domain.Document {
	out := make([]domain.Document, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, domain.Document{ID: p.IDs[i], Text: p.Documents[i], Metadata: p.Metadatas[i]})
	}
	return out
}
