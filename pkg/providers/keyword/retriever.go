// Package keyword is an in-memory retriever that ranks documents by
// token overlap with the query.
package keyword

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/harunnryd/parley/pkg/adapters/retrieval"
)

type Document struct {
	ID       string            `mapstructure:"id"`
	Title    string            `mapstructure:"title"`
	Content  string            `mapstructure:"content"`
	Language string            `mapstructure:"language"`
	Tags     []string          `mapstructure:"tags"`
	Meta     map[string]string `mapstructure:"meta"`
}

type indexed struct {
	doc    Document
	tokens map[string]struct{}
}

type Retriever struct {
	docs []indexed
}

var stopwords = map[string]struct{}{
	"a": {}, "s": {}, "an": {}, "the": {}, "is": {}, "are": {}, "what": {}, "whats": {}, "your": {}, "you": {}, "i": {},
	"me": {}, "my": {}, "of": {}, "for": {}, "to": {}, "in": {}, "on": {}, "do": {}, "does": {}, "can": {},
	"how": {}, "and": {}, "or": {}, "it": {}, "this": {}, "that": {}, "with": {}, "about": {}, "tell": {},
	"hai": {}, "ka": {}, "ki": {}, "ke": {}, "kya": {}, "hain": {},
}

func New(docs []Document) *Retriever {
	r := &Retriever{docs: make([]indexed, 0, len(docs))}
	for _, d := range docs {
		toks := Tokens(d.Title + " " + d.Content + " " + strings.Join(d.Tags, " "))
		set := make(map[string]struct{}, len(toks))
		for _, t := range toks {
			set[t] = struct{}{}
		}
		r.docs = append(r.docs, indexed{doc: d, tokens: set})
	}
	return r
}

// Tokens lowercases text and splits it into content words.
func Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.Is(unicode.Mn, r) && !unicode.Is(unicode.Mc, r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; !stop {
			out = append(out, f)
		}
	}
	return out
}

// Retrieve scores each document by the share of query tokens it contains.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts retrieval.Options) ([]retrieval.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := Tokens(query)
	if len(q) == 0 {
		return nil, nil
	}
	lang := strings.ToLower(opts.Language)
	var out []retrieval.Document
	for _, d := range r.docs {
		if d.doc.Language != "" && lang != "" && !strings.HasPrefix(lang, strings.ToLower(d.doc.Language)) {
			continue
		}
		hits := 0
		for _, t := range q {
			if _, ok := d.tokens[t]; ok {
				hits++
			}
		}
		score := float64(hits) / float64(len(q))
		if hits == 0 || score < opts.MinScore {
			continue
		}
		out = append(out, retrieval.Document{ID: d.doc.ID, Title: d.doc.Title, Content: d.doc.Content, Score: score, Meta: d.doc.Meta})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if opts.TopK > 0 && len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return out, nil
}

// DefaultDocuments is a small gold loan knowledge base.
func DefaultDocuments() []Document {
	return []Document{
		{ID: "rates", Title: "Interest rates", Tags: []string{"rate", "interest", "percent", "emi"},
			Content: "Gold loan interest starts at 9.5 percent a year for loans above 10 lakh, 10.5 percent from 1 to 10 lakh and 11.5 percent below 1 lakh. Processing fee is 1 percent."},
		{ID: "eligibility", Title: "Eligibility", Tags: []string{"eligible", "eligibility", "ltv", "purity", "karat"},
			Content: "Any adult with 18 to 24 karat gold jewellery can borrow up to 75 percent of the gold value. No income proof is needed."},
		{ID: "documents", Title: "Documents needed", Tags: []string{"documents", "kyc", "aadhaar", "pan"},
			Content: "Bring one photo ID such as Aadhaar or PAN and one address proof. The gold is valued at the branch in about 15 minutes."},
		{ID: "safety", Title: "Gold safety", Tags: []string{"safe", "safety", "insured", "vault"},
			Content: "Pledged gold is stored in insured, access-controlled vaults and returned in the same sealed packet when the loan is closed."},
		{ID: "switch", Title: "Balance transfer", Tags: []string{"switch", "transfer", "muthoot", "manappuram", "lender"},
			Content: "Customers moving a gold loan from another lender get the transfer processed the same day and usually save 2 to 4 percent a year on interest."},
	}
}

var _ retrieval.Retriever = (*Retriever)(nil)
