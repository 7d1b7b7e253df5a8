package privacy

import "encoding/json"

// Category names a kind of PII. Its placeholder is the bracketed name.
type Category string

// Built-in categories, in catalog order.
const (
	CategoryFullName     Category = "full_name"
	CategoryEmail        Category = "email"
	CategoryPhoneNumber  Category = "phone_number"
	CategoryDateOfBirth  Category = "dob"
	CategoryNationalID   Category = "aadhar_num"
	CategoryCardNumber   Category = "credit_debit_no"
	CategoryCardSecurity Category = "cvv_no"
	CategoryCardExpiry   Category = "expiry_no"
)

// Placeholder returns the literal substituted for a match of this category
func (c Category) Placeholder() string {
	return "[" + string(c) + "]"
}

// Span is a half-open byte range [Start, End) into some reference text
type Span struct {
	Start int
	End   int
}

// Len returns the number of bytes covered by the span
func (s Span) Len() int {
	return s.End - s.Start
}

// Finding is one detected PII occurrence.
//
// Inside a MaskedDocument the span addresses the placeholder in the masked
// text; OriginalFindings re-expresses it against the unmasked text.
type Finding struct {
	Span     Span
	Category Category
	Original string
}

// findingJSON is the wire shape used by the classification service
type findingJSON struct {
	Position       [2]int   `json:"position"`
	Classification Category `json:"classification"`
	Entity         string   `json:"entity"`
}

// MarshalJSON encodes the finding as {"position":[s,e],"classification":...,"entity":...}
func (f Finding) MarshalJSON() ([]byte, error) {
	return json.Marshal(findingJSON{
		Position:       [2]int{f.Span.Start, f.Span.End},
		Classification: f.Category,
		Entity:         f.Original,
	})
}

// UnmarshalJSON decodes the wire shape produced by MarshalJSON
func (f *Finding) UnmarshalJSON(data []byte) error {
	var raw findingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Span = Span{Start: raw.Position[0], End: raw.Position[1]}
	f.Category = raw.Classification
	f.Original = raw.Entity
	return nil
}

// MaskedDocument is the output of Mask and the input of Restore.
// It is treated as immutable once produced.
type MaskedDocument struct {
	MaskedText string    `json:"masked_email"`
	Findings   []Finding `json:"list_of_masked_entities"`
}

// CategoryCounts returns the number of findings per category
func (d MaskedDocument) CategoryCounts() map[Category]int {
	counts := make(map[Category]int, len(d.Findings))
	for _, f := range d.Findings {
		counts[f.Category]++
	}
	return counts
}

// ProcessResult contains the result of processing text through the detector
type ProcessResult struct {
	MaskedDocument
	Original string `json:"-"` // Never serialize original text
}
