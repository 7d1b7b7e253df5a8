package privacy

import (
	"fmt"
	"sort"
)

// Mask rewrites text by replacing every catalog match with its category
// placeholder. Rules run in catalog order and each one scans the text as
// already rewritten by the rules before it, so detection and substitution
// form a single fold over the catalog.
//
// Every finding in the result addresses its placeholder in MaskedText.
// A nil or empty catalog returns the text unchanged with no findings.
func Mask(text string, catalog *Catalog) (MaskedDocument, error) {
	doc := MaskedDocument{MaskedText: text, Findings: []Finding{}}
	if catalog == nil {
		return doc, nil
	}

	for _, rule := range catalog.rules {
		next, err := applyRule(doc, rule)
		if err != nil {
			return MaskedDocument{}, err
		}
		doc = next
	}

	return doc, nil
}

// applyRule substitutes every accepted match of one rule, left to right
func applyRule(doc MaskedDocument, rule Rule) (MaskedDocument, error) {
	matches := rule.FindAll(doc.MaskedText)
	if len(matches) == 0 {
		return doc, nil
	}

	placeholder := rule.Category.Placeholder()
	text := doc.MaskedText
	findings := doc.Findings

	// Matches were located before any substitution of this rule; offset
	// carries them into the frame of the partially rewritten text.
	offset := 0
	for _, m := range matches {
		edit := Span{Start: m.Start + offset, End: m.End + offset}

		for _, existing := range findings {
			if existing.Span.Start < edit.End && edit.Start < existing.Span.End {
				return MaskedDocument{}, &InvariantViolationError{
					Category: rule.Category,
					Edit:     edit,
					Existing: existing,
				}
			}
		}

		original := text[edit.Start:edit.End]
		delta := len(placeholder) - edit.Len()

		text = text[:edit.Start] + placeholder + text[edit.End:]
		findings = shiftAfter(findings, edit.End, delta)
		findings = append(findings, Finding{
			Span:     Span{Start: edit.Start, End: edit.Start + len(placeholder)},
			Category: rule.Category,
			Original: original,
		})

		offset += delta
	}

	return MaskedDocument{MaskedText: text, Findings: findings}, nil
}

// shiftAfter returns a copy of findings in which every finding starting at
// or after point is moved by delta. Findings before point are unchanged.
func shiftAfter(findings []Finding, point, delta int) []Finding {
	shifted := make([]Finding, len(findings), len(findings)+1)
	for i, f := range findings {
		if f.Span.Start >= point {
			f.Span.Start += delta
			f.Span.End += delta
		}
		shifted[i] = f
	}
	return shifted
}

// Restore reconstructs the original text of a masked document.
//
// Findings are applied in descending order of their masked-text start and
// each one replaces exactly the placeholder at its own span, so findings of
// the same category are never confused with each other. The document is not
// modified. Findings that do not address their placeholder in MaskedText
// yield a *DocumentMismatchError.
func Restore(doc MaskedDocument) (string, error) {
	order := make([]int, len(doc.Findings))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return doc.Findings[order[a]].Span.Start > doc.Findings[order[b]].Span.Start
	})

	text := doc.MaskedText
	bound := len(text)
	for _, idx := range order {
		f := doc.Findings[idx]
		if f.Span.Start < 0 || f.Span.End < f.Span.Start || f.Span.End > len(doc.MaskedText) {
			return "", &DocumentMismatchError{Index: idx, Finding: f, Kind: MismatchBounds, Reason: "span outside masked text"}
		}
		if f.Span.End > bound {
			return "", &DocumentMismatchError{Index: idx, Finding: f, Kind: MismatchOverlap, Reason: "span overlaps another finding"}
		}

		placeholder := f.Category.Placeholder()
		if got := text[f.Span.Start:f.Span.End]; got != placeholder {
			return "", &DocumentMismatchError{
				Index:   idx,
				Finding: f,
				Kind:    MismatchPlaceholder,
				Reason:  fmt.Sprintf("span does not hold %q", placeholder),
			}
		}

		text = text[:f.Span.Start] + f.Original + text[f.Span.End:]
		bound = f.Span.Start
	}

	return text, nil
}

// OriginalFindings returns the findings with spans expressed against the
// unmasked text, in the same order as d.Findings. The spans are only
// meaningful for documents that Restore accepts.
func (d MaskedDocument) OriginalFindings() []Finding {
	order := make([]int, len(d.Findings))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return d.Findings[order[a]].Span.Start < d.Findings[order[b]].Span.Start
	})

	out := make([]Finding, len(d.Findings))
	shift := 0
	for _, idx := range order {
		f := d.Findings[idx]
		start := f.Span.Start + shift
		out[idx] = Finding{
			Span:     Span{Start: start, End: start + len(f.Original)},
			Category: f.Category,
			Original: f.Original,
		}
		shift += len(f.Original) - f.Span.Len()
	}
	return out
}

// Leaks reports the catalog categories whose patterns still match in the
// masked text. Guards are ignored: a match a guard handed to a later rule
// must have been masked by that rule.
func (d MaskedDocument) Leaks(catalog *Catalog) []Category {
	if catalog == nil {
		return nil
	}
	var leaked []Category
	for _, rule := range catalog.rules {
		if rule.Pattern.MatchString(d.MaskedText) {
			leaked = append(leaked, rule.Category)
		}
	}
	return leaked
}
