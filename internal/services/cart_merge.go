package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const defaultCandidateName = "Item"

// MergeCartItem folds candidate into items. A line with the same name, price and image has
// its quantity increased in place; otherwise a new line is appended with a fresh id. items
// itself is never modified. The returned item is the line as it stands after the merge.
func MergeCartItem(items []CartLineItem, candidate CartCandidate, now time.Time, newID func() string) ([]CartLineItem, CartLineItem, bool) {
	out := make([]CartLineItem, len(items), len(items)+1)
	copy(out, items)

	addition := positiveOrOne(candidate.Quantity)
	probe := CartLineItem{Name: candidate.Name, Price: candidate.Price, Image: candidate.Image}
	for i := range out {
		if !out[i].SameProduct(probe) {
			continue
		}
		out[i].Quantity = positiveOrOne(out[i].Quantity) + addition
		return out, out[i], true
	}

	line := CartLineItem{
		ID:       newID(),
		Name:     candidate.Name,
		Price:    candidate.Price,
		Image:    candidate.Image,
		Quantity: addition,
		AddedAt:  now.UTC().Truncate(time.Millisecond),
	}
	return append(out, line), line, false
}

func positiveOrOne(quantity int) int {
	if quantity <= 0 {
		return 1
	}
	return quantity
}

func validateCandidate(candidate CartCandidate) error {
	if candidate.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", ErrCartInvalidInput)
	}
	if candidate.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrCartInvalidInput)
	}
	return nil
}

// CandidateFromCard builds a candidate from the raw text of a product card.
func CandidateFromCard(name, priceText, image string, quantity int) CartCandidate {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultCandidateName
	}
	return CartCandidate{
		Name:     name,
		Price:    ParsePriceText(priceText),
		Image:    strings.TrimSpace(image),
		Quantity: quantity,
	}
}

// ParsePriceText keeps only digits and dots, then reads the longest leading decimal number.
// Text without a number reads as zero: "$1,299.99" is 1299.99, "1.2.3" is 1.2.
func ParsePriceText(raw string) float64 {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	end, digits, dot := 0, 0, false
	for end < len(cleaned) {
		c := cleaned[end]
		if c == '.' {
			if dot {
				break
			}
			dot = true
		} else {
			digits++
		}
		end++
	}
	if digits == 0 {
		return 0
	}
	value, err := strconv.ParseFloat(strings.TrimSuffix(cleaned[:end], "."), 64)
	if err != nil {
		return 0
	}
	return value
}
