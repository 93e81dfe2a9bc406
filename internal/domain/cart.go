package domain

import (
	"strconv"
	"time"
)

// CartLineItem is one distinct product entry in a cart. Two entries are the same product
// when Name, Price and Image are all equal; ID plays no part in identity.
type CartLineItem struct {
	ID       string
	Name     string
	Price    float64
	Image    string
	Quantity int
	AddedAt  time.Time
}

// SameProduct reports whether the two entries share the (name, price, image) identity.
func (i CartLineItem) SameProduct(other CartLineItem) bool {
	return i.Name == other.Name && i.Price == other.Price && i.Image == other.Image
}

// CartCandidate is an item the shopper asked to add. A zero Quantity means "unset".
type CartCandidate struct {
	Name     string
	Price    float64
	Image    string
	Quantity int
}

// ChangeMarker is a millisecond timestamp written after every cart write. It only signals
// that something changed. The zero value means no marker has been written.
type ChangeMarker int64

// MarkerAt converts a wall-clock time to a marker.
func MarkerAt(t time.Time) ChangeMarker {
	return ChangeMarker(t.UnixMilli())
}

// Next returns the marker to write after m at time now, never going backwards.
func (m ChangeMarker) Next(now time.Time) ChangeMarker {
	next := MarkerAt(now)
	if next <= m {
		next = m + 1
	}
	return next
}

// String encodes the marker the way it is stored: decimal milliseconds, empty when unset.
func (m ChangeMarker) String() string {
	if m <= 0 {
		return ""
	}
	return strconv.FormatInt(int64(m), 10)
}

// ParseChangeMarker decodes a stored marker. Unparseable values read as zero.
func ParseChangeMarker(raw string) ChangeMarker {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return ChangeMarker(value)
}

// CartSnapshot is a collection together with the marker observed when it was read.
type CartSnapshot struct {
	Items  []CartLineItem
	Marker ChangeMarker
}

// TotalQuantity sums the quantities of every line.
func (s CartSnapshot) TotalQuantity() int {
	total := 0
	for _, item := range s.Items {
		total += item.Quantity
	}
	return total
}

// ChangeEvent announces that a namespace's cart now carries Marker.
type ChangeEvent struct {
	Namespace string
	Marker    ChangeMarker
}
