// Package models provides the data structures for the price history series.
// A persisted series is an ordered sequence of PricePoint values; the
// provider delivers RawPoint samples at millisecond resolution which are
// truncated to whole seconds before they enter the series.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is a single entry of the persisted series: a Unix epoch second
// timestamp paired with an exact decimal price. Within a series the
// timestamp is unique and the sequence is sorted ascending.
type PricePoint struct {
	Timestamp int64
	Price     decimal.Decimal
}

// Time returns the point's timestamp as a UTC time.Time.
func (p PricePoint) Time() time.Time {
	return time.Unix(p.Timestamp, 0).UTC()
}

// String implements fmt.Stringer.
func (p PricePoint) String() string {
	return fmt.Sprintf("PricePoint{%s, %s}", p.Time().Format(time.RFC3339), p.Price)
}

// MarshalJSON serializes the point as a two-element array
// [timestamp_seconds, price]. The price is emitted as a bare JSON number so
// the on-disk file stays interchangeable with the historical artifact, and
// decimal.Decimal guarantees no precision is lost on the way out.
func (p PricePoint) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%d,%s]", p.Timestamp, p.Price.String())), nil
}

// UnmarshalJSON parses the [timestamp_seconds, price] pair form. Any other
// shape (wrong arity, non-numeric elements) is an error; callers decide
// whether that is fatal or grounds for starting over with an empty series.
func (p *PricePoint) UnmarshalJSON(data []byte) error {
	var pair []json.Number
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("price point must be a [timestamp, price] array: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("price point must have exactly 2 elements, got %d", len(pair))
	}

	ts, err := pair[0].Int64()
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", pair[0], err)
	}

	price, err := decimal.NewFromString(pair[1].String())
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", pair[1], err)
	}

	p.Timestamp = ts
	p.Price = price
	return nil
}

// RawPoint is a price sample as delivered by the market-data provider:
// a Unix epoch millisecond timestamp and a price quote.
type RawPoint struct {
	TimestampMS int64
	Price       decimal.Decimal
}

// Point converts the raw sample to series resolution by integer-dividing
// the timestamp down to whole seconds. Sub-second precision is discarded.
func (r RawPoint) Point() PricePoint {
	return PricePoint{
		Timestamp: r.TimestampMS / 1000,
		Price:     r.Price,
	}
}
