package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Field names shared across all brand records. Extraction is best-effort, so
// any of these may be missing or empty on a given record.
const (
	FieldHotelCode     = "hotel_code"
	FieldHotelName     = "hotel_name"
	FieldAddress       = "address"
	FieldAddressMapURL = "address_map_url"
	FieldCity          = "city"
	FieldState         = "state"
	FieldCountry       = "country"
	FieldPhone         = "phone"
	FieldRating        = "rating"
	FieldDescription   = "description"
	FieldCardPrice     = "card_price"
	FieldPropertyURL   = "property_url"
	FieldOverviewTable = "overview_table"
	FieldPets          = "pets"
	FieldParking       = "parking"
	FieldAmenities     = "amenities"
	FieldNearby        = "nearby"
	FieldAirport       = "airport"
	FieldIsPetFriendly = "is_pet_friendly"
	FieldLastUpdated   = "last_updated"
)

// Record is one scraped hotel: field name to scalar or nested JSON value.
type Record map[string]any

// Key is the natural identity of a record, used for deduplication.
type Key struct {
	Code string
	Name string
}

func (k Key) IsZero() bool {
	return k.Code == "" && k.Name == ""
}

func (k Key) String() string {
	return k.Code + "|" + k.Name
}

// NewRecord creates a record stamped with the current time.
func NewRecord(code, name string) Record {
	return Record{
		FieldHotelCode:   code,
		FieldHotelName:   name,
		FieldLastUpdated: time.Now().UTC().Format(time.RFC3339),
	}
}

// Identity derives the dedupe key from hotel_code and hotel_name.
func (r Record) Identity() Key {
	return Key{
		Code: r.StringField(FieldHotelCode),
		Name: r.StringField(FieldHotelName),
	}
}

// StringField returns the field rendered as a string, or "" when absent.
// Nested values render as compact JSON; this is also how CSV cells are built.
func (r Record) StringField(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch tv := v.(type) {
	case string:
		return tv
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", tv), "0"), ".")
	case bool:
		if tv {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprintf("%v", tv)
		}
		return string(b)
	}
}

// EmptyValue reports whether v counts as "no data": nil, the empty string, or
// the literal string "null" (a placeholder some extractors emit).
func EmptyValue(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	return s == "" || s == "null"
}

// HasValue reports whether the field carries real data.
func (r Record) HasValue(field string) bool {
	return !EmptyValue(r[field])
}

// Fill copies into r every field of src for which r has no value and src does.
// Present non-empty values are never overwritten. Returns the number of fields
// filled.
func (r Record) Fill(src Record) int {
	filled := 0
	for field, v := range src {
		if EmptyValue(v) {
			continue
		}
		if EmptyValue(r[field]) {
			r[field] = v
			filled++
		}
	}
	return filled
}

// Clone returns a shallow copy. Nested values are shared; callers treat them
// as immutable once attached to a record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Touch refreshes the last_updated stamp.
func (r Record) Touch() {
	r[FieldLastUpdated] = time.Now().UTC().Format(time.RFC3339)
}
