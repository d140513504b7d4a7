package domain

// ResetValue is the sentinel value that clears the whole value store when any
// symbol reports it.
const ResetValue = "0"

// SymbolEvent is the decoded body of an inbound blob.
type SymbolEvent struct {
	Symbol string `json:"symbol"`
	Value  string `json:"value"`
}

// DeltaRecord is the enriched record forwarded downstream for every event.
// Delta is nil when no prior value was known for the symbol.
type DeltaRecord struct {
	Symbol        string  `json:"symbol"`
	Delta         *string `json:"delta,omitempty"`
	CurValue      string  `json:"curValue"`
	OrigOrder     string  `json:"origOrder"`
	ProcTimeStamp string  `json:"procTimeStamp"`
}

// HasDelta reports whether the record carries a delta.
func (r DeltaRecord) HasDelta() bool {
	return r.Delta != nil
}

// DeltaOrEmpty returns the delta, or "" when absent.
func (r DeltaRecord) DeltaOrEmpty() string {
	if r.Delta == nil {
		return ""
	}
	return *r.Delta
}
