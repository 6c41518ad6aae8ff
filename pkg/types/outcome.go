package types

import "fmt"

// ValidationOutcome is the result of a single validation or submission attempt.
// It is a response value only and is never persisted.
type ValidationOutcome uint8

const (
	Valid ValidationOutcome = iota
	InvalidSignature
	SequenceNumberTooOld
	SequenceNumberTooNew
	InsufficientBalance
	GasPriceBelowMinimum
	TransactionExpired
	DisallowedProgram
	MempoolFull
	DuplicateTransaction
	GasAmountOutOfBounds
	GasPriceAboveMaximum
	// MempoolUnavailable means the pool could not be reached after the retry
	// policy was exhausted. It is never caused by the client.
	MempoolUnavailable
	// Timeout means an adapter call exceeded its time bound.
	Timeout
)

var outcomeNames = [...]string{
	Valid:                "Valid",
	InvalidSignature:     "InvalidSignature",
	SequenceNumberTooOld: "SequenceNumberTooOld",
	SequenceNumberTooNew: "SequenceNumberTooNew",
	InsufficientBalance:  "InsufficientBalance",
	GasPriceBelowMinimum: "GasPriceBelowMinimum",
	TransactionExpired:   "TransactionExpired",
	DisallowedProgram:    "DisallowedProgram",
	MempoolFull:          "MempoolFull",
	DuplicateTransaction: "DuplicateTransaction",
	GasAmountOutOfBounds: "GasAmountOutOfBounds",
	GasPriceAboveMaximum: "GasPriceAboveMaximum",
	MempoolUnavailable:   "MempoolUnavailable",
	Timeout:              "Timeout",
}

func (o ValidationOutcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("ValidationOutcome(%d)", uint8(o))
}

// MarshalText encodes the outcome by name.
func (o ValidationOutcome) MarshalText() ([]byte, error) {
	if int(o) >= len(outcomeNames) {
		return nil, fmt.Errorf("unknown validation outcome %d", uint8(o))
	}
	return []byte(outcomeNames[o]), nil
}

// UnmarshalText decodes an outcome name.
func (o *ValidationOutcome) UnmarshalText(text []byte) error {
	for i, name := range outcomeNames {
		if name == string(text) {
			*o = ValidationOutcome(i)
			return nil
		}
	}
	return fmt.Errorf("unknown validation outcome %q", text)
}

// IsValid reports whether the outcome admits the transaction.
func (o ValidationOutcome) IsValid() bool { return o == Valid }

// Internal reports whether the outcome is caused by the node rather than the client.
func (o ValidationOutcome) Internal() bool {
	return o == MempoolUnavailable || o == Timeout
}
