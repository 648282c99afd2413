package core

import "fmt"

// SequenceValidator tracks the last applied source sequence per partition.
// Order-flow partitions are keyed "collateral:<hex address>", governance
// commands (collateral listing, fee updates) share the "global" partition.
type SequenceValidator struct {
	lastSequence map[string]int64
	gaps         int64
	outOfOrder   int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		lastSequence: make(map[string]int64),
	}
}

// SequenceResult describes the outcome of a sequence check
type SequenceResult int

const (
	SequenceOK SequenceResult = iota
	SequenceDuplicate
	SequenceGap
	SequenceOutOfOrder
)

func (sr SequenceResult) String() string {
	switch sr {
	case SequenceOK:
		return "OK"
	case SequenceDuplicate:
		return "DUPLICATE"
	case SequenceGap:
		return "GAP"
	case SequenceOutOfOrder:
		return "OUT_OF_ORDER"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(sr))
	}
}

// Validate checks a source sequence for its partition. A sequence of 0 means
// the source does not provide ordering and the check is skipped.
func (sv *SequenceValidator) Validate(partition string, sourceSequence int64) SequenceResult {
	if sourceSequence == 0 {
		return SequenceOK
	}

	last, seen := sv.lastSequence[partition]
	if !seen {
		sv.lastSequence[partition] = sourceSequence
		return SequenceOK
	}

	switch {
	case sourceSequence == last:
		return SequenceDuplicate
	case sourceSequence < last:
		sv.outOfOrder++
		return SequenceOutOfOrder
	case sourceSequence > last+1:
		sv.gaps++
		sv.lastSequence[partition] = sourceSequence
		return SequenceGap
	default:
		sv.lastSequence[partition] = sourceSequence
		return SequenceOK
	}
}

// Snapshot returns a copy of the per-partition watermarks.
func (sv *SequenceValidator) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(sv.lastSequence))
	for k, v := range sv.lastSequence {
		out[k] = v
	}
	return out
}

// Restore replaces the watermarks from a snapshot.
func (sv *SequenceValidator) Restore(watermarks map[string]int64) {
	sv.lastSequence = make(map[string]int64, len(watermarks))
	for k, v := range watermarks {
		sv.lastSequence[k] = v
	}
}

// Gaps returns the count of observed sequence gaps.
func (sv *SequenceValidator) Gaps() int64 { return sv.gaps }

// OutOfOrder returns the count of observed out-of-order sequences.
func (sv *SequenceValidator) OutOfOrder() int64 { return sv.outOfOrder }
