// options.go - Uebersetzungsoptionen und Validierung
package translator

import (
	"errors"
	"fmt"
)

// ErrInvalidOption is the precondition error kind for a malformed or
// conflicting Options value.
var ErrInvalidOption = errors.New("translator: invalid option")

// Options configures one translate_batch_with_prefix call.
type Options struct {
	BeamSize          int
	NumHypotheses     int
	LengthPenalty     float64
	MaxDecodingLength int
	MinDecodingLength int
	UseVMap           bool
	ReturnAttention   bool
}

// DefaultOptions returns the documented default option set.
func DefaultOptions() Options {
	return Options{
		BeamSize:          1,
		NumHypotheses:     1,
		LengthPenalty:     0,
		MaxDecodingLength: 250,
		MinDecodingLength: 1,
	}
}

// Validate enforces the option preconditions, given whether a target
// prefix and a vocabulary map were supplied and the batch size.
func (o Options) Validate(hasPrefix, hasVMap bool, batchSize int) error {
	if o.BeamSize < 1 {
		return fmt.Errorf("%w: beam_size must be >= 1, got %d", ErrInvalidOption, o.BeamSize)
	}
	if o.NumHypotheses < 1 || o.NumHypotheses > o.BeamSize {
		return fmt.Errorf("%w: num_hypotheses must be in [1, beam_size], got %d", ErrInvalidOption, o.NumHypotheses)
	}
	if o.LengthPenalty < 0 {
		return fmt.Errorf("%w: length_penalty must be >= 0, got %f", ErrInvalidOption, o.LengthPenalty)
	}
	if o.MaxDecodingLength < 1 {
		return fmt.Errorf("%w: max_decoding_length must be >= 1, got %d", ErrInvalidOption, o.MaxDecodingLength)
	}
	if o.MinDecodingLength < 0 || o.MinDecodingLength > o.MaxDecodingLength {
		return fmt.Errorf("%w: min_decoding_length must be in [0, max_decoding_length], got %d", ErrInvalidOption, o.MinDecodingLength)
	}
	if o.UseVMap && !hasVMap {
		return fmt.Errorf("%w: use_vmap requires a non-empty vocabulary map", ErrInvalidOption)
	}
	if hasPrefix {
		if o.ReturnAttention {
			return fmt.Errorf("%w: return_attention is forbidden with a target prefix", ErrInvalidOption)
		}
		if batchSize > 1 {
			return fmt.Errorf("%w: target prefix requires batch size 1, got %d", ErrInvalidOption, batchSize)
		}
	}
	return nil
}
