// Package pricing computes the token cost of a generation request.
//
// Cost computation is deliberately separated from the charge itself so
// callers can show the price before committing, and so a refund reuses
// the amount recorded at charge time instead of recomputing it against
// settings that may have changed mid-flight.
package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidModel is returned for a model name the catalog does not know.
	ErrInvalidModel = errors.New("invalid model")

	// ErrInvalidRequest is returned for parameters rejected before any side effect.
	ErrInvalidRequest = errors.New("invalid request")
)

// AspectRatioAuto is the default aspect ratio: the provider picks, and no
// surcharge applies.
const AspectRatioAuto = "auto"

// MaxOutputCount bounds how many images one job may request.
const MaxOutputCount = 8

type modelPricing struct {
	baseCostPerOutput int64
	// surchargePerOutput applies when the aspect ratio is anything other
	// than auto. Zero means the model prices all ratios the same.
	surchargePerOutput int64
	// alwaysAsync marks models whose provider only returns a task id.
	alwaysAsync bool
}

// catalog is the model price list. Amounts are tokens per requested output.
var catalog = map[string]modelPricing{
	"nanobanana":      {baseCostPerOutput: 2, surchargePerOutput: 1},
	"nanobanana-edit": {baseCostPerOutput: 3, surchargePerOutput: 1},
	"seedream":        {baseCostPerOutput: 4, alwaysAsync: true},
	"upscale":         {baseCostPerOutput: 1},
}

// Cost returns the token cost for outputCount images from model at the
// given aspect ratio. It is a pure function: no I/O, no state.
func Cost(model, aspectRatio string, outputCount int) (int64, error) {
	p, ok := catalog[model]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidModel, model)
	}
	if outputCount < 1 || outputCount > MaxOutputCount {
		return 0, fmt.Errorf("%w: output_count must be 1..%d", ErrInvalidRequest, MaxOutputCount)
	}
	cost := p.baseCostPerOutput * int64(outputCount)
	if aspectRatio != "" && aspectRatio != AspectRatioAuto {
		cost += p.surchargePerOutput * int64(outputCount)
	}
	return cost, nil
}

// KnownModel reports whether model is in the catalog.
func KnownModel(model string) bool {
	_, ok := catalog[model]
	return ok
}

// AlwaysAsync reports whether the model's provider never returns inline
// results. Unknown models report false.
func AlwaysAsync(model string) bool {
	return catalog[model].alwaysAsync
}
