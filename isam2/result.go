package isam2

import "github.com/quadrature/isam2/nonlinear"

// Result reports what an Engine.Update call actually did, for callers that
// want to log or assert on incremental behavior rather than just the new
// estimate.
type Result struct {
	// NewFactorSlots are the cache slots assigned to the factors passed to
	// this Update call, in the order they were passed.
	NewFactorSlots []int

	// VariablesReeliminated lists every variable whose clique was rebuilt
	// this update, in elimination order.
	VariablesReeliminated []nonlinear.Key

	// VariablesRelinearized lists the subset of VariablesReeliminated that
	// were re-eliminated specifically because their accumulated delta
	// exceeded RelinearizeThreshold (as opposed to being swept in via a
	// shared factor or being brand new).
	VariablesRelinearized []nonlinear.Key

	// CliqueCount is the number of cliques in the Bayes tree after Update.
	CliqueCount int

	// FactorsRecalculated is the number of nonlinear factors relinearized
	// during this update.
	FactorsRecalculated int

	// ErrorBefore and ErrorAfter report total nonlinear error across all
	// live factors, evaluated before and after the step. Both are zero
	// unless Params.EvaluateNonlinearError is set.
	ErrorBefore float64
	ErrorAfter  float64
}
