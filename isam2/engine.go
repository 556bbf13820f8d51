// Package isam2 implements the incremental smoothing and mapping engine
// (C5, the Incremental Updater, and C6, the Nonlinear Step Controller): it
// wires the ordering, linear algebra, factor cache, and Bayes tree packages
// into a single Update operation that keeps a MAP estimate current as
// factors and variables arrive.
package isam2

import (
	"math"
	"sort"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/quadrature/isam2/bayestree"
	"github.com/quadrature/isam2/graph"
	"github.com/quadrature/isam2/linalg"
	"github.com/quadrature/isam2/nonlinear"
	"github.com/quadrature/isam2/ordering"
)

// Engine holds everything needed to incrementally maintain a MAP estimate:
// the variable ordering, the nonlinear factor cache, the Bayes tree, the
// current nonlinear estimate, and the pending linear correction (delta)
// against that estimate.
type Engine struct {
	params Params
	logger golog.Logger

	ordering *ordering.Ordering
	cache    *graph.Cache
	tree     *bayestree.Tree
	estimate *nonlinear.Estimate

	deltaContainer *ordering.VectorValues
	delta          *ordering.PermutedVector

	// deltaNewton holds the last Gauss-Newton back-substitution result,
	// persisted across Update calls so the dogleg controller's wildfire
	// pruning compares against the previous Newton leg instead of an
	// all-zero vector every time (see backSubstitute, doglegStep).
	deltaNewtonContainer *ordering.VectorValues
	deltaNewton          *ordering.PermutedVector

	// deltaRg holds, per variable, this engine's last computed R*g product
	// (the Bayes-tree factor applied to the gradient direction), the term
	// the dogleg controller's Cauchy-point denominator sums over cliques.
	deltaRgContainer *ordering.VectorValues
	deltaRg          *ordering.PermutedVector

	// replaced marks every variable whose clique was re-eliminated by the
	// most recent Update, plus every descendant the wildfire pass has since
	// revisited. backSubstitute consults it to skip cliques nothing under
	// them could have changed.
	replaced map[nonlinear.Key]bool

	updateCount  int
	doglegRadius float64
}

// NewEngine returns an empty Engine configured by params, logging through
// logger.
func NewEngine(params Params, logger golog.Logger) *Engine {
	deltaContainer := ordering.NewVectorValues()
	deltaNewtonContainer := ordering.NewVectorValues()
	deltaRgContainer := ordering.NewVectorValues()
	return &Engine{
		params:               params,
		logger:               logger,
		ordering:             ordering.New(),
		cache:                graph.NewCache(),
		tree:                 bayestree.New(),
		estimate:             nonlinear.NewEstimate(),
		deltaContainer:       deltaContainer,
		delta:                ordering.NewPermutedVector(deltaContainer),
		deltaNewtonContainer: deltaNewtonContainer,
		deltaNewton:          ordering.NewPermutedVector(deltaNewtonContainer),
		deltaRgContainer:     deltaRgContainer,
		deltaRg:              ordering.NewPermutedVector(deltaRgContainer),
		replaced:             make(map[nonlinear.Key]bool),
		doglegRadius:         params.Dogleg.InitialDelta,
	}
}

// GetOrdering returns the engine's current variable ordering.
func (e *Engine) GetOrdering() *ordering.Ordering { return e.ordering }

// GetFactorsUnsafe returns a read-only view over every factor slot,
// including tombstoned holes, matching spec.md's getFactorsUnsafe.
func (e *Engine) GetFactorsUnsafe() graph.FactorSlotView { return e.cache.Unsafe() }

// Nodes returns every clique currently in the Bayes tree.
func (e *Engine) Nodes() []*bayestree.Clique { return e.tree.AllCliques() }

// CalculateEstimate returns the current MAP estimate for every variable,
// folding the pending delta onto the nonlinear linearization point.
func (e *Engine) CalculateEstimate() map[nonlinear.Key]nonlinear.Value {
	out := make(map[nonlinear.Key]nonlinear.Value, e.estimate.Len())
	for _, k := range e.estimate.Keys() {
		out[k] = e.CalculateEstimateKey(k)
	}
	return out
}

// CalculateEstimateKey returns the current MAP estimate for a single
// variable.
func (e *Engine) CalculateEstimateKey(k nonlinear.Key) nonlinear.Value {
	v, ok := e.estimate.At(k)
	if !ok {
		return nil
	}
	idx, ok := e.ordering.At(k)
	if !ok {
		return v
	}
	row := e.delta.At(idx)
	if !hasNonzero(row) {
		return v
	}
	return v.Retract(row)
}

// Update applies newFactors, newValues, and removeSlots (cache slots to
// tombstone) to the engine, re-eliminating whatever part of the Bayes tree
// the change invalidates, and runs the configured step controller to
// refresh the linear correction.
func (e *Engine) Update(
	newFactors []nonlinear.Factor,
	newValues map[nonlinear.Key]nonlinear.Value,
	removeSlots []int,
	constrainedLastKeys ordering.ConstrainedLastKeys,
) (Result, error) {
	var result Result
	e.logger.Debugw("isam2 update", "newFactors", len(newFactors), "newValues", len(newValues), "removeSlots", len(removeSlots))

	addedKeys, err := e.addVariables(newValues, constrainedLastKeys)
	if err != nil {
		return Result{}, err
	}

	marked := make(map[nonlinear.Key]struct{})
	for _, k := range addedKeys {
		marked[k] = struct{}{}
	}

	// Validate every removeSlot before mutating the cache: an Update call
	// must not tombstone some slots and then fail on a later one, leaving
	// the engine in a state the caller never asked for.
	var removeErrs error
	removed := make([]nonlinear.Factor, len(removeSlots))
	for i, slot := range removeSlots {
		f, ok := e.cache.Get(slot)
		if !ok {
			removeErrs = multierr.Append(removeErrs, errors.Wrapf(nonlinear.ErrUnknownSlot, "remove slot %d", slot))
			continue
		}
		removed[i] = f
	}
	if removeErrs != nil {
		return Result{}, removeErrs
	}
	for i, slot := range removeSlots {
		for _, k := range removed[i].Keys() {
			marked[k] = struct{}{}
		}
		if err := e.cache.Remove(slot); err != nil {
			return Result{}, err
		}
	}

	for _, f := range newFactors {
		slot := e.cache.Add(f)
		result.NewFactorSlots = append(result.NewFactorSlots, slot)
		for _, k := range f.Keys() {
			marked[k] = struct{}{}
		}
	}

	if e.params.EvaluateNonlinearError {
		result.ErrorBefore = e.currentError()
	}

	if e.params.EnableRelinearization && e.params.RelinearizeSkip > 0 && e.updateCount%e.params.RelinearizeSkip == 0 {
		for _, k := range e.estimate.Keys() {
			idx, ok := e.ordering.At(k)
			if !ok {
				continue
			}
			row := e.delta.At(idx)
			if vectorInfNorm(row) > e.params.RelinearizeThreshold {
				if _, already := marked[k]; !already {
					result.VariablesRelinearized = append(result.VariablesRelinearized, k)
				}
				marked[k] = struct{}{}
			}
		}
	}
	e.updateCount++

	markedKeys := keysOf(marked)
	touchedSlots := e.cache.FactorsTouching(markedKeys)
	observed := make(map[nonlinear.Key]struct{})
	for slot := range touchedSlots {
		f, ok := e.cache.Get(slot)
		if !ok {
			continue
		}
		for _, k := range f.Keys() {
			observed[k] = struct{}{}
		}
	}
	for k := range marked {
		observed[k] = struct{}{}
	}

	affected := e.tree.AffectedCliques(keysOf(observed))
	orphans := e.tree.DetachAffected(affected)

	toEliminateSet := make(map[nonlinear.Key]struct{})
	for c := range affected {
		for _, k := range c.FrontalKeys() {
			toEliminateSet[k] = struct{}{}
		}
	}
	for _, k := range addedKeys {
		toEliminateSet[k] = struct{}{}
	}

	toEliminate := keysOf(toEliminateSet)
	sort.Slice(toEliminate, func(i, j int) bool {
		ii, _ := e.ordering.At(toEliminate[i])
		jj, _ := e.ordering.At(toEliminate[j])
		return ii < jj
	})
	e.logger.Debugw("isam2 update verbose", "affectedCliques", len(affected), "orphans", len(orphans), "toEliminate", len(toEliminate))

	for _, k := range toEliminate {
		idx, _ := e.ordering.At(k)
		row := e.delta.At(idx)
		if hasNonzero(row) {
			v, _ := e.estimate.At(k)
			e.estimate.Set(k, v.Retract(row))
			e.delta.Set(idx, make([]float64, len(row)))
		}
	}

	e.logger.Debugf("isam2 recalculate: re-eliminating %d variables", len(toEliminate))
	if err := e.reeliminate(toEliminate, orphans); err != nil {
		return Result{}, err
	}
	for _, k := range toEliminate {
		e.replaced[k] = true
	}
	result.VariablesReeliminated = toEliminate
	result.FactorsRecalculated = len(e.cache.FactorsTouching(toEliminate))
	result.CliqueCount = e.tree.Size()

	if err := e.runStepController(); err != nil {
		return Result{}, err
	}

	if e.params.EvaluateNonlinearError {
		result.ErrorAfter = e.currentError()
	}

	return result, nil
}

func (e *Engine) addVariables(newValues map[nonlinear.Key]nonlinear.Value, constrainedLastKeys ordering.ConstrainedLastKeys) ([]nonlinear.Key, error) {
	if len(newValues) == 0 {
		return nil, nil
	}
	added := make([]nonlinear.Key, 0, len(newValues))
	for k := range newValues {
		added = append(added, k)
	}
	sort.Slice(added, func(i, j int) bool { return added[i] < added[j] })

	dims := make([]int, 0, len(added))
	for _, k := range added {
		if err := e.estimate.Insert(k, newValues[k]); err != nil {
			return nil, err
		}
		if _, err := e.ordering.Insert(k); err != nil {
			return nil, err
		}
		dims = append(dims, newValues[k].Dim())
	}
	e.deltaContainer.Extend(dims...)
	if err := e.delta.ExtendIdentity(e.ordering.Len()); err != nil {
		return nil, err
	}
	e.deltaNewtonContainer.Extend(dims...)
	if err := e.deltaNewton.ExtendIdentity(e.ordering.Len()); err != nil {
		return nil, err
	}
	e.deltaRgContainer.Extend(dims...)
	if err := e.deltaRg.ExtendIdentity(e.ordering.Len()); err != nil {
		return nil, err
	}

	if len(constrainedLastKeys) > 0 {
		for k := range constrainedLastKeys {
			if _, ok := e.ordering.At(k); !ok {
				return nil, errors.Wrapf(nonlinear.ErrDuplicateKey, "constrained key %v is not in the ordering", k)
			}
		}
		indices := make([]ordering.Index, e.ordering.Len())
		for i := range indices {
			indices[i] = ordering.Index(i)
		}
		sorted := ordering.OrderIndices(indices, e.ordering, constrainedLastKeys)
		perm := make(ordering.Permutation, len(sorted))
		for newPos, oldIdx := range sorted {
			perm[newPos] = oldIdx
		}
		if err := e.ordering.PermuteInPlace(perm, e.delta, e.deltaNewton, e.deltaRg); err != nil {
			return nil, err
		}
		if err := e.tree.PermuteWithInverse(perm.Inverse()); err != nil {
			return nil, err
		}
	}

	return added, nil
}

// reeliminate rebuilds the Bayes tree for exactly the variables in
// toEliminate (already in ascending elimination-index order), folding in
// orphans' cached separator marginals so their subtrees need not be
// revisited.
func (e *Engine) reeliminate(toEliminate []nonlinear.Key, orphans []*bayestree.Clique) error {
	if len(toEliminate) == 0 {
		return nil
	}

	dims := make(map[nonlinear.Key]int, len(toEliminate))
	for _, k := range toEliminate {
		v, ok := e.estimate.At(k)
		if !ok {
			return errors.Errorf("no estimate for key %v pending elimination", k)
		}
		dims[k] = v.Dim()
	}

	touching := e.cache.FactorsTouching(toEliminate)
	linearized, err := e.cache.LinearizeAt(touching, e.estimate)
	if err != nil {
		return err
	}

	orphanByTopIndex := make(map[ordering.Index][]*bayestree.Clique)
	var pseudo []*graph.JacobianFactor
	for _, o := range orphans {
		if sep := o.CachedSeparator(); sep != nil && !sep.Empty() {
			pj, err := graph.HessianToPseudoJacobian(sep)
			if err != nil {
				return err
			}
			pseudo = append(pseudo, pj)
		}
		top := e.maxIndex(o.SeparatorKeys())
		orphanByTopIndex[top] = append(orphanByTopIndex[top], o)
	}

	byMinIndex := make(map[ordering.Index][]*graph.JacobianFactor)
	for _, f := range linearized {
		m := e.minIndex(f.Keys())
		byMinIndex[m] = append(byMinIndex[m], f)
	}
	for _, f := range pseudo {
		m := e.minIndex(f.Keys())
		byMinIndex[m] = append(byMinIndex[m], f)
	}

	carry := make(map[ordering.Index][]*graph.JacobianFactor)
	producer := make(map[*graph.JacobianFactor]*bayestree.Clique)

	for _, k := range toEliminate {
		idx, _ := e.ordering.At(k)

		factorsForV := append([]*graph.JacobianFactor{}, byMinIndex[idx]...)
		factorsForV = append(factorsForV, carry[idx]...)
		if len(factorsForV) == 0 {
			return errors.Errorf("variable %v has no factors at elimination time", k)
		}

		cond, rem, err := linalg.EliminateOne(e.params.Factorization, k, factorsForV, dims)
		if err != nil {
			return err
		}

		clique := bayestree.NewClique(idx, cond)
		var grad mat.VecDense
		grad.MulVec(cond.RFF().T(), cond.D())
		clique.SetGradientContribution(&grad)
		e.tree.Insert(clique)

		for _, f := range carry[idx] {
			if child, ok := producer[f]; ok {
				e.tree.Attach(child, clique)
			}
		}
		for _, o := range orphanByTopIndex[idx] {
			e.tree.Attach(o, clique)
		}

		var cachedSeparator *graph.HessianFactor
		if rem != nil {
			cachedSeparator = graph.JacobianToHessian(rem)
			m := e.minIndex(rem.Keys())
			carry[m] = append(carry[m], rem)
			producer[rem] = clique
		} else {
			cachedSeparator = graph.EmptyHessianFactor()
			e.tree.Attach(clique, nil)
		}
		clique.SetCachedSeparator(cachedSeparator)
	}

	return nil
}

func (e *Engine) minIndex(keys []nonlinear.Key) ordering.Index {
	best := ordering.Index(-1)
	for _, k := range keys {
		idx, _ := e.ordering.At(k)
		if best == -1 || idx < best {
			best = idx
		}
	}
	return best
}

func (e *Engine) maxIndex(keys []nonlinear.Key) ordering.Index {
	best := ordering.Index(-1)
	for _, k := range keys {
		idx, _ := e.ordering.At(k)
		if idx > best {
			best = idx
		}
	}
	return best
}

func (e *Engine) totalError() float64 {
	total := 0.0
	for _, slot := range e.cache.LiveSlots() {
		f, _ := e.cache.Get(slot)
		total += f.Error(e.estimate)
	}
	return total
}

// currentError returns the total error of every live factor at the current
// estimate: the linearization point with the pending delta applied.
func (e *Engine) currentError() float64 {
	est := e.estimate.Retract(gnAsMap(e, e.delta))
	total := 0.0
	for _, slot := range e.cache.LiveSlots() {
		f, _ := e.cache.Get(slot)
		total += f.Error(est)
	}
	return total
}

// Clone returns a deep copy sharing no mutable state with the receiver.
func (e *Engine) Clone() *Engine {
	deltaContainer := e.deltaContainer.Clone()
	deltaNewtonContainer := e.deltaNewtonContainer.Clone()
	deltaRgContainer := e.deltaRgContainer.Clone()
	replaced := make(map[nonlinear.Key]bool, len(e.replaced))
	for k, v := range e.replaced {
		replaced[k] = v
	}
	return &Engine{
		params:               e.params,
		logger:               e.logger,
		ordering:             e.ordering.Clone(),
		cache:                e.cache.Clone(),
		tree:                 e.tree.Clone(),
		estimate:             e.estimate.Clone(),
		deltaContainer:       deltaContainer,
		delta:                e.delta.CloneWithContainer(deltaContainer),
		deltaNewtonContainer: deltaNewtonContainer,
		deltaNewton:          e.deltaNewton.CloneWithContainer(deltaNewtonContainer),
		deltaRgContainer:     deltaRgContainer,
		deltaRg:              e.deltaRg.CloneWithContainer(deltaRgContainer),
		replaced:             replaced,
		updateCount:          e.updateCount,
		doglegRadius:         e.doglegRadius,
	}
}

func keysOf(m map[nonlinear.Key]struct{}) []nonlinear.Key {
	out := make([]nonlinear.Key, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func hasNonzero(row []float64) bool {
	for _, v := range row {
		if v != 0 {
			return true
		}
	}
	return false
}

func vectorInfNorm(row []float64) float64 {
	return floats.Norm(row, math.Inf(1))
}

func gatherRows(container func(nonlinear.Key) []float64, keys []nonlinear.Key) *mat.VecDense {
	var data []float64
	for _, k := range keys {
		data = append(data, container(k)...)
	}
	return mat.NewVecDense(len(data), data)
}
