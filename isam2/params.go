package isam2

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/quadrature/isam2/linalg"
	"github.com/quadrature/isam2/nonlinear"
)

// OptimizationMode selects the nonlinear step controller (C6).
type OptimizationMode int

const (
	// GaussNewton always takes the full linearized step.
	GaussNewton OptimizationMode = iota
	// Dogleg interpolates between the Gauss-Newton step and the steepest
	// descent direction within a trust region, per Powell's dogleg.
	Dogleg
)

// GaussNewtonParams configures the Gauss-Newton step controller.
type GaussNewtonParams struct {
	// WildfireThreshold bounds how far back-substitution wildfire-propagates:
	// a clique's newly solved update is always stored, but if it differs
	// from the previously stored value by less than this in every
	// component, the clique's descendants are not visited.
	WildfireThreshold float64
}

// DoglegParams configures the Powell's dogleg step controller.
type DoglegParams struct {
	InitialDelta float64
}

// Params configures an Engine. The zero value is not valid; use
// DefaultParams and override fields, or LoadParams.
type Params struct {
	Optimization        OptimizationMode
	GaussNewton         GaussNewtonParams
	Dogleg              DoglegParams
	Factorization       linalg.Factorization
	RelinearizeThreshold float64
	RelinearizeSkip      int
	EnableRelinearization bool
	EvaluateNonlinearError bool
	KeyFormatter         func(nonlinear.Key) string
}

// DefaultParams returns the engine's default configuration: Gauss-Newton
// optimization, Cholesky factorization, relinearization enabled with a
// 0.1 threshold, checked every update.
func DefaultParams() Params {
	return Params{
		Optimization:          GaussNewton,
		GaussNewton:            GaussNewtonParams{WildfireThreshold: 1e-3},
		Dogleg:                 DoglegParams{InitialDelta: 1.0},
		Factorization:          linalg.Cholesky,
		RelinearizeThreshold:   0.1,
		RelinearizeSkip:        1,
		EnableRelinearization:  true,
		EvaluateNonlinearError: false,
		KeyFormatter:           func(k nonlinear.Key) string { return k.String() },
	}
}

type paramsFile struct {
	Optimization string  `toml:"optimization"`
	Factorization string `toml:"factorization"`

	GaussNewtonWildfireThreshold float64 `toml:"gauss_newton_wildfire_threshold"`
	DoglegInitialDelta           float64 `toml:"dogleg_initial_delta"`

	RelinearizeThreshold   float64 `toml:"relinearize_threshold"`
	RelinearizeSkip        int     `toml:"relinearize_skip"`
	EnableRelinearization  *bool   `toml:"enable_relinearization"`
	EvaluateNonlinearError bool    `toml:"evaluate_nonlinear_error"`
}

// LoadParams reads a TOML configuration file and overlays it onto
// DefaultParams.
func LoadParams(path string) (Params, error) {
	params := DefaultParams()

	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, errors.Wrapf(err, "reading isam2 params file %q", path)
	}

	var raw paramsFile
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return Params{}, errors.Wrapf(err, "decoding isam2 params file %q", path)
	}

	switch raw.Optimization {
	case "", "gauss_newton":
		params.Optimization = GaussNewton
	case "dogleg":
		params.Optimization = Dogleg
	default:
		return Params{}, errors.Errorf("unknown optimization mode %q", raw.Optimization)
	}

	switch raw.Factorization {
	case "", "cholesky":
		params.Factorization = linalg.Cholesky
	case "qr":
		params.Factorization = linalg.QR
	default:
		return Params{}, errors.Errorf("unknown factorization mode %q", raw.Factorization)
	}

	if md.IsDefined("gauss_newton_wildfire_threshold") {
		params.GaussNewton.WildfireThreshold = raw.GaussNewtonWildfireThreshold
	}
	if md.IsDefined("dogleg_initial_delta") {
		params.Dogleg.InitialDelta = raw.DoglegInitialDelta
	}
	if md.IsDefined("relinearize_threshold") {
		params.RelinearizeThreshold = raw.RelinearizeThreshold
	}
	if md.IsDefined("relinearize_skip") {
		params.RelinearizeSkip = raw.RelinearizeSkip
	}
	if raw.EnableRelinearization != nil {
		params.EnableRelinearization = *raw.EnableRelinearization
	}
	params.EvaluateNonlinearError = raw.EvaluateNonlinearError

	return params, nil
}
