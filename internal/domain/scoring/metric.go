package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Evaluator computes a score from aligned ground-truth and predicted values.
type Evaluator func(yTrue, yPred []float64) (float64, error)

// Metric names an evaluator and its natural ranking direction.
type Metric struct {
	Name           string
	Evaluate       Evaluator
	HigherIsBetter bool
}

var builtinMetrics = map[string]Metric{
	"accuracy": {Name: "accuracy", Evaluate: Accuracy, HigherIsBetter: true},
	"rmse":     {Name: "rmse", Evaluate: RMSE, HigherIsBetter: false},
	"mae":      {Name: "mae", Evaluate: MAE, HigherIsBetter: false},
	"r2":       {Name: "r2", Evaluate: R2, HigherIsBetter: true},
}

// LookupMetric returns the built-in metric called name (case-insensitive).
func LookupMetric(name string) (Metric, error) {
	m, ok := builtinMetrics[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Metric{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownMetric, name, strings.Join(MetricNames(), ", "))
	}
	return m, nil
}

// MetricNames lists the built-in metric names in sorted order.
func MetricNames() []string {
	names := make([]string, 0, len(builtinMetrics))
	for n := range builtinMetrics {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func checkAligned(yTrue, yPred []float64) error {
	if len(yTrue) != len(yPred) {
		return fmt.Errorf("%w: %d true values vs %d predictions", ErrInconsistentData, len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return fmt.Errorf("%w: empty partition", ErrInconsistentData)
	}
	return nil
}

// Accuracy is the fraction of exact matches.
func Accuracy(yTrue, yPred []float64) (float64, error) {
	if err := checkAligned(yTrue, yPred); err != nil {
		return 0, err
	}
	hits := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue)), nil
}

// RMSE is the root mean squared error.
func RMSE(yTrue, yPred []float64) (float64, error) {
	if err := checkAligned(yTrue, yPred); err != nil {
		return 0, err
	}
	var sum float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(yTrue))), nil
}

// MAE is the mean absolute error.
func MAE(yTrue, yPred []float64) (float64, error) {
	if err := checkAligned(yTrue, yPred); err != nil {
		return 0, err
	}
	var sum float64
	for i := range yTrue {
		sum += math.Abs(yTrue[i] - yPred[i])
	}
	return sum / float64(len(yTrue)), nil
}

// R2 is the coefficient of determination. A constant ground truth yields 1
// for a perfect prediction and 0 otherwise.
func R2(yTrue, yPred []float64) (float64, error) {
	if err := checkAligned(yTrue, yPred); err != nil {
		return 0, err
	}
	var mean float64
	for _, v := range yTrue {
		mean += v
	}
	mean /= float64(len(yTrue))

	var ssRes, ssTot float64
	for i := range yTrue {
		r := yTrue[i] - yPred[i]
		ssRes += r * r
		d := yTrue[i] - mean
		ssTot += d * d
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return 1 - ssRes/ssTot, nil
}
