package metrics

/*
Labels and shared instruments for metrics used in Shipway.
*/

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	LabelStage       = "stage"
	LabelSuccess     = "success"
	LabelEnvironment = "environment"
	LabelOperation   = "operation"

	// Values for LabelStage
	StageBuild   = "build"
	StagePromote = "promote"
	StageDeploy  = "deploy"
)

// StageDuration is observed once per stage invocation, by every
// stage. Stages without an environment dimension label it empty.
var StageDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
	Namespace: "shipway",
	Subsystem: "pipeline",
	Name:      "stage_duration_seconds",
	Help:      "Duration of pipeline stage invocations, in seconds.",
	Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
}, []string{LabelStage, LabelEnvironment, LabelSuccess})
