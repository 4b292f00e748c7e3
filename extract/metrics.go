package extract

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledgepipe_extractions_total",
			Help: "Extraction results by category and outcome",
		},
		[]string{"category", "status"},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledgepipe_llm_tokens_total",
			Help: "LLM tokens spent on extraction calls, by context level",
		},
		[]string{"level"},
	)
)

const (
	statusSuccess    = "success"
	statusFailed     = "failed"
	statusSaveFailed = "save_failed"
)
