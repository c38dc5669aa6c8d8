package ml

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// Score computes probability and decision for every row in one batched
// inference call. The result is aligned 1:1 with rows; any failure fails the
// whole batch.
func (mc *ModelContext) Score(rows []FeatureRow) ([]ScoredRow, error) {
	if err := mc.checkAvailable(); err != nil {
		mc.recordError(err)
		return nil, err
	}

	start := time.Now()
	defer func() {
		if mc.metrics != nil {
			mc.metrics.ScoringLatencyObserve(time.Since(start).Seconds())
		}
	}()

	if len(rows) == 0 {
		return []ScoredRow{}, nil
	}

	if err := validateRows(rows); err != nil {
		mc.recordError(err)
		return nil, err
	}

	matrix, err := buildMatrix(rows, mc.classifier.Features())
	if err != nil {
		mc.recordError(err)
		return nil, err
	}

	probas, err := mc.predictProba(matrix)
	if err != nil {
		cerr := computationError(err, "inference failed")
		mc.recordError(cerr)
		return nil, cerr
	}
	if len(probas) != len(rows) {
		cerr := computationError(nil, "model returned %d predictions for %d rows", len(probas), len(rows))
		mc.recordError(cerr)
		return nil, cerr
	}

	scored := make([]ScoredRow, len(rows))
	positives := 0
	for i, p := range probas {
		prob, err := positiveClass(p)
		if err != nil {
			cerr := computationError(err, "invalid prediction for client %s", rows[i].ClientID)
			mc.recordError(cerr)
			return nil, cerr
		}
		decision := Decide(prob, mc.threshold)
		positives += decision
		scored[i] = ScoredRow{ClientID: rows[i].ClientID, Probability: prob, Decision: decision}

		log.Debug().
			Str("client_id", rows[i].ClientID).
			Str("probability", fmt.Sprintf("%.4f", prob)).
			Int("decision", decision).
			Msg("client scored")
	}

	if mc.metrics != nil {
		mc.metrics.ScoredRowsAdd(len(scored))
		mc.metrics.PositiveDecisionsAdd(positives)
		for _, s := range scored {
			mc.metrics.PredictionScoreObserve(s.Probability)
		}
	}

	return scored, nil
}

func positiveClass(p []float64) (float64, error) {
	if len(p) < 2 {
		return 0, fmt.Errorf("expected 2 class probabilities, got %d", len(p))
	}
	prob := p[1]
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		return 0, fmt.Errorf("probability %v outside [0,1]", prob)
	}
	return prob, nil
}

func (mc *ModelContext) recordError(err error) {
	if mc == nil || mc.metrics == nil {
		return
	}
	mc.metrics.ErrorInc(string(KindOf(err)))
}
