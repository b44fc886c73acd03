package providers

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"quantbot/internal/domain"
	"quantbot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candlesFromCloses(closes []float64) []*domain.Candle {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = &domain.Candle{
			Time:      base.Add(time.Duration(i) * 4 * time.Hour),
			Symbol:    "BTCUSDT",
			Timeframe: "4h",
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func trendingCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func defaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		ShortPeriod: 9,
		LongPeriod:  21,
		RSIPeriod:   14,
		VolWindow:   20,
		BarsPerYear: 365 * 6, // 4h bars
	}
}

func TestBaselineFeatures_ConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  FeatureConfig
	}{
		{"short >= long", FeatureConfig{ShortPeriod: 21, LongPeriod: 9, RSIPeriod: 14, VolWindow: 20, BarsPerYear: 100}},
		{"zero rsi period", FeatureConfig{ShortPeriod: 9, LongPeriod: 21, RSIPeriod: 0, VolWindow: 20, BarsPerYear: 100}},
		{"vol window too small", FeatureConfig{ShortPeriod: 9, LongPeriod: 21, RSIPeriod: 14, VolWindow: 1, BarsPerYear: 100}},
		{"zero bars per year", FeatureConfig{ShortPeriod: 9, LongPeriod: 21, RSIPeriod: 14, VolWindow: 20, BarsPerYear: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBaselineFeatures(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestBaselineFeatures_UptrendScoresPositive(t *testing.T) {
	f, err := NewBaselineFeatures(defaultFeatureConfig())
	require.NoError(t, err)

	candles := candlesFromCloses(trendingCloses(60, 100, 1))
	fs, err := f.Compute(context.Background(), candles)
	require.NoError(t, err)

	assert.Greater(t, fs.TechnicalScore, 0.0, "steady uptrend should score positive")
	assert.LessOrEqual(t, fs.TechnicalScore, 1.0)
	assert.Len(t, fs.LogReturns, 59)
	assert.Len(t, fs.RealizedVols, 59)
	assert.Equal(t, candles[59].Time, fs.DataTimestamp)
	assert.Greater(t, fs.RealizedVol, 0.0)
}

func TestBaselineFeatures_DowntrendScoresNegative(t *testing.T) {
	f, err := NewBaselineFeatures(defaultFeatureConfig())
	require.NoError(t, err)

	fs, err := f.Compute(context.Background(), candlesFromCloses(trendingCloses(60, 200, -1)))
	require.NoError(t, err)
	assert.Less(t, fs.TechnicalScore, 0.0)
}

func TestBaselineFeatures_InsufficientData(t *testing.T) {
	f, err := NewBaselineFeatures(defaultFeatureConfig())
	require.NoError(t, err)

	_, err = f.Compute(context.Background(), candlesFromCloses(trendingCloses(10, 100, 1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrInsufficientData))
}

func TestMomentumPredictor_FitThenPredict(t *testing.T) {
	p := NewMomentumPredictor()
	assert.False(t, p.Ready())

	candles := candlesFromCloses(trendingCloses(60, 100, 1))
	require.NoError(t, p.Fit(context.Background(), candles))
	assert.True(t, p.Ready())

	logReturns := make([]float64, 59)
	for i := range logReturns {
		logReturns[i] = 0.01
	}
	pred, err := p.Predict(context.Background(), &domain.FeatureSet{LogReturns: logReturns})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pred.Score, -1.0)
	assert.LessOrEqual(t, pred.Score, 1.0)
	assert.GreaterOrEqual(t, pred.Confidence, 0.5)
	assert.LessOrEqual(t, pred.Confidence, 0.95)
}

func TestMomentumPredictor_PredictBeforeFit(t *testing.T) {
	p := NewMomentumPredictor()
	_, err := p.Predict(context.Background(), &domain.FeatureSet{LogReturns: []float64{0.01}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrNotReady))
}

func TestThresholdRegimeDetector_Classification(t *testing.T) {
	d := NewThresholdRegimeDetector()
	ctx := context.Background()

	_, err := d.PredictCurrent(ctx, []float64{0.01}, []float64{0.1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrNotReady))

	// Warm-up vols mostly around 0.10; 75th percentile sits near there.
	vols := make([]float64, 40)
	for i := range vols {
		vols[i] = 0.10
	}
	returns := make([]float64, 40)
	require.NoError(t, d.Fit(ctx, returns, vols))
	require.True(t, d.Ready())

	// Latest vol far above the threshold: choppy.
	highVols := append(append([]float64{}, vols...), 0.50)
	regime, err := d.PredictCurrent(ctx, returns, highVols)
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeChoppy, regime)

	// Persistent directional drift at calm vol: trending.
	drift := make([]float64, 40)
	for i := range drift {
		drift[i] = 0.01 + 0.001*math.Sin(float64(i))
	}
	regime, err = d.PredictCurrent(ctx, drift, vols)
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeTrending, regime)

	// Oscillation around zero at calm vol: mean reverting.
	osc := make([]float64, 40)
	for i := range osc {
		if i%2 == 0 {
			osc[i] = 0.01
		} else {
			osc[i] = -0.01
		}
	}
	regime, err = d.PredictCurrent(ctx, osc, vols)
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeMeanReverting, regime)
}

func TestMemorySentiment_ScoreAndPrune(t *testing.T) {
	s := NewMemorySentiment(24 * time.Hour)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	score, err := s.Score(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Zero(t, score, "no events should score neutral")

	s.Record(SentimentEvent{Time: now.Add(-time.Hour), Symbol: "BTCUSDT", Score: 0.8})
	s.Record(SentimentEvent{Time: now.Add(-48 * time.Hour), Symbol: "BTCUSDT", Score: -0.8})
	s.Record(SentimentEvent{Time: now.Add(-time.Hour), Symbol: "ETHUSDT", Score: -1.0})

	score, err = s.Score(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Greater(t, score, 0.0, "recent positive event should outweigh the decayed negative one")

	// Other symbols don't bleed in.
	score, err = s.Score(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.InDelta(t, -1.0, score, 1e-9)

	removed := s.PruneBefore(now.Add(-24 * time.Hour))
	assert.Equal(t, 1, removed)

	removed = s.PruneBefore(now.Add(-24 * time.Hour))
	assert.Zero(t, removed)
}

func TestMemorySentiment_ClampsScores(t *testing.T) {
	s := NewMemorySentiment(24 * time.Hour)
	now := time.Now().UTC()
	s.Record(SentimentEvent{Time: now, Symbol: "BTCUSDT", Score: 5.0})

	score, err := s.Score(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)
}
