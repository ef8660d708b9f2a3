package analyzer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/answercache/pkg/observability"
)

func tart() *Content {
	return &Content{
		Title:       "Tartă cu mere",
		Ingredients: []string{"200 g făină", "100 g unt", "2 ouă", "1 cup zahăr"},
		Steps: []string{
			"Preîncălzește cuptorul la 180°C.",
			"Caramelizează merele în tigaie.",
			"Bate ouăle cu un mixer.",
			"Coace 35 de minute.",
		},
		PrepMinutes: 20,
		CookMinutes: 35,
		Difficulty:  "ușor",
	}
}

func newTestAnalyzer(t *testing.T, cfg Config, opts ...Option) *Analyzer {
	t.Helper()
	opts = append([]Option{WithLogger(observability.NewNoopLogger())}, opts...)
	a, err := New(cfg, opts...)
	require.NoError(t, err)
	return a
}

func categories(qs []Question) []Category {
	out := make([]Category, len(qs))
	for i, q := range qs {
		out[i] = q.Category
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MinConfidence = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxQuestions = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestAnalyze_RanksAndTruncates(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	qs := a.Analyze(context.Background(), tart())

	require.Len(t, qs, 5)
	assert.Equal(t, []Category{
		CategoryTemperature,
		CategorySubstitution,
		CategoryDifficulty,
		CategoryMeasurement,
		CategoryTechnique,
	}, categories(qs))

	assert.Equal(t, "Ce fac dacă cuptorul meu nu ajunge la 180 de grade?", qs[0].Question)
	assert.Equal(t, 0.9, qs[0].Confidence)
	assert.Equal(t, "180 c", qs[0].TriggerText)
	assert.Equal(t, "Cu ce pot înlocui untul în această rețetă?", qs[1].Question)
	assert.Equal(t, "Pot face rețeta chiar dacă sunt începător?", qs[2].Question)
	assert.Equal(t, 10, qs[0].Priority)

	for i := 1; i < len(qs); i++ {
		assert.GreaterOrEqual(t, qs[i-1].Confidence, qs[i].Confidence)
	}
}

func TestAnalyze_AllCategoriesWhenUntruncated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQuestions = 10
	a := newTestAnalyzer(t, cfg)
	qs := a.Analyze(context.Background(), tart())

	assert.Equal(t, []Category{
		CategoryTemperature,
		CategorySubstitution,
		CategoryDifficulty,
		CategoryMeasurement,
		CategoryTechnique,
		CategoryTiming,
		CategoryEquipment,
	}, categories(qs))
	assert.Equal(t, "Cum îmi dau seama că e gata după cele 35 minute?", qs[5].Question)
	assert.Equal(t, "Pot face rețeta fără mixer?", qs[6].Question)
}

func TestAnalyze_MinConfidence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConfidence = 0.8
	cfg.MaxQuestions = 10
	a := newTestAnalyzer(t, cfg)

	for _, q := range a.Analyze(context.Background(), tart()) {
		assert.GreaterOrEqual(t, q.Confidence, 0.8)
		assert.NotEqual(t, CategoryTiming, q.Category)
		assert.NotEqual(t, CategoryEquipment, q.Category)
	}
}

func TestAnalyze_Detectors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQuestions = 10

	tests := []struct {
		name     string
		content  *Content
		category Category
		question string
	}{
		{
			name:     "fahrenheit",
			content:  &Content{Title: "Brownies", Steps: []string{"Bake at 350F until set."}},
			category: CategoryTemperature,
			question: "Cât înseamnă 350°F în grade Celsius?",
		},
		{
			name:     "oven without temperature",
			content:  &Content{Title: "Pâine", Steps: []string{"Pune tava în cuptor."}},
			category: CategoryTemperature,
			question: "La ce temperatură trebuie setat cuptorul?",
		},
		{
			name:     "imperial unit",
			content:  &Content{Title: "Pancakes", Ingredients: []string{"8 oz ricotta"}},
			category: CategoryMeasurement,
			question: "Cât înseamnă uncia (oz) în grame sau mililitri?",
		},
		{
			name:     "technique",
			content:  &Content{Title: "Cremă", Steps: []string{"Gătește crema în bain-marie."}},
			category: CategoryTechnique,
			question: "Cum se face corect bain-marie?",
		},
		{
			name:     "long recipe is prepared ahead",
			content:  &Content{Title: "Cozonac", PrepMinutes: 60, CookMinutes: 50},
			category: CategoryTiming,
			question: "Pot pregăti rețeta cu o zi înainte?",
		},
		{
			name: "many steps",
			content: &Content{Title: "Tort", Steps: []string{
				"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l",
			}},
			category: CategoryDifficulty,
			question: "Este rețeta potrivită pentru începători?",
		},
		{
			name:     "explicit hard label",
			content:  &Content{Title: "Macarons", Difficulty: "Dificil"},
			category: CategoryDifficulty,
			question: "Care sunt pașii cei mai dificili din rețetă?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAnalyzer(t, cfg)
			qs := a.Analyze(context.Background(), tt.content)
			var found *Question
			for i := range qs {
				if qs[i].Category == tt.category {
					found = &qs[i]
				}
			}
			require.NotNil(t, found, "no %s question in %+v", tt.category, qs)
			assert.Equal(t, tt.question, found.Question)
		})
	}
}

func TestAnalyze_NothingToSay(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())

	qs := a.Analyze(context.Background(), &Content{Title: "Salată"})
	assert.NotNil(t, qs)
	assert.Empty(t, qs)

	qs = a.Analyze(context.Background(), nil)
	assert.NotNil(t, qs)
	assert.Empty(t, qs)
}

type stubDetector struct {
	category Category
	out      []Question
	err      error
	panics   bool
	delay    time.Duration
}

func (s stubDetector) Category() Category { return s.category }

func (s stubDetector) Detect(*Content) ([]Question, error) {
	time.Sleep(s.delay)
	if s.panics {
		panic("detector exploded")
	}
	return s.out, s.err
}

func TestAnalyze_FailuresYieldEmpty(t *testing.T) {
	good := stubDetector{category: CategoryTiming, out: []Question{{Question: "q", Confidence: 0.9, Category: CategoryTiming}}}

	t.Run("error", func(t *testing.T) {
		a := newTestAnalyzer(t, DefaultConfig(), WithDetectors(good, stubDetector{category: CategoryEquipment, err: errors.New("boom")}))
		qs := a.Analyze(context.Background(), tart())
		assert.NotNil(t, qs)
		assert.Empty(t, qs)
	})

	t.Run("panic", func(t *testing.T) {
		a := newTestAnalyzer(t, DefaultConfig(), WithDetectors(good, stubDetector{category: CategoryEquipment, panics: true}))
		qs := a.Analyze(context.Background(), tart())
		assert.NotNil(t, qs)
		assert.Empty(t, qs)
	})
}

func TestAnalyze_CollapsesDuplicates(t *testing.T) {
	first := stubDetector{category: CategoryTechnique, out: []Question{
		{Question: "Cum se face corect sotarea?", Confidence: 0.8, Category: CategoryTechnique, Priority: 6},
	}}
	second := stubDetector{category: CategoryEquipment, out: []Question{
		{Question: "cum se face CORECT sotarea", Confidence: 0.9, Category: CategoryEquipment, Priority: 4},
		{Question: "Pot folosi un wok?", Confidence: 0.72, Category: CategoryEquipment, Priority: 4},
	}}
	a := newTestAnalyzer(t, DefaultConfig(), WithDetectors(first, second))

	qs := a.Analyze(context.Background(), &Content{Title: "x"})
	require.Len(t, qs, 2)
	assert.Equal(t, "Cum se face corect sotarea?", qs[0].Question)
	assert.Equal(t, "Pot folosi un wok?", qs[1].Question)
}

func TestAnalyze_LogsLatencyOverrun(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.LatencyBudget = time.Millisecond
	a := newTestAnalyzer(t, cfg,
		WithLogger(observability.NewLoggerWithWriter("answer.analyzer", observability.LogLevelDebug, &buf)),
		WithDetectors(stubDetector{category: CategoryTiming, delay: 5 * time.Millisecond}),
	)

	qs := a.Analyze(context.Background(), &Content{Title: "x"})
	assert.Empty(t, qs)
	assert.Contains(t, buf.String(), "exceeded latency budget")
}
