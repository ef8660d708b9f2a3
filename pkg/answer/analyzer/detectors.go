package analyzer

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/developer-mesh/answercache/pkg/answer/normalize"
)

// Detector scans content for one category of signal
type Detector interface {
	Category() Category
	Detect(c *Content) ([]Question, error)
}

// Detection confidences
const (
	confidenceTemperature         = 0.9
	confidenceSubstitution        = 0.85
	confidenceMeasurement         = 0.8
	confidenceTechnique           = 0.8
	confidenceTiming              = 0.75
	confidenceEquipment           = 0.72
	confidenceDifficultyExplicit  = 0.85
	confidenceDifficultyHeuristic = 0.7
)

// Difficulty heuristics
const (
	manySteps        = 10
	manyIngredients  = 15
	longRecipe       = 120
	makeAheadMinutes = 90
)

// Term is one match phrase and the wording used when it fires
type Term struct {
	Match   string
	Display string
}

// TermDetector fires on the first term found, in term order. Terms are
// matched against cleaned text on word boundaries.
type TermDetector struct {
	category   Category
	confidence float64
	terms      []Term
	template   func(display string) string
}

// NewTermDetector creates a term-list detector
func NewTermDetector(category Category, confidence float64, terms []Term, template func(string) string) *TermDetector {
	cleaned := make([]Term, len(terms))
	for i, t := range terms {
		cleaned[i] = Term{Match: normalize.Clean(t.Match), Display: t.Display}
	}
	return &TermDetector{category: category, confidence: confidence, terms: cleaned, template: template}
}

// Category implements Detector
func (d *TermDetector) Category() Category { return d.category }

// Detect implements Detector
func (d *TermDetector) Detect(c *Content) ([]Question, error) {
	text := normalize.Clean(c.text())
	for _, t := range d.terms {
		if t.Match == "" || !normalize.ContainsPhrase(text, t.Match) {
			continue
		}
		return []Question{{
			Question:    d.template(t.Display),
			Confidence:  d.confidence,
			Category:    d.category,
			TriggerText: t.Match,
			Priority:    d.category.Priority(),
		}}, nil
	}
	return nil, nil
}

func substitutionDetector() Detector {
	return NewTermDetector(CategorySubstitution, confidenceSubstitution, []Term{
		{"unt", "untul"},
		{"oua", "ouăle"},
		{"ou", "ouăle"},
		{"smantana", "smântâna"},
		{"frisca", "frișca"},
		{"lapte", "laptele"},
		{"iaurt", "iaurtul"},
		{"drojdie", "drojdia"},
		{"faina", "făina"},
		{"zahar", "zahărul"},
		{"mascarpone", "mascarpone"},
		{"butter", "untul"},
		{"eggs", "ouăle"},
		{"cream", "smântâna"},
		{"milk", "laptele"},
		{"flour", "făina"},
		{"sugar", "zahărul"},
	}, func(d string) string {
		return fmt.Sprintf("Cu ce pot înlocui %s în această rețetă?", d)
	})
}

func measurementDetector() Detector {
	return NewTermDetector(CategoryMeasurement, confidenceMeasurement, []Term{
		{"cups", "cana (cup)"},
		{"cup", "cana (cup)"},
		{"oz", "uncia (oz)"},
		{"ounces", "uncia (oz)"},
		{"ounce", "uncia (oz)"},
		{"lb", "livra (lb)"},
		{"lbs", "livra (lb)"},
		{"pound", "livra (lb)"},
		{"pounds", "livra (lb)"},
		{"tbsp", "lingura (tbsp)"},
		{"tsp", "lingurița (tsp)"},
		{"pint", "pinta"},
		{"quart", "quart-ul"},
		{"stick of butter", "un stick de unt"},
	}, func(d string) string {
		return fmt.Sprintf("Cât înseamnă %s în grame sau mililitri?", d)
	})
}

func techniqueDetector() Detector {
	return NewTermDetector(CategoryTechnique, confidenceTechnique, []Term{
		{"bain marie", "bain-marie"},
		{"baie de abur", "baia de abur"},
		{"deglaseaza", "deglasarea"},
		{"deglaze", "deglasarea"},
		{"blanseaza", "blanșarea"},
		{"blanch", "blanșarea"},
		{"soteaza", "sotarea"},
		{"saute", "sotarea"},
		{"caramelizeaza", "caramelizarea"},
		{"flambeaza", "flambarea"},
		{"emulsioneaza", "emulsionarea"},
		{"temperezi", "temperarea"},
		{"temper", "temperarea"},
		{"fold", "încorporarea"},
		{"incorporeaza", "încorporarea"},
	}, func(d string) string {
		return fmt.Sprintf("Cum se face corect %s?", d)
	})
}

func equipmentDetector() Detector {
	return NewTermDetector(CategoryEquipment, confidenceEquipment, []Term{
		{"mixer planetar", "mixer planetar"},
		{"stand mixer", "mixer planetar"},
		{"mixer", "mixer"},
		{"blender", "blender"},
		{"robot de bucatarie", "robot de bucătărie"},
		{"food processor", "robot de bucătărie"},
		{"termometru", "termometru"},
		{"thermometer", "termometru"},
		{"forma cu fund detasabil", "forma cu fund detașabil"},
		{"springform", "forma cu fund detașabil"},
		{"wok", "wok"},
		{"sifon", "sifon de frișcă"},
	}, func(d string) string {
		return fmt.Sprintf("Pot face rețeta fără %s?", d)
	})
}

// temperatureDetector looks for explicit oven temperatures, then for an oven
// mention without one
type temperatureDetector struct {
	oven []string
}

var temperaturePattern = regexp.MustCompile(`\b(\d{2,3}) ?(?:de )?(grade|c|f)\b`)

func newTemperatureDetector() *temperatureDetector {
	return &temperatureDetector{oven: []string{"cuptor", "cuptorul", "oven", "preincalzit", "preincalzeste", "preheat"}}
}

func (d *temperatureDetector) Category() Category { return CategoryTemperature }

func (d *temperatureDetector) Detect(c *Content) ([]Question, error) {
	text := normalize.Clean(c.text())
	var out []Question

	if m := temperaturePattern.FindStringSubmatch(text); m != nil {
		degrees, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: temperature %q: %v", ErrAnalysisFailed, m[1], err)
		}
		q := fmt.Sprintf("Ce fac dacă cuptorul meu nu ajunge la %d de grade?", degrees)
		if m[2] == "f" {
			q = fmt.Sprintf("Cât înseamnă %d°F în grade Celsius?", degrees)
		}
		out = append(out, d.question(q, m[0]))
	}
	for _, term := range d.oven {
		if normalize.ContainsPhrase(text, term) {
			out = append(out, d.question("La ce temperatură trebuie setat cuptorul?", term))
			break
		}
	}
	return out, nil
}

func (d *temperatureDetector) question(q, trigger string) Question {
	return Question{
		Question:    q,
		Confidence:  confidenceTemperature,
		Category:    CategoryTemperature,
		TriggerText: trigger,
		Priority:    CategoryTemperature.Priority(),
	}
}

// timingDetector looks for duration phrases and long total times
type timingDetector struct{}

var timingPattern = regexp.MustCompile(`\b(\d+) ?(?:de )?(minute|minut|min|ore|ora|h|hours|hour|minutes)\b`)

func (timingDetector) Category() Category { return CategoryTiming }

func (timingDetector) Detect(c *Content) ([]Question, error) {
	var out []Question
	text := normalize.Clean(c.text())
	if m := timingPattern.FindStringSubmatch(text); m != nil {
		out = append(out, Question{
			Question:    fmt.Sprintf("Cum îmi dau seama că e gata după cele %s %s?", m[1], m[2]),
			Confidence:  confidenceTiming,
			Category:    CategoryTiming,
			TriggerText: m[0],
			Priority:    CategoryTiming.Priority(),
		})
	}
	if total := c.TotalMinutes(); total >= makeAheadMinutes {
		out = append(out, Question{
			Question:    "Pot pregăti rețeta cu o zi înainte?",
			Confidence:  confidenceTiming,
			Category:    CategoryTiming,
			TriggerText: fmt.Sprintf("%d min", total),
			Priority:    CategoryTiming.Priority(),
		})
	}
	return out, nil
}

// difficultyDetector uses the explicit label when present and falls back to
// step, ingredient and time counts
type difficultyDetector struct{}

func (difficultyDetector) Category() Category { return CategoryDifficulty }

func (difficultyDetector) Detect(c *Content) ([]Question, error) {
	label := normalize.Clean(c.Difficulty)
	switch label {
	case "greu", "dificil", "dificila", "hard", "avansat":
		return []Question{difficultyQuestion("Care sunt pașii cei mai dificili din rețetă?", confidenceDifficultyExplicit, label)}, nil
	case "usor", "usoara", "easy", "incepator":
		return []Question{difficultyQuestion("Pot face rețeta chiar dacă sunt începător?", confidenceDifficultyExplicit, label)}, nil
	}

	var trigger string
	switch {
	case len(c.Steps) > manySteps:
		trigger = fmt.Sprintf("%d steps", len(c.Steps))
	case len(c.Ingredients) > manyIngredients:
		trigger = fmt.Sprintf("%d ingredients", len(c.Ingredients))
	case c.TotalMinutes() > longRecipe:
		trigger = fmt.Sprintf("%d min", c.TotalMinutes())
	default:
		return nil, nil
	}
	return []Question{difficultyQuestion("Este rețeta potrivită pentru începători?", confidenceDifficultyHeuristic, trigger)}, nil
}

func difficultyQuestion(q string, confidence float64, trigger string) Question {
	return Question{
		Question:    q,
		Confidence:  confidence,
		Category:    CategoryDifficulty,
		TriggerText: trigger,
		Priority:    CategoryDifficulty.Priority(),
	}
}

// DefaultDetectors returns the built-in detectors in category priority order
func DefaultDetectors() []Detector {
	return []Detector{
		newTemperatureDetector(),
		substitutionDetector(),
		measurementDetector(),
		timingDetector{},
		techniqueDetector(),
		difficultyDetector{},
		equipmentDetector(),
	}
}
