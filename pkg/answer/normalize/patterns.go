package normalize

// Category tokens produced by the normalizer
const (
	CategorySubstitution = "substitution"
	CategoryStorage      = "storage"
	CategoryDuration     = "duration"
	CategoryTemperature  = "temperature"
	CategoryMeasurement  = "measurement"
	CategoryTechnique    = "technique"
	CategoryServings     = "servings"
	CategoryNutrition    = "nutrition"
	CategoryDifficulty   = "difficulty"
	CategoryEquipment    = "equipment"
)

// Pattern maps a set of trigger terms to a category token. Terms are written
// in cleaned form (lower case, no diacritics, single spaces).
type Pattern struct {
	Category string
	Terms    []string
	Priority int
}

// DefaultPatterns returns the built-in pattern table
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Category: CategorySubstitution,
			Priority: 100,
			Terms: []string{
				"inlocui", "inlocuiesc", "inlocuitor", "in loc de", "substitut",
				"alternativa la", "replace", "substitute", "instead of", "swap",
			},
		},
		{
			Category: CategoryStorage,
			Priority: 90,
			Terms: []string{
				"pastra", "pastrez", "pastreaza", "depozita", "frigider", "congela", "congelator",
				"cat rezista", "valabil", "store", "freeze", "fridge", "keep",
			},
		},
		{
			Category: CategoryDuration,
			Priority: 80,
			Terms: []string{
				"cat timp", "cat dureaza", "dureaza", "durata", "timp de preparare",
				"timp de gatire", "how long", "minute", "ore", "timp",
			},
		},
		{
			Category: CategoryTemperature,
			Priority: 75,
			Terms: []string{
				"temperatura", "grade", "celsius", "fahrenheit", "cat de fierbinte",
				"oven temperature", "degrees", "temperature",
			},
		},
		{
			Category: CategoryMeasurement,
			Priority: 70,
			Terms: []string{
				"grame", "cana", "cani", "lingura", "linguri", "lingurita", "ml",
				"cat inseamna", "conversie", "cup", "cups", "tablespoon", "teaspoon",
				"ounce", "ounces", "oz", "convert",
			},
		},
		{
			Category: CategoryTechnique,
			Priority: 60,
			Terms: []string{
				"cum se face", "cum fac", "ce inseamna", "tehnica", "how to",
				"what does", "technique",
			},
		},
		{
			Category: CategoryServings,
			Priority: 50,
			Terms: []string{"portii", "persoane", "servings", "serves", "portions"},
		},
		{
			Category: CategoryNutrition,
			Priority: 45,
			Terms: []string{"calorii", "kcal", "proteine", "nutritional", "calories", "protein"},
		},
		{
			Category: CategoryDifficulty,
			Priority: 40,
			Terms: []string{"dificil", "greu", "usor", "incepator", "incepatori", "difficult", "beginner", "hard"},
		},
		{
			Category: CategoryEquipment,
			Priority: 35,
			Terms: []string{"fara cuptor", "mixer", "blender", "robot", "echipament", "without oven", "equipment"},
		},
	}
}

// stopWords are skipped when picking the substitution context word
var stopWords = map[string]bool{
	// Romanian
	"cu": true, "ce": true, "de": true, "pe": true, "la": true, "in": true,
	"un": true, "o": true, "si": true, "sa": true, "pot": true, "poti": true,
	"pentru": true, "din": true, "al": true, "ale": true, "a": true, "le": true,
	"il": true, "este": true, "e": true, "fi": true, "daca": true, "nu": true,
	"mai": true, "acest": true, "aceasta": true, "reteta": true, "retete": true,
	// English
	"the": true, "an": true, "with": true, "for": true, "my": true,
	"can": true, "i": true, "you": true, "what": true, "of": true, "to": true,
	"is": true, "it": true, "this": true, "some": true, "recipe": true,
}

// IsStopWord reports whether w is ignored as a context word
func IsStopWord(w string) bool {
	return stopWords[w]
}
