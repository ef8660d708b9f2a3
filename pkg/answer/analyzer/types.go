package analyzer

import (
	"errors"
	"strings"
)

// Category groups predicted questions by the kind of signal that produced them
type Category string

const (
	CategoryTemperature  Category = "temperature"
	CategorySubstitution Category = "substitution"
	CategoryMeasurement  Category = "measurement"
	CategoryTiming       Category = "timing"
	CategoryTechnique    Category = "technique"
	CategoryDifficulty   Category = "difficulty"
	CategoryEquipment    Category = "equipment"
)

// categoryPriority breaks confidence ties; higher ranks first
var categoryPriority = map[Category]int{
	CategoryTemperature:  10,
	CategorySubstitution: 9,
	CategoryMeasurement:  8,
	CategoryTiming:       7,
	CategoryTechnique:    6,
	CategoryDifficulty:   5,
	CategoryEquipment:    4,
}

// Priority returns the tie-break rank of c
func (c Category) Priority() int {
	return categoryPriority[c]
}

// ErrAnalysisFailed marks a detector failure. Analyze never returns it; it is
// only logged.
var ErrAnalysisFailed = errors.New("content analysis failed")

// Content is the text of one subject
type Content struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Ingredients []string `json:"ingredients,omitempty"`
	Steps       []string `json:"steps,omitempty"`
	PrepMinutes int      `json:"prep_minutes,omitempty"`
	CookMinutes int      `json:"cook_minutes,omitempty"`
	Servings    int      `json:"servings,omitempty"`
	Difficulty  string   `json:"difficulty,omitempty"`
}

// TotalMinutes is prep plus cook time
func (c *Content) TotalMinutes() int {
	return c.PrepMinutes + c.CookMinutes
}

func (c *Content) text() string {
	parts := make([]string, 0, 2+len(c.Ingredients)+len(c.Steps))
	parts = append(parts, c.Title, c.Description)
	parts = append(parts, c.Ingredients...)
	parts = append(parts, c.Steps...)
	return strings.Join(parts, "\n")
}

// Question is one predicted follow-up question
type Question struct {
	Question    string   `json:"question"`
	Confidence  float64  `json:"confidence"`
	Category    Category `json:"category"`
	TriggerText string   `json:"trigger_text"`
	Priority    int      `json:"priority"`
}
