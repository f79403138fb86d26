package ai

// ConceptTypes defines the valid categories for extracted concepts.
var ConceptTypes = []string{
	"abstract_concept",
	"activity",
	"animal",
	"art",
	"building",
	"color",
	"drink",
	"emotion",
	"event",
	"food",
	"insect",
	"man_made_object",
	"meal",
	"measurement",
	"natural_object",
	"occupation",
	"organization",
	"person",
	"place",
	"plant",
	"software",
	"technology",
	"time",
	"tool",
	"vehicle",
}
