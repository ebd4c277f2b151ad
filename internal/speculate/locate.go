package speculate

import (
	"fmt"
	"strings"

	"github.com/tsawler/prose/v3"

	"github.com/vthunder/timeline/internal/types"
)

// LocationExtractor finds a place mentioned in free text
type LocationExtractor interface {
	Locate(text string) (types.Location, bool)
}

// ProseLocator uses the prose NER model to find place names (GPE, LOC and
// FAC entities). Only the name is known, so distances stay unknown unless a
// gazetteer entry supplies coordinates.
type ProseLocator struct {
	Gazetteer map[string]types.Location // lowercased name -> coordinates
}

// NewProseLocator creates a locator with an optional gazetteer
func NewProseLocator(gazetteer map[string]types.Location) *ProseLocator {
	return &ProseLocator{Gazetteer: gazetteer}
}

// Locate returns the first place entity in text
func (l *ProseLocator) Locate(text string) (types.Location, bool) {
	if strings.TrimSpace(text) == "" {
		return types.Location{}, false
	}
	doc, err := prose.NewDocument(text)
	if err != nil {
		return types.Location{}, false
	}
	for _, ent := range doc.Entities() {
		switch strings.ToUpper(ent.Label) {
		case "GPE", "LOC", "FAC":
			return l.resolve(ent.Text), true
		}
	}
	return types.Location{}, false
}

func (l *ProseLocator) resolve(name string) types.Location {
	if loc, ok := l.Gazetteer[strings.ToLower(name)]; ok {
		if loc.Name == "" {
			loc.Name = name
		}
		return loc
	}
	return types.Location{Name: name}
}

func placeName(l types.Location) string {
	if l.Name != "" {
		return l.Name
	}
	if l.HasCoords {
		return fmt.Sprintf("(%.4f,%.4f)", l.Lat, l.Lng)
	}
	return "somewhere"
}
