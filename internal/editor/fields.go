package editor

import "strings"

// Field is one editable text field as shown in the admin form.
type Field struct {
	Path      string `json:"path"`
	Label     string `json:"label"`
	Multiline bool   `json:"multiline"`
	Value     string `json:"value"`
}

var (
	editableSections = []string{"hero", "investments", "about", "contact"}
	editableKeys     = []string{"title", "subtitle", "description"}
)

// EditablePaths lists every path the admin form exposes, section by section.
func EditablePaths() []string {
	paths := make([]string, 0, len(editableSections)*len(editableKeys))
	for _, section := range editableSections {
		for _, key := range editableKeys {
			paths = append(paths, section+"."+key)
		}
	}
	return paths
}

func IsEditable(path string) bool {
	for _, p := range EditablePaths() {
		if p == path {
			return true
		}
	}
	return false
}

// Label renders "hero.title" as "Hero → Title".
func Label(path string) string {
	parts := strings.Split(path, ".")
	for i, part := range parts {
		if part != "" {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, " → ")
}

func Multiline(path string) bool {
	return strings.Contains(path, "description")
}

// Fields builds the admin form from the values in m.
func Fields(m map[string]any) []Field {
	paths := EditablePaths()
	fields := make([]Field, 0, len(paths))
	for _, path := range paths {
		fields = append(fields, Field{
			Path:      path,
			Label:     Label(path),
			Multiline: Multiline(path),
			Value:     GetPath(m, path),
		})
	}
	return fields
}

// DefaultContent is the copy the site ships with before anything is saved.
func DefaultContent() map[string]any {
	return map[string]any{
		"hero": map[string]any{
			"title":       "Exclusive Resort Investment Opportunities",
			"subtitle":    "Premium Returns. Luxury Experiences. Unmatched Exclusivity.",
			"description": "Join an elite group of investors in world-class resort developments. Experience the perfect blend of luxury hospitality and exceptional financial returns in the most sought-after destinations.",
		},
		"investments": map[string]any{
			"title":       "Premium Investment Opportunities",
			"subtitle":    "Carefully curated resort projects with exceptional return potential",
			"description": "Our exclusive portfolio features hand-selected resort developments in the world's most desirable locations, offering investors unparalleled returns and luxury amenities.",
		},
		"about": map[string]any{
			"title":       "Excellence in Luxury Hospitality Investment",
			"subtitle":    "Building premium destinations, delivering exceptional returns",
			"description": "Kiritara Resorts specializes in developing and managing world-class resort properties that deliver both exceptional guest experiences and outstanding investor returns. Our team combines decades of hospitality expertise with proven investment strategies.",
		},
		"contact": map[string]any{
			"title":       "Ready to Explore Exclusive Opportunities?",
			"subtitle":    "Connect with our investment specialists to learn more about our premium resort developments",
			"description": "Schedule a private consultation to discuss investment opportunities tailored to your portfolio and preferences.",
		},
	}
}
