package registration

import "strings"

// Faculty is one faculty and its departments.
type Faculty struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Departments []string `json:"departments"`
}

// Catalog lists the faculties a student can register under.
var Catalog = []Faculty{
	{Key: "engineering", Name: "Engineering", Departments: []string{
		"Computer Engineering", "Electrical Engineering", "Mechanical Engineering", "Civil Engineering",
	}},
	{Key: "science", Name: "Science", Departments: []string{
		"Computer Science", "Mathematics", "Physics", "Chemistry", "Biology",
	}},
	{Key: "arts", Name: "Arts", Departments: []string{
		"English", "History", "Philosophy", "Languages",
	}},
	{Key: "business", Name: "Business", Departments: []string{
		"Accounting", "Finance", "Marketing", "Management",
	}},
	{Key: "medicine", Name: "Medicine", Departments: []string{
		"Medicine", "Nursing", "Pharmacy", "Public Health",
	}},
}

// LookupFaculty matches a faculty by key or name, ignoring case.
func LookupFaculty(s string) (Faculty, bool) {
	s = strings.TrimSpace(s)
	for _, f := range Catalog {
		if strings.EqualFold(f.Key, s) || strings.EqualFold(f.Name, s) {
			return f, true
		}
	}
	return Faculty{}, false
}

// Department returns the canonical spelling of a department in f.
func (f Faculty) Department(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, d := range f.Departments {
		if strings.EqualFold(d, s) {
			return d, true
		}
	}
	return "", false
}
