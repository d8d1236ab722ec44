package schemas

import (
	"strings"
	"time"
)

// -- Task Schemas --

// ApplicationTask is one job application to submit. It is immutable for the
// duration of an attempt; restarts reuse the same task value.
type ApplicationTask struct {
	ID        string           `json:"id"`
	TargetURL string           `json:"target_url"`
	JobTitle  string           `json:"job_title,omitempty"`
	Company   string           `json:"company,omitempty"`
	Profile   ApplicantProfile `json:"profile"`
	CreatedAt time.Time        `json:"created_at"`
}

// ApplicantProfile carries everything the loop may type or upload on the
// applicant's behalf.
type ApplicantProfile struct {
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone,omitempty"`
	Location  string            `json:"location,omitempty"`
	LinkedIn  string            `json:"linkedin,omitempty"`
	Website   string            `json:"website,omitempty"`
	Skills    []string          `json:"skills,omitempty"`
	Answers   map[string]string `json:"answers,omitempty"`
	// Files maps a logical document name (resume, cover_letter) to a path on disk.
	Files map[string]string `json:"files,omitempty"`
}

// FullName joins first and last name.
func (p ApplicantProfile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Field resolves a profile field reference such as "email" or
// "answers.salary_expectation". The second return is false when the
// reference names nothing in the profile.
func (p ApplicantProfile) Field(ref string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(ref))
	key = strings.TrimPrefix(key, "profile.")
	if strings.HasPrefix(key, "answers.") {
		v, ok := p.Answers[strings.TrimPrefix(key, "answers.")]
		return v, ok && v != ""
	}

	var v string
	switch key {
	case "first_name", "firstname", "given_name":
		v = p.FirstName
	case "last_name", "lastname", "family_name", "surname":
		v = p.LastName
	case "full_name", "name":
		v = p.FullName()
	case "email", "email_address":
		v = p.Email
	case "phone", "phone_number", "telephone":
		v = p.Phone
	case "location", "city":
		v = p.Location
	case "linkedin", "linkedin_url":
		v = p.LinkedIn
	case "website", "portfolio":
		v = p.Website
	case "skills":
		v = strings.Join(p.Skills, ", ")
	default:
		return "", false
	}
	return v, v != ""
}

// File returns the path registered for a logical document name.
func (p ApplicantProfile) File(name string) (string, bool) {
	path, ok := p.Files[strings.ToLower(strings.TrimSpace(name))]
	return path, ok && path != ""
}
