package directory

import "strconv"

// Program is one benefit program listing.
type Program struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Category     string   `json:"category"`
	Description  string   `json:"description,omitempty"`
	Eligibility  []string `json:"eligibility,omitempty"` // e.g. "seniors", "low-income", "students"
	Areas        []string `json:"areas,omitempty"`       // counties or cities served
	Website      string   `json:"website,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	Address      string   `json:"address,omitempty"`
	VerifiedDate string   `json:"verified_date,omitempty"` // YYYY-MM-DD of last manual check
}

type ProgramList struct {
	Programs []Program `json:"programs"`
	Total    int       `json:"total"`
}

// ProgramQuery filters GetPrograms. Zero fields are not sent.
type ProgramQuery struct {
	Category    string
	Area        string
	Eligibility string
	Search      string
	Limit       int
	Offset      int
}

func (q ProgramQuery) params() map[string]string {
	p := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			p[k] = v
		}
	}
	set("category", q.Category)
	set("area", q.Area)
	set("eligibility", q.Eligibility)
	set("search", q.Search)
	if q.Limit > 0 {
		p["limit"] = strconv.Itoa(q.Limit)
	}
	if q.Offset > 0 {
		p["offset"] = strconv.Itoa(q.Offset)
	}
	return p
}

type Category struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Icon         string `json:"icon,omitempty"`
	ProgramCount int    `json:"program_count"`
}

type Area struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"` // "county", "city" or "region"
	ProgramCount int    `json:"program_count"`
}

type Stats struct {
	TotalPrograms   int    `json:"total_programs"`
	TotalCategories int    `json:"total_categories"`
	TotalAreas      int    `json:"total_areas"`
	LastUpdated     string `json:"last_updated,omitempty"`
}
