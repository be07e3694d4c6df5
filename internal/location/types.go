package location

import (
	"errors"
	"strconv"
	"strings"
)

// Status is the resolution state of a production-scoped location
type Status string

const (
	StatusMatched    Status = "Matched"
	StatusReady      Status = "Ready"
	StatusUnresolved Status = "Unresolved"
)

// Errors returned when the merge operations are called with a malformed shape
var (
	ErrTooFewRows   = errors.New("at least two rows are required")
	ErrNoPrimary    = errors.New("primary record is empty")
	ErrNoDuplicates = errors.New("duplicate list is empty")
)

// StructuredFields lists the fields that take part in scoring and merge fills,
// in the order they are inspected.
var StructuredFields = []string{
	"address1", "address2", "address3",
	"city", "state", "zip", "country",
	"latitude", "longitude", "place_id",
}

// Record is one location row from either the master registry or a
// production location list.
type Record struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Address1           string   `json:"address1"`
	Address2           string   `json:"address2"`
	Address3           string   `json:"address3"`
	City               string   `json:"city"`
	State              string   `json:"state"`
	Zip                string   `json:"zip"`
	Country            string   `json:"country"`
	County             string   `json:"county,omitempty"`
	Borough            string   `json:"borough,omitempty"`
	FullAddress        string   `json:"full_address,omitempty"`
	PlaceID            string   `json:"place_id"`
	Latitude           *float64 `json:"latitude"`
	Longitude          *float64 `json:"longitude"`
	ProductionID       string   `json:"production_id,omitempty"`
	LocationsMasterIDs []string `json:"locations_master_ids,omitempty"`
	Status             Status   `json:"status,omitempty"`
	LastEdited         string   `json:"last_edited,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are present
func (r Record) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// IsEmpty reports whether the record carries no identifier
func (r Record) IsEmpty() bool {
	return strings.TrimSpace(r.ID) == ""
}

// Field returns a structured field rendered as a string. Missing values and
// unknown names come back as "".
func (r Record) Field(name string) string {
	switch name {
	case "address1":
		return r.Address1
	case "address2":
		return r.Address2
	case "address3":
		return r.Address3
	case "city":
		return r.City
	case "state":
		return r.State
	case "zip":
		return r.Zip
	case "country":
		return r.Country
	case "county":
		return r.County
	case "borough":
		return r.Borough
	case "place_id":
		return r.PlaceID
	case "name":
		return r.Name
	case "latitude":
		return formatCoord(r.Latitude)
	case "longitude":
		return formatCoord(r.Longitude)
	}
	return ""
}

// SetField assigns a structured field from its string form. Coordinates that
// do not parse are left untouched.
func (r *Record) SetField(name, value string) {
	switch name {
	case "address1":
		r.Address1 = value
	case "address2":
		r.Address2 = value
	case "address3":
		r.Address3 = value
	case "city":
		r.City = value
	case "state":
		r.State = value
	case "zip":
		r.Zip = value
	case "country":
		r.Country = value
	case "county":
		r.County = value
	case "borough":
		r.Borough = value
	case "place_id":
		r.PlaceID = value
	case "name":
		r.Name = value
	case "latitude":
		if f, ok := parseCoord(value); ok {
			r.Latitude = &f
		}
	case "longitude":
		if f, ok := parseCoord(value); ok {
			r.Longitude = &f
		}
	}
}

// HasField reports whether the named field holds a non-blank value
func (r Record) HasField(name string) bool {
	return strings.TrimSpace(r.Field(name)) != ""
}

// MasterID returns the first master reference of a production record
func (r Record) MasterID() string {
	for _, id := range r.LocationsMasterIDs {
		if strings.TrimSpace(id) != "" {
			return id
		}
	}
	return ""
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseCoord(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Float returns a pointer to v, for building records with coordinates
func Float(v float64) *float64 {
	return &v
}

// MatchResult is the outcome of matching one record against the master registry
type MatchResult struct {
	MatchedMasterID string `json:"matched_master_id,omitempty"`
	Status          Status `json:"status"`
	MatchReason     string `json:"match_reason"`
	CandidateCount  int    `json:"candidate_count"`
	Notes           string `json:"notes,omitempty"`
}

// Matched reports whether a single master record was found
func (m MatchResult) Matched() bool {
	return m.MatchedMasterID != "" && m.CandidateCount == 1
}

// DuplicateGroup is a set of master records believed to be the same place
type DuplicateGroup struct {
	GroupID string   `json:"group_id"`
	Reason  string   `json:"reason"`
	Rows    []Record `json:"rows"`
}

// IDs returns the record identifiers of the group in row order
func (g DuplicateGroup) IDs() []string {
	ids := make([]string, 0, len(g.Rows))
	for _, row := range g.Rows {
		ids = append(ids, row.ID)
	}
	return ids
}

// ProdLocUpdate repoints one production location at a new master record
type ProdLocUpdate struct {
	ProdLocID   string `json:"prod_loc_id"`
	OldMasterID string `json:"old_master_id"`
	NewMasterID string `json:"new_master_id"`
}

// MergePlan describes how to collapse a duplicate group into its primary
type MergePlan struct {
	Primary         Record            `json:"primary"`
	ToMerge         []Record          `json:"to_merge"`
	FieldUpdates    map[string]string `json:"field_updates"`
	ProdLocUpdates  []ProdLocUpdate   `json:"prod_loc_updates"`
	DeleteMasterIDs []string          `json:"delete_master_ids"`
}
