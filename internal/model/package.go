package model

import "time"

// CandidatePackage is a dispensable product package from the catalog registry.
// Instances are created by the catalog client, cached, and read-only downstream.
type CandidatePackage struct {
	PackageNDC   string     `json:"package_ndc"`
	ProductNDC   string     `json:"product_ndc"`
	GenericName  string     `json:"generic_name"`
	LabelerName  string     `json:"labeler_name"`
	BrandName    string     `json:"brand_name,omitempty"`
	DosageForm   string     `json:"dosage_form"`
	Routes       []string   `json:"routes,omitempty"`
	Strength     string     `json:"strength,omitempty"`
	Description  string     `json:"description"`
	Quantity     float64    `json:"quantity"`
	Unit         string     `json:"unit"`
	Active       bool       `json:"active"`
	ExpirationAt *time.Time `json:"expiration_at,omitempty"`
}
