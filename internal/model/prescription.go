package model

// Strength is a numeric dose strength with its unit (e.g. 500 mg).
type Strength struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Quantity is a unit-tagged dispense quantity (e.g. 90 tablets).
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Correction records a spelling or normalization fix applied by the
// interpretation oracle.
type Correction struct {
	Field     string `json:"field"`
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
}

// ParsedPrescription is the interpreted prescription. It is created once per
// pipeline run by the interpretation client and immutable afterwards.
type ParsedPrescription struct {
	DrugName         string       `json:"drug_name"`
	OriginalDrugName string       `json:"original_drug_name"`
	Strength         Strength     `json:"strength"`
	DosageForm       string       `json:"dosage_form"`
	Sig              string       `json:"sig,omitempty"`
	Quantity         Quantity     `json:"quantity"`
	DaysSupply       *int         `json:"days_supply,omitempty"`
	Confidence       float64      `json:"confidence"`
	Corrections      []Correction `json:"corrections,omitempty"`
	Warnings         []string     `json:"warnings,omitempty"`
	ProcessingTimeMS int64        `json:"processing_time_ms"`
}
