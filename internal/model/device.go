// Package model defines the database and index document structures.
package model

import "time"

// Device corresponds to the devices table: one row per FDA AI/ML-enabled
// device submission. Rows are written by the external extraction job; this
// service reads them and maintains the derived classification columns.
type Device struct {
	SubmissionNumber    string    `gorm:"primaryKey;type:varchar(20);column:submission_number" json:"submissionNumber"`
	DecisionDate        string    `gorm:"type:varchar(10);index;column:decision_date" json:"decisionDate"`
	DeviceName          string    `gorm:"type:varchar(255);column:device_name" json:"deviceName"`
	Company             string    `gorm:"type:varchar(255);index;column:company" json:"company"`
	Panel               string    `gorm:"type:varchar(100);index;column:panel" json:"panel"`
	ProductCode         string    `gorm:"type:varchar(10);index;column:product_code" json:"productCode"`
	PDFPath             string    `gorm:"type:varchar(255);column:pdf_path" json:"-"`
	PDFPages            int       `gorm:"column:pdf_pages" json:"pdfPages"`
	ExtractedText       string    `gorm:"type:longtext;column:extracted_text" json:"-"`
	CreatedAt           time.Time `gorm:"autoCreateTime;column:created_at" json:"createdAt"`
	ImagingModality     string    `gorm:"type:varchar(50);column:imaging_modality" json:"imagingModality"`
	BodyRegion          string    `gorm:"type:varchar(50);column:body_region" json:"bodyRegion"`
	ClinicalApplication string    `gorm:"type:varchar(50);column:clinical_application" json:"clinicalApplication"`
	AITagsVersion       string    `gorm:"type:varchar(10);column:ai_tags_version" json:"aiTagsVersion"`
}

func (Device) TableName() string {
	return "devices"
}

// Classification holds the LLM-assigned category tags for one device.
type Classification struct {
	ImagingModality     string `json:"imaging_modality"`
	BodyRegion          string `json:"body_region"`
	ClinicalApplication string `json:"clinical_application"`
}
