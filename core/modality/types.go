package modality

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-grad/core"
)

// NewModalityType contains information needed to add a modality to the catalogue.
type NewModalityType struct {
	Name              string                `json:"name" validate:"required"`
	Description       string                `json:"description"`
	RequiredDocuments []NewRequiredDocument `json:"required_documents" validate:"dive"`
}

type NewRequiredDocument struct {
	Name               string `json:"name" validate:"required"`
	Mandatory          bool   `json:"mandatory"`
	ExaminerReviewable bool   `json:"examiner_reviewable"`
}

func (nt *NewModalityType) Validate(validate *validator.Validate) error {
	nt.Name = core.CleanString(nt.Name)
	nt.Description = core.CleanString(nt.Description)
	for i := range nt.RequiredDocuments {
		nt.RequiredDocuments[i].Name = core.CleanString(nt.RequiredDocuments[i].Name)
	}
	return validate.Struct(nt)
}

func (eng *Engine) newType(nt NewModalityType) ModalityType {
	typ := ModalityType{
		ID:          eng.newID(),
		Name:        nt.Name,
		Description: nt.Description,
		CreatedAt:   eng.now(),
	}
	for _, nd := range nt.RequiredDocuments {
		typ.RequiredDocuments = append(typ.RequiredDocuments, RequiredDocument{
			ID:                 eng.newID(),
			ModalityTypeID:     typ.ID,
			Name:               nd.Name,
			Mandatory:          nd.Mandatory,
			ExaminerReviewable: nd.ExaminerReviewable,
		})
	}
	return typ
}
