package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-grad/core"
	"github.com/trezcool/masomo-grad/core/modality"
)

// parseRequiredDocuments reads "Proposal:mandatory,Final report:mandatory:reviewable,Annex".
func parseRequiredDocuments(s string) ([]modality.NewRequiredDocument, error) {
	var docs []modality.NewRequiredDocument
	for _, item := range core.SplitClean(s, ",") {
		parts := strings.Split(item, ":")
		doc := modality.NewRequiredDocument{Name: strings.TrimSpace(parts[0])}
		if doc.Name == "" {
			return nil, errors.Errorf("%q: document name is required", item)
		}
		for _, opt := range parts[1:] {
			switch strings.ToLower(strings.TrimSpace(opt)) {
			case "mandatory":
				doc.Mandatory = true
			case "reviewable":
				doc.ExaminerReviewable = true
			default:
				return nil, errors.Errorf("%q: unknown document option %q", item, opt)
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (cli *commandLine) addType(name, description string, docs []modality.NewRequiredDocument) error {
	typ, err := cli.modalitySvc.CreateType(context.Background(), modality.NewModalityType{
		Name:              strings.TrimSpace(name),
		Description:       strings.TrimSpace(description),
		RequiredDocuments: docs,
	})
	if err != nil {
		return errors.Wrap(err, "creating modality type")
	}
	fmt.Fprintf(cli.out, "created modality type %q (%s) with %d required documents\n", typ.Name, typ.ID, len(typ.RequiredDocuments))
	return nil
}
