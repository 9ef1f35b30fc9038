package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"go-graph-import/internal/model"
)

// ValidateBatch checks field presence and normalizes cob dates to YYYYMMDD.
// Duplicate dates are dropped; submission order is kept.
func ValidateBatch(b model.ImportBatch) (model.ImportBatch, error) {
	var errs []error
	out := model.ImportBatch{
		DomainType: strings.TrimSpace(b.DomainType),
		DomainName: strings.TrimSpace(b.DomainName),
	}
	if out.DomainType == "" {
		errs = append(errs, errors.New("domain_type is required"))
	}
	if out.DomainName == "" {
		errs = append(errs, errors.New("domain_name is required"))
	}
	if len(b.CobDates) == 0 {
		errs = append(errs, errors.New("at least one cob_date is required"))
	}
	seen := map[string]bool{}
	for _, d := range b.CobDates {
		cob, err := model.ParseCobDate(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[cob] {
			continue
		}
		seen[cob] = true
		out.CobDates = append(out.CobDates, cob)
	}
	if len(errs) > 0 {
		return model.ImportBatch{}, model.NewError(model.KindConfiguration, model.CodeInvalidRequest, StageValidate,
			fmt.Sprintf("%s/%s", out.DomainType, out.DomainName), errors.Join(errs...))
	}
	return out, nil
}
