package series

import (
	"errors"
	"fmt"
	"strings"
)

// Dataset is the dependent variable with its candidate regressors.
type Dataset struct {
	Dependent  Named `json:"dependentVariable"`
	Regressors Set   `json:"regressors"`
}

// Validate checks names and that the dependent variable has data.
func (d Dataset) Validate() error {
	if strings.TrimSpace(d.Dependent.Name) == "" {
		return errors.New("dependentVariable.name is required")
	}
	if len(d.Dependent.Data) == 0 {
		return fmt.Errorf("dependentVariable.data: %w", ErrEmpty)
	}
	for _, r := range d.Regressors {
		if strings.TrimSpace(r.Name) == "" {
			return errors.New("regressor name is empty")
		}
		if r.Name == d.Dependent.Name {
			return fmt.Errorf("regressor %q is also the dependent variable", r.Name)
		}
	}
	return nil
}

// Frame aligns the dataset on the dependent variable's timestamps.
func (d Dataset) Frame() (*Frame, error) {
	return Align(d.Dependent.Data, d.Regressors)
}
