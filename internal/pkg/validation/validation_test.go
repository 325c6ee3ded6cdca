package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	PaymentID string `json:"payment_id" validate:"required,max=64"`
	Plan      string `json:"plan_type" validate:"omitempty,oneof=basic pro"`
}

func TestValidateStruct(t *testing.T) {
	assert.Nil(t, ValidateStruct(sample{PaymentID: "P1"}))

	errs := ValidateStruct(sample{Plan: "gold"})
	assert.Equal(t, "payment_id is required", errs["payment_id"])
	assert.Equal(t, "plan_type must be one of: basic pro", errs["plan_type"])
	assert.Equal(t, "payment_id is required; plan_type must be one of: basic pro", Summary(errs))
}
