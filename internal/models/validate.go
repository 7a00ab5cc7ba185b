package models

import "github.com/go-playground/validator/v10"

// Validate is the shared struct validator for records and LLM responses.
var Validate = validator.New(validator.WithRequiredStructEnabled())
