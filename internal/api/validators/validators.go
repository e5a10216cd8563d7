// Package validators builds the request validator shared by the handlers.
package validators

import (
	"sync"

	"github.com/canvas-studio/engine/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// New returns the process-wide validator with the domain tags registered:
// relationship, block_type, company and block_status.
func New() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("relationship", func(fl validator.FieldLevel) bool {
			return models.RelationshipType(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("block_type", func(fl validator.FieldLevel) bool {
			return models.BlockType(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("company", func(fl validator.FieldLevel) bool {
			return models.Company(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("block_status", func(fl validator.FieldLevel) bool {
			return models.BlockStatus(fl.Field().String()).Valid()
		})
		instance = v
	})
	return instance
}
