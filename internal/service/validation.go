package service

import (
	"fmt"
	"strings"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/format"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

const (
	maxNotesLength        = 2000
	maxFeedbackTypeLength = 64
)

// ValidateSubmitOrderRequest validates an order submission. It runs before any write.
func ValidateSubmitOrderRequest(req *models.SubmitOrderRequest) error {
	if req == nil {
		return apperrors.NewValidationError("", "request body is required")
	}

	if len(req.Items) == 0 {
		return apperrors.NewValidationError("items", "at least one item is required")
	}

	for i, item := range req.Items {
		if err := validateCartLine(item, i); err != nil {
			return err
		}
	}

	if len([]rune(req.Notes)) > maxNotesLength {
		return apperrors.NewValidationError("notes", fmt.Sprintf("notes too long (max %d characters)", maxNotesLength))
	}

	return nil
}

func validateCartLine(item models.CartLine, index int) error {
	field := fmt.Sprintf("items[%d]", index)

	if strings.TrimSpace(item.ProductID.String()) == "" {
		return apperrors.NewValidationError(field, "product ID is required")
	}

	if item.Quantity < 1 {
		return apperrors.NewValidationError(field, "quantity must be a positive integer")
	}

	return nil
}

// ValidateSubmitFeedbackRequest validates a callback or feedback request.
func ValidateSubmitFeedbackRequest(req *models.SubmitFeedbackRequest) error {
	if req == nil {
		return apperrors.NewValidationError("", "request body is required")
	}

	if len(req.Type) > maxFeedbackTypeLength {
		return apperrors.NewValidationError("type", "request type too long")
	}

	return nil
}

// contactFields is the normalised customer contact block written to an order header.
type contactFields struct {
	Name  string
	Phone string
	Email string
	City  string
	Notes string
}

func normaliseContact(req *models.SubmitOrderRequest) contactFields {
	_, phone := format.Phone(req.Phone)
	return contactFields{
		Name:  format.Name(req.Name),
		Phone: phone,
		Email: strings.TrimSpace(req.Email),
		City:  format.City(req.City),
		Notes: strings.TrimSpace(req.Notes),
	}
}
