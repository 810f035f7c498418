package validator

import (
	"log"

	"trustwork_backend/internal/models"

	"github.com/go-playground/validator/v10"
)

// registerCustomRules регистрирует все кастомные функции валидации
func registerCustomRules(v *validator.Validate) {
	mustRegister := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			// Без правила приложение не должно стартовать
			log.Fatalf("failed to register custom validation tag '%s': %v", tag, err)
		}
	}

	// Статусы, которые работодатель может выставить заявке
	mustRegister("is-application-status", validateApplicationStatus)
	mustRegister("is-milestone-action", validateMilestoneAction)
	mustRegister("is-payment-method", validatePaymentMethod)
	mustRegister("is-budget-type", validateBudgetType)
	mustRegister("is-role", validateRole)
	mustRegister("http-url", validateHTTPURL)
}

// --- Функции валидации ---
// Пустые значения пропускаются, для этого есть 'required'.

func validateApplicationStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	switch models.ApplicationStatus(value) {
	case models.ApplicationStatusShortlisted, models.ApplicationStatusAccepted, models.ApplicationStatusRejected:
		return true
	default:
		return false
	}
}

func validateMilestoneAction(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || models.MilestoneAction(value).Valid()
}

func validatePaymentMethod(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || models.PaymentMethod(value).Valid()
}

func validateBudgetType(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	switch models.BudgetType(value) {
	case models.BudgetTypeFixed, models.BudgetTypeHourly:
		return true
	default:
		return false
	}
}

func validateRole(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || models.UserRole(value).Valid()
}

func validateHTTPURL(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, err := SanitizeURL(value)
	return err == nil
}
