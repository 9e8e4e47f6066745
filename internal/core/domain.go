package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Predefined category labels accepted by the add flow.
const (
	CategoryFood          = "Food & Dining"
	CategoryTransport     = "Transportation"
	CategoryShopping      = "Shopping"
	CategoryEntertainment = "Entertainment"
	CategoryBills         = "Bills & Utilities"
	CategoryHealthcare    = "Healthcare"
	CategoryEducation     = "Education"
	CategoryOther         = "Other"
)

// Categories lists the predefined labels in display order.
var Categories = []string{
	CategoryFood,
	CategoryTransport,
	CategoryShopping,
	CategoryEntertainment,
	CategoryBills,
	CategoryHealthcare,
	CategoryEducation,
	CategoryOther,
}

type (
	// Expense is a persisted expense record. Date is epoch milliseconds.
	Expense struct {
		ID       int64
		Amount   float64
		Category string
		Date     int64
		Note     *string
	}

	// DisplayExpense is an Expense with presentation strings attached.
	// It is rebuilt on every delivery and never stored.
	DisplayExpense struct {
		Expense
		FormattedAmount string
		FormattedDate   string
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrEmptyCategory   = errors.New("empty category")
	ErrUnknownCategory = errors.New("unknown category")
)

// ValidationError reports which input field was rejected by the add flow.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// newExpenseInput mirrors the fields the add flow collects.
type newExpenseInput struct {
	Amount   float64 `validate:"gt=0"`
	Category string  `validate:"required,expense_category"`
}

var validate = mustValidator(newValidator())

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	err := v.RegisterValidation("expense_category", func(fl validator.FieldLevel) bool {
		return IsKnownCategory(fl.Field().String())
	})
	if err != nil {
		return nil, fmt.Errorf("register expense_category: %w", err)
	}
	return v, nil
}

func mustValidator(v *validator.Validate, err error) *validator.Validate {
	if err != nil {
		panic(err)
	}
	return v
}

// IsKnownCategory reports whether label is one of the predefined categories.
func IsKnownCategory(label string) bool {
	for _, c := range Categories {
		if c == label {
			return true
		}
	}
	return false
}

// NewExpense validates add-flow input and builds an unsaved record.
// A blank note is stored as absent.
func NewExpense(amount float64, category string, date int64, note string) (Expense, error) {
	category = strings.TrimSpace(category)
	in := newExpenseInput{Amount: amount, Category: category}
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return Expense{}, err
		}
		return Expense{}, toValidationError(verrs[0])
	}

	e := Expense{
		Amount:   amount,
		Category: category,
		Date:     date,
	}
	if n := strings.TrimSpace(note); n != "" {
		e.Note = &n
	}
	return e, nil
}

func toValidationError(fe validator.FieldError) *ValidationError {
	switch fe.Field() {
	case "Amount":
		return &ValidationError{Field: "amount", Err: ErrInvalidAmount}
	case "Category":
		if fe.Tag() == "required" {
			return &ValidationError{Field: "category", Err: ErrEmptyCategory}
		}
		return &ValidationError{Field: "category", Err: ErrUnknownCategory}
	default:
		return &ValidationError{Field: strings.ToLower(fe.Field()), Err: fmt.Errorf("failed %q", fe.Tag())}
	}
}

// Time returns the expense instant in loc.
func (e Expense) Time(loc *time.Location) time.Time {
	return time.UnixMilli(e.Date).In(loc)
}

// NoteText returns the note or an empty string when absent.
func (e Expense) NoteText() string {
	if e.Note == nil {
		return ""
	}
	return *e.Note
}

// Equal compares all persisted fields, including the note value.
func (e Expense) Equal(o Expense) bool {
	if e.ID != o.ID || e.Amount != o.Amount || e.Category != o.Category || e.Date != o.Date {
		return false
	}
	if (e.Note == nil) != (o.Note == nil) {
		return false
	}
	return e.Note == nil || *e.Note == *o.Note
}
