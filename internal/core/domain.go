package core

import (
	"errors"
	"strings"
	"time"
)

const (
	LaborEstimate    EstimateKind = "labor"
	NonLaborEstimate EstimateKind = "non_labor"
)

type (
	EstimateKind string

	// MonthKey identifies a calendar month.
	MonthKey struct {
		Year  int
		Month int // 1-12
	}

	// LineItem is a single labor or non-labor estimate inside a baseline.
	LineItem struct {
		Kind        EstimateKind
		RubroID     string // raw identifier, resolved through the taxonomy catalog
		Description string
		Total       Money
		// Schedule is an optional explicit per-month amount list. When set it
		// overrides even apportionment and its length must equal the baseline
		// duration.
		Schedule []Money
	}

	// Baseline is a signed, immutable budget plan for a project.
	Baseline struct {
		ID             string
		ProjectID      string
		Labor          []LineItem
		NonLabor       []LineItem
		SignatureHash  string
		TotalAmount    Money
		Currency       string
		StartDate      time.Time
		DurationMonths int
		CreatedAt      time.Time
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidMonth    = errors.New("invalid month")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrEmptyProjectID  = errors.New("empty project id")
	ErrEmptyBaselineID = errors.New("empty baseline id")
	ErrEmptyRubro      = errors.New("empty rubro identifier")
	ErrScheduleLength  = errors.New("schedule length does not match duration")
)

// Start returns the first month covered by the baseline.
func (b Baseline) Start() MonthKey {
	return MonthKey{Year: b.StartDate.Year(), Month: int(b.StartDate.Month())}
}

// Months returns the calendar months covered by the baseline, in order.
func (b Baseline) Months() []MonthKey {
	out := make([]MonthKey, 0, b.DurationMonths)
	mk := b.Start()
	for i := 0; i < b.DurationMonths; i++ {
		out = append(out, mk)
		mk = mk.Next()
	}
	return out
}

func (b Baseline) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return ErrEmptyBaselineID
	}
	if strings.TrimSpace(b.ProjectID) == "" {
		return ErrEmptyProjectID
	}
	if b.DurationMonths < 1 {
		return ErrInvalidDuration
	}
	if b.StartDate.IsZero() {
		return errors.New("baseline start date cannot be zero")
	}
	if err := b.TotalAmount.Validate(); err != nil {
		return errors.New("invalid total amount: " + err.Error())
	}
	return nil
}

// Validate checks a line item against a baseline duration. Rubro resolution
// happens separately in the materializer.
func (li LineItem) Validate(duration int) error {
	if strings.TrimSpace(li.RubroID) == "" && strings.TrimSpace(li.Description) == "" {
		return ErrEmptyRubro
	}
	if err := li.Total.Validate(); err != nil {
		return err
	}
	if len(li.Schedule) > 0 && len(li.Schedule) != duration {
		return ErrScheduleLength
	}
	switch li.Kind {
	case LaborEstimate, NonLaborEstimate:
	default:
		return errors.New("invalid estimate kind")
	}
	return nil
}

func (mk MonthKey) Validate() error {
	if mk.Month < 1 || mk.Month > 12 {
		return ErrInvalidMonth
	}
	if mk.Year < 1 {
		return errors.New("invalid year")
	}
	return nil
}

// Next returns the following calendar month.
func (mk MonthKey) Next() MonthKey {
	if mk.Month == 12 {
		return MonthKey{Year: mk.Year + 1, Month: 1}
	}
	return MonthKey{Year: mk.Year, Month: mk.Month + 1}
}

// Offset returns the 1-based index of mk relative to start. Start itself is 1.
func (mk MonthKey) Offset(start MonthKey) int {
	return (mk.Year-start.Year)*12 + (mk.Month - start.Month) + 1
}

// MonthAt returns the calendar month at a 1-based offset from start.
func MonthAt(start MonthKey, offset int) MonthKey {
	total := start.Year*12 + (start.Month - 1) + (offset - 1)
	return MonthKey{Year: total / 12, Month: total%12 + 1}
}
