package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldSuccess     = "success"
	FieldDuration    = "duration_ms"
	FieldProjectID   = "project_id"
	FieldBaselineID  = "baseline_id"
	FieldRubroID     = "rubro_id"
	FieldYear        = "year"
	FieldMonth       = "month"
	FieldAmountCents = "amount_cents"
	FieldRunID       = "run_id"
	FieldDryRun      = "dry_run"
)

// Components defines standard component names
const (
	ComponentApp      = "finz"
	ComponentStorage  = "storage"
	ComponentAMQP     = "amqp"
	ComponentWorker   = "worker"
	ComponentTaxonomy = "taxonomy"
	ComponentForecast = "forecast"
	ComponentMigrate  = "migrate"
	ComponentBackend  = "backend"
	ComponentCache    = "cache"
)

// Operations defines standard operation names
const (
	OpMaterialize = "materialize"
	OpMigrate     = "migrate"
	OpAssemble    = "assemble"
	OpValidate    = "validate"
	OpSweep       = "sweep"
	OpRefresh     = "refresh"
	OpStartup     = "startup"
	OpShutdown    = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithProject adds project and baseline identifiers
func (f LogFields) WithProject(projectID, baselineID string) LogFields {
	f[FieldProjectID] = projectID
	if baselineID != "" {
		f[FieldBaselineID] = baselineID
	}
	return f
}

// WithAllocation adds rubro and amount fields
func (f LogFields) WithAllocation(rubroID string, year, month int, amountCents int64) LogFields {
	f[FieldRubroID] = rubroID
	f[FieldYear] = year
	f[FieldMonth] = month
	f[FieldAmountCents] = amountCents
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
