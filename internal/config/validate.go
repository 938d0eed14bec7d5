package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/seenimoa/gamecock/internal/credit"
	"github.com/seenimoa/gamecock/pkg/models"
)

// ConfigurationError reports a malformed setting. It is raised once at
// startup; request paths never see it.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

func invalid(key, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

var structValidator = newStructValidator()

// newStructValidator reports fields by their config key rather than the Go
// field name.
func newStructValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the threshold and factor tables. Field bounds come from
// the validate struct tags; map keys and rating scales are checked here.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fieldError(fieldErrs[0])
		}
		return err
	}

	for _, s := range c.Sources.Enabled {
		if _, err := models.ParseSourceKind(s); err != nil {
			return invalid("sources.enabled", "%v", err)
		}
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	return c.Obligations.validate()
}

// fieldError turns a tag failure into a ConfigurationError keyed like the
// YAML file, e.g. "store.driver".
func fieldError(fe validator.FieldError) *ConfigurationError {
	key := fe.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}
	if i := strings.IndexByte(key, '['); i >= 0 {
		key = key[:i]
	}

	var reason string
	switch fe.Tag() {
	case "oneof":
		reason = fmt.Sprintf("want one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "gt":
		reason = fmt.Sprintf("must be greater than %s, got %v", fe.Param(), fe.Value())
	case "gte", "min":
		if fe.Kind() == reflect.Slice {
			reason = fmt.Sprintf("at least %s entries required", fe.Param())
		} else {
			reason = fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
		}
	case "lt":
		reason = fmt.Sprintf("must be less than %s, got %v", fe.Param(), fe.Value())
	case "lte":
		reason = fmt.Sprintf("must be at most %s, got %v", fe.Param(), fe.Value())
	case "gtfield":
		reason = fmt.Sprintf("must exceed %s, got %v", fe.Param(), fe.Value())
	case "len", "alpha":
		reason = fmt.Sprintf("want a 3-letter code, got %q", fmt.Sprint(fe.Value()))
	default:
		reason = fmt.Sprintf("failed %s check", fe.Tag())
	}
	return &ConfigurationError{Key: key, Reason: reason}
}

func (r RiskConfig) validate() error {
	if _, err := credit.ParseRating(r.RatingThreshold); err != nil {
		return invalid("risk.rating_threshold", "%v", err)
	}
	for class, shock := range r.Shocks {
		if !knownAssetClass(class) {
			return invalid("risk.shocks", "unknown asset class %q", class)
		}
		if shock <= 0 {
			return invalid("risk.shocks."+class, "must be positive, got %g", shock)
		}
	}
	b := r.MarginBands
	if !(0 < b.Medium && b.Medium < b.High && b.High < b.Critical) {
		return invalid("risk.margin_bands", "bands must be positive and increasing, got %g/%g/%g", b.Medium, b.High, b.Critical)
	}
	for ccy, rate := range r.FXRates {
		if len(ccy) != 3 {
			return invalid("risk.fx_rates", "want a 3-letter currency code, got %q", ccy)
		}
		if rate <= 0 {
			return invalid("risk.fx_rates."+ccy, "must be positive, got %g", rate)
		}
	}
	return nil
}

func (o ObligationsConfig) validate() error {
	for class, f := range o.MarginFactors {
		if !knownAssetClass(class) {
			return invalid("obligations.margin_factors", "unknown asset class %q", class)
		}
		if f < 0 || f > 1 {
			return invalid("obligations.margin_factors."+class, "must be in [0, 1], got %g", f)
		}
	}
	return nil
}

func knownAssetClass(s string) bool {
	s = strings.ToLower(s)
	for _, c := range models.AllAssetClasses() {
		if string(c) == s {
			return true
		}
	}
	return false
}

// SourceKinds returns the enabled sources as typed kinds, in their
// canonical order. Call after Validate.
func (c *Config) SourceKinds() []models.SourceKind {
	enabled := make(map[models.SourceKind]bool, len(c.Sources.Enabled))
	for _, s := range c.Sources.Enabled {
		if k, err := models.ParseSourceKind(s); err == nil {
			enabled[k] = true
		}
	}
	var out []models.SourceKind
	for _, k := range models.AllSourceKinds() {
		if enabled[k] {
			out = append(out, k)
		}
	}
	return out
}
