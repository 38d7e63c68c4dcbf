package aiconfig

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound means the singleton record has not been created yet.
var ErrNotFound = errors.New("global ai config not found")

// ConfigurationError is fatal for a run: a stage record is missing or
// incomplete, or a template placeholder has no value.
type ConfigurationError struct {
	Stage   AnalysisType
	Field   string
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Stage != "" {
		fmt.Fprintf(&b, " [%s]", e.Stage)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " %s", e.Field)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": unresolved placeholders %s", strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func withStage(err error, t AnalysisType) error {
	var ce *ConfigurationError
	if errors.As(err, &ce) && ce.Stage == "" {
		cp := *ce
		cp.Stage = t
		return &cp
	}
	return err
}
