package base

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/sugarme/gotch"
)

var (
	// ErrNotCompiled is returned by batch and export calls on a model that has
	// not been compiled.
	ErrNotCompiled = errors.New("model is not compiled")
	// ErrAlreadyCompiled is returned when compiling a model twice.
	ErrAlreadyCompiled = errors.New("model is already compiled")
	// ErrFeedMismatch is returned when the number of fed arrays differs from
	// the number of placeholders.
	ErrFeedMismatch = errors.New("number of fed arrays does not match placeholders")
	// ErrInvalidScale is returned for a scale that is not 1 or 2 positive integers.
	ErrInvalidScale = errors.New("invalid scale factor")

	ErrInvalidInitializer = errors.New("invalid kernel initializer")
	ErrInvalidRegularizer = errors.New("invalid kernel regularizer")
	ErrInvalidActivation  = errors.New("invalid activation")
	ErrInvalidPadding     = errors.New("invalid padding")
)

// Extra holds model-specific options without a fixed schema.
type Extra map[string]interface{}

// Get returns the option called name, or nil if it is not set.
func (e Extra) Get(name string) interface{} {
	if e == nil {
		return nil
	}
	return e[name]
}

// GetInt returns the option called name as int or def when it is missing or
// not an integer.
func (e Extra) GetInt(name string, def int) int {
	switch v := e.Get(name).(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

// GetFloat returns the option called name as float64 or def.
func (e Extra) GetFloat(name string, def float64) float64 {
	switch v := e.Get(name).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return def
	}
}

// GetString returns the option called name as string or def.
func (e Extra) GetString(name string, def string) string {
	if v, ok := e.Get(name).(string); ok {
		return v
	}
	return def
}

// GetBool returns the option called name as bool or def.
func (e Extra) GetBool(name string, def bool) bool {
	if v, ok := e.Get(name).(bool); ok {
		return v
	}
	return def
}

// DefaultName is the model name used when Options.Name is empty.
const DefaultName = "sr"

// Options configures a SuperResolution model.
type Options struct {
	// Name defaults to DefaultName. Architectures may substitute their own.
	Name string
	// Scale is either one factor used for both axes or [height, width].
	Scale       []int64
	WeightDecay float64
	// RGBInput selects RGBA input converted to YUV instead of grayscale.
	RGBInput bool
	Device   gotch.Device
	Logger   *log.Logger
	Extra    Extra
}

// DefaultOptions returns options for a grayscale x2 model on CPU.
func DefaultOptions() Options {
	return Options{
		Scale:       []int64{2},
		WeightDecay: 1e-4,
		Device:      gotch.CPU,
		Logger:      log.New(os.Stderr, "", log.LstdFlags),
	}
}

// Get looks up an extra option by name, returning nil when absent.
func (o Options) Get(name string) interface{} {
	return o.Extra.Get(name)
}

// NormalizeScale turns a scale of one or two factors into a [height, width] pair.
func NormalizeScale(scale []int64) ([2]int64, error) {
	var s [2]int64
	switch len(scale) {
	case 1:
		s = [2]int64{scale[0], scale[0]}
	case 2:
		s = [2]int64{scale[0], scale[1]}
	default:
		return s, fmt.Errorf("%w: expected 1 or 2 factors, got %v", ErrInvalidScale, scale)
	}
	if s[0] <= 0 || s[1] <= 0 {
		return s, fmt.Errorf("%w: factors must be positive, got %v", ErrInvalidScale, scale)
	}
	return s, nil
}
