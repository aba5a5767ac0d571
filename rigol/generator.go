package rigol

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Generators is the number of signal generator outputs on -S models
const Generators = 2

// generatorFunctions are the shapes the built-in generator can produce
var generatorFunctions = []string{"SINusoid", "SQUare", "RAMP", "PULSe", "NOISe", "DC"}

// FunctionGenerator is an interface to the built-in signal generator of
// DS1000Z-S scopes.  It shares the session, and lock, of its Scope.
type FunctionGenerator struct {
	scope  *Scope
	prefix string
}

// Generator returns output n (1 or 2) of the built-in generator
func (s *Scope) Generator(n int) (*FunctionGenerator, error) {
	if n < 1 || n > Generators {
		return nil, errors.Errorf("generator output %d is not 1 or 2", n)
	}
	return &FunctionGenerator{scope: s, prefix: ":SOURce" + strconv.Itoa(n)}, nil
}

// SetFunction configures the output function used by the generator
func (f *FunctionGenerator) SetFunction(fcn string) error {
	short := ShortForm(fcn)
	for _, g := range generatorFunctions {
		if ShortForm(g) == short {
			return f.scope.set(Set(f.prefix+":FUNCtion", strings.ToUpper(fcn)))
		}
	}
	return errors.Errorf("function %q is not one of %v", fcn, generatorFunctions)
}

// GetFunction returns the current function type used by the generator
func (f *FunctionGenerator) GetFunction() (string, error) {
	return f.scope.getString(Query(f.prefix + ":FUNCtion"))
}

// SetFrequency configures the output frequency of the generator in Hz
func (f *FunctionGenerator) SetFrequency(hz float64) error {
	if hz <= 0 || hz > 25e6 {
		return errors.Errorf("frequency %g Hz is outside 0..25 MHz", hz)
	}
	return f.scope.set(Set(f.prefix+":FREQuency", hz))
}

// GetFrequency returns the frequency of the generator in Hz
func (f *FunctionGenerator) GetFrequency() (float64, error) {
	return f.scope.getFloat(Query(f.prefix + ":FREQuency"))
}

// SetVoltage configures the output amplitude (Vpp) of the signal
func (f *FunctionGenerator) SetVoltage(volts float64) error {
	return f.scope.set(Set(f.prefix+":VOLTage", volts))
}

// GetVoltage returns the current output amplitude of the generator
func (f *FunctionGenerator) GetVoltage() (float64, error) {
	return f.scope.getFloat(Query(f.prefix + ":VOLTage"))
}

// SetOffset configures the output voltage offset
func (f *FunctionGenerator) SetOffset(volts float64) error {
	return f.scope.set(Set(f.prefix+":VOLTage:OFFSet", volts))
}

// GetOffset gets the current voltage offset
func (f *FunctionGenerator) GetOffset() (float64, error) {
	return f.scope.getFloat(Query(f.prefix + ":VOLTage:OFFSet"))
}

// EnableOutput enables the output on the rear connector
func (f *FunctionGenerator) EnableOutput() error {
	return f.scope.set(Set(f.prefix+":OUTPut", true))
}

// DisableOutput disables the output on the rear connector
func (f *FunctionGenerator) DisableOutput() error {
	return f.scope.set(Set(f.prefix+":OUTPut", false))
}

// GetOutput returns true if the generator is currently outputting a signal
func (f *FunctionGenerator) GetOutput() (bool, error) {
	return f.scope.getBool(Query(f.prefix + ":OUTPut"))
}
