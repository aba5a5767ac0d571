// Package tmc provides HTTP interfaces to test and measurement devices
package tmc

import (
	"encoding/json"
	"net/http"

	"github.com/scopelab/rigolab/generichttp"
)

// FunctionGenerator is a signal source with a settable shape, frequency,
// amplitude and offset
type FunctionGenerator interface {
	SetFunction(string) error
	GetFunction() (string, error)

	// SetFrequency and GetFrequency are in Hz
	SetFrequency(float64) error
	GetFrequency() (float64, error)

	// SetVoltage and GetVoltage are the peak to peak amplitude in volts
	SetVoltage(float64) error
	GetVoltage() (float64, error)

	SetOffset(float64) error
	GetOffset() (float64, error)

	EnableOutput() error
	DisableOutput() error
	GetOutput() (bool, error)
}

// Setup is the complete state of a generator output
type Setup struct {
	Function  string  `json:"function"`
	Frequency float64 `json:"frequency"`
	Voltage   float64 `json:"voltage"`
	Offset    float64 `json:"offset"`
	Output    bool    `json:"output"`
}

// ReadSetup queries every setting of fg
func ReadSetup(fg FunctionGenerator) (Setup, error) {
	var (
		s   Setup
		err error
	)
	if s.Function, err = fg.GetFunction(); err != nil {
		return s, err
	}
	floats := []struct {
		dst *float64
		fcn func() (float64, error)
	}{
		{&s.Frequency, fg.GetFrequency},
		{&s.Voltage, fg.GetVoltage},
		{&s.Offset, fg.GetOffset},
	}
	for _, f := range floats {
		if *f.dst, err = f.fcn(); err != nil {
			return s, err
		}
	}
	s.Output, err = fg.GetOutput()
	return s, err
}

// ApplySetup configures fg.  The output is switched off first and only
// switched on once every other setting has been accepted.
func ApplySetup(fg FunctionGenerator, s Setup) error {
	if err := fg.DisableOutput(); err != nil {
		return err
	}
	if err := fg.SetFunction(s.Function); err != nil {
		return err
	}
	for _, step := range []struct {
		fcn func(float64) error
		v   float64
	}{
		{fg.SetFrequency, s.Frequency},
		{fg.SetVoltage, s.Voltage},
		{fg.SetOffset, s.Offset},
	} {
		if err := step.fcn(step.v); err != nil {
			return err
		}
	}
	if s.Output {
		return fg.EnableOutput()
	}
	return nil
}

// HTTPFunctionGenerator adds routes for fg to table: a GET/POST pair per
// setting, and /setup to read or apply them all at once
func HTTPFunctionGenerator(fg FunctionGenerator, table generichttp.RouteTable) {
	get := func(path string, h http.HandlerFunc) {
		table[generichttp.MethodPath{Method: http.MethodGet, Path: path}] = h
	}
	post := func(path string, h http.HandlerFunc) {
		table[generichttp.MethodPath{Method: http.MethodPost, Path: path}] = h
	}
	get("/function", generichttp.GetString(fg.GetFunction))
	post("/function", generichttp.SetString(fg.SetFunction))
	get("/frequency", generichttp.GetFloat(fg.GetFrequency))
	post("/frequency", generichttp.SetFloat(fg.SetFrequency))
	get("/voltage", generichttp.GetFloat(fg.GetVoltage))
	post("/voltage", generichttp.SetFloat(fg.SetVoltage))
	get("/offset", generichttp.GetFloat(fg.GetOffset))
	post("/offset", generichttp.SetFloat(fg.SetOffset))
	get("/output", generichttp.GetBool(fg.GetOutput))
	post("/output", generichttp.Toggle(fg.EnableOutput, fg.DisableOutput))

	get("/setup", func(w http.ResponseWriter, r *http.Request) {
		s, err := ReadSetup(fg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.ReplyWithJSON(w, s)
	})
	post("/setup", func(w http.ResponseWriter, r *http.Request) {
		s := Setup{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = ApplySetup(fg, s); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}
