package engine

import "strconv"

// Level is a PDP server log level.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Arg is a typed command-line argument for the PDP interpreter.
type Arg interface {
	Args() []string
}

type argList []string

func (a argList) Args() []string { return append([]string(nil), a...) }

// Module runs a Python module, as in "-m uvicorn".
func Module(name string) Arg { return argList{"-m", name} }

// App names the ASGI application, e.g. "horizon.main:app".
func App(app string) Arg { return argList{app} }

// Reload enables the server's reload mode.
func Reload() Arg { return argList{"--reload"} }

func Port(port uint16) Arg { return argList{"--port", strconv.Itoa(int(port))} }

func Host(host string) Arg { return argList{"--host", host} }

func LogLevel(l Level) Arg { return argList{"--log-level", string(l)} }

// Custom passes raw through unchanged.
func Custom(raw string) Arg { return argList{raw} }

// Flatten expands args into argv order.
func Flatten(args []Arg) []string {
	var out []string
	for _, a := range args {
		if a == nil {
			continue
		}
		out = append(out, a.Args()...)
	}
	return out
}
