//go:build !whispercpp

package transcribe

import "errors"

// errNoWhisperCpp is returned when the binary was built without cgo bindings.
var errNoWhisperCpp = errors.New("whispercpp backend not compiled in (rebuild with -tags whispercpp)")

func newWhisperCppLoader(Options) (Loader, error) {
	return nil, errNoWhisperCpp
}
