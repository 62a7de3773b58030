package cmd

// Process exit codes for afpsql (spec §4.7's CLI mode): 0 for a successful
// terminal result, 1 when the single query terminated with a sql_error/error
// event, 2 for anything that failed before a protocol event could even be
// produced (bad flags, a stdin that isn't a well-formed request).
const (
	ExitSuccess       = 0
	ExitProtocolError = 1
	ExitArguments     = 2
)

// ExitCodeError carries the process exit code alongside the error that
// caused it, surfaced by main()'s ExitCode() type assertion.
type ExitCodeError struct {
	code int
	err  error
}

func (e ExitCodeError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e ExitCodeError) ExitCode() int {
	return e.code
}

// ExitWithCode returns an error that causes main() to exit with code.
func ExitWithCode(code int, err error) error {
	return ExitCodeError{code: code, err: err}
}
