package cmd

import (
	"encoding/json"
	"fmt"
)

// consoleWriter is where commands print their results, tests replace it to
// capture the output.
var consoleWriter console = stdoutConsole{}

type (
	console interface {
		Println(a ...any)
	}

	stdoutConsole struct{}
)

func (stdoutConsole) Println(a ...any) {
	fmt.Println(a...)
}

func printf(format string, a ...any) {
	consoleWriter.Println(fmt.Sprintf(format, a...))
}

// printJSON prints v as indented JSON, the output of the query commands is
// meant to be consumed by scripts.
func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	consoleWriter.Println(string(b))
	return nil
}
