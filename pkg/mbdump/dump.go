// Runs the external dump tool (mongodump) into a directory
package mbdump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/function61/gokit/logex"
)

// mongodump reports progress on stderr. if this is in there, whatever else is there too
// is just chatter
const benignDiagnosticPhrase = "done dumping"

func IsBenignDiagnostic(diagnostic string) bool {
	return strings.Contains(diagnostic, benignDiagnosticPhrase)
}

type DumpResult struct {
	Succeeded      bool
	DiagnosticText string // stderr of the dump tool
}

type DumpError struct {
	Diagnostic string
	Err        error
}

func (e *DumpError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("dump failed: %v", e.Err)
	}

	return fmt.Sprintf("dump failed: %v: %s", e.Err, strings.TrimSpace(e.Diagnostic))
}

func (e *DumpError) Unwrap() error {
	return e.Err
}

var errUnexpectedDiagnostic = errors.New("unexpected output on stderr")

type Dumper struct {
	command []string
	uri     string
	logl    *logex.Leveled
}

func NewMongoDumper(mongodumpPath string, uri string, logl *logex.Leveled) *Dumper {
	return NewDumper([]string{mongodumpPath}, uri, logl)
}

// "--uri=<uri>" and "--out=<dir>" are appended to command
func NewDumper(command []string, uri string, logl *logex.Leveled) *Dumper {
	return &Dumper{command, uri, logl}
}

// without the connection string, which might contain credentials
func (d *Dumper) Describe() string {
	return fmt.Sprintf("command: %v --uri=*** --out=<dir>", d.command)
}

func (d *Dumper) Dump(ctx context.Context, outDir string) (*DumpResult, error) {
	d.logl.Info.Printf("creating MongoDB dump in %s", outDir)
	d.logl.Debug.Println(d.Describe())

	if err := os.MkdirAll(outDir, 0700); err != nil {
		return nil, &DumpError{Err: err}
	}

	args := append(append([]string{}, d.command[1:]...), "--uri="+d.uri, "--out="+outDir)

	diagnostic := &bytes.Buffer{}
	output := &bytes.Buffer{}

	command := exec.CommandContext(ctx, d.command[0], args...)
	command.Stdout = output
	command.Stderr = diagnostic

	if err := command.Start(); err != nil {
		return nil, &DumpError{Err: err}
	}

	if SupportsSettingPriorities {
		if err := SetLowCpuPriority(command.Process.Pid); err != nil {
			d.logl.Debug.Printf("could not lower dump priority: %v", err)
		}
	}

	// Wait() releases the process' resources on every path
	waitErr := command.Wait()

	if output.Len() > 0 {
		d.logl.Debug.Printf("dump stdout: %s", strings.TrimSpace(output.String()))
	}

	result := &DumpResult{DiagnosticText: diagnostic.String()}

	if waitErr != nil {
		return result, &DumpError{Diagnostic: result.DiagnosticText, Err: waitErr}
	}

	if result.DiagnosticText != "" && !IsBenignDiagnostic(result.DiagnosticText) {
		return result, &DumpError{Diagnostic: result.DiagnosticText, Err: errUnexpectedDiagnostic}
	}

	result.Succeeded = true

	d.logl.Info.Println("MongoDB dump completed successfully")

	return result, nil
}
