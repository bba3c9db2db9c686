package figures

import (
	"context"
	"os/exec"
	"strings"
)

const batchMain = "org.allenai.pdffigures2.FigureExtractorBatchCli"

// CLIRunner runs a local pdffigures2 installation.
//
// Command is the program prefix; the input directory and "-m <outputDir>/" are
// appended. When Command[0] is "sbt" the whole invocation is passed as a single
// "runMain" argument, run from Dir (a pdffigures2 checkout).
type CLIRunner struct {
	Command []string
	Dir     string
}

// DefaultCommand runs an assembled pdffigures2 jar from the working directory.
var DefaultCommand = []string{"java", "-cp", "pdffigures2.jar", batchMain}

func (r CLIRunner) Name() string { return "cli" }

// Run executes pdffigures2 and waits for it to exit.
func (r CLIRunner) Run(ctx context.Context, inputDir, outputDir string) error {
	name, args := r.command(inputDir, outputDir)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &ToolError{Runner: r.Name(), Output: string(output), Err: err}
	}
	return nil
}

func (r CLIRunner) command(inputDir, outputDir string) (string, []string) {
	command := r.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	toolArgs := []string{withSlash(inputDir), "-m", withSlash(outputDir)}

	if command[0] == "sbt" {
		run := "runMain " + batchMain + " " + strings.Join(toolArgs, " ")
		return "sbt", append(append([]string{}, command[1:]...), run)
	}
	return command[0], append(append([]string{}, command[1:]...), toolArgs...)
}

// withSlash makes pdffigures2 treat the path as a directory (batch input,
// output prefix).
func withSlash(dir string) string {
	if strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}
