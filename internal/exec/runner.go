package exec

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ShivKnp/CodeCrew/internal/models"
)

const stdinFile = "stdin.txt"

// Runner executes one-shot code submissions against the session's
// shared input field.
type Runner struct{}

func NewRunner() *Runner { return &Runner{} }

type RunOutput struct {
	Stdout   string
	Stderr   string
	Exit     int
	TimedOut bool
}

type langSpec struct {
	image    string
	fileName string
	compile  []string
	run      []string
}

// RunOnce runs one submission to completion inside a fresh sandbox.
// Stdin, when non-empty, is staged as a workspace file and redirected
// into the final command.
func (r *Runner) RunOnce(ctx context.Context, lang models.Language, code, stdin string, limits SandboxLimits) (RunOutput, error) {
	spec, err := r.langSpec(lang)
	if err != nil {
		return RunOutput{}, err
	}

	files := map[string][]byte{spec.fileName: []byte(code)}
	cmds := [][]string{}
	if len(spec.compile) > 0 {
		cmds = append(cmds, spec.compile)
	}
	runCmd := spec.run
	if stdin != "" {
		files[stdinFile] = []byte(stdin)
		runCmd = []string{"/bin/sh", "-c", fmt.Sprintf("%s < %s", strings.Join(spec.run, " "), stdinFile)}
	}
	cmds = append(cmds, runCmd)

	sbx, err := NewSandbox(spec.image, limits)
	if err != nil {
		return RunOutput{}, err
	}
	var out, errS strings.Builder

	exit, timedOut, runErr := sbx.Run(ctx, files, cmds,
		func(p []byte) { out.Write(p) },
		func(p []byte) { errS.Write(p) },
	)
	if runErr != nil && !timedOut {
		return RunOutput{}, runErr
	}

	return RunOutput{
		Stdout:   out.String(),
		Stderr:   errS.String(),
		Exit:     exit,
		TimedOut: timedOut,
	}, nil
}

func (r *Runner) langSpec(lang models.Language) (langSpec, error) {
	switch lang {
	case models.LangPython:
		return langSpec{
			image:    "python:3.11-slim",
			fileName: "main.py",
			run:      []string{"python3", "main.py"},
		}, nil
	case models.LangJava:
		return langSpec{
			image:    "eclipse-temurin:17-jdk",
			fileName: "Main.java",
			compile:  []string{"javac", "Main.java"},
			run:      []string{"java", "Main"},
		}, nil
	case models.LangCPP:
		return langSpec{
			image:    "gcc:13",
			fileName: "main.cpp",
			compile:  []string{"g++", "-O2", "-std=c++17", "main.cpp", "-o", "main"},
			run:      []string{"./main"},
		}, nil
	default:
		return langSpec{}, errors.New("unsupported language")
	}
}
