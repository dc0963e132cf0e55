// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

// Command embwire-conformance-go runs the protocol conformance scenarios
// against a compiler. By default it serves an in-process compiler; with
// --spawn it drives an external compiler binary over stdio, so the same
// suite validates any implementation of the protocol.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/sheetcraft/embwire/conformance"
	"github.com/sheetcraft/embwire/embwire"
)

func main() {
	os.Exit(run())
}

func run() int {
	spawn := flag.String("spawn", "", "path to a compiler binary to test (run with --embedded on stdio)")
	only := flag.String("run", "", "run only the named scenario")
	flag.Parse()

	failures := 0
	for _, scenario := range conformance.Scenarios() {
		if *only != "" && scenario.Name != *only {
			continue
		}
		if err := runScenario(scenario, *spawn); err != nil {
			failures++
			fmt.Printf("FAIL %s: %v\n", scenario.Name, err)
			continue
		}
		fmt.Printf("PASS %s\n", scenario.Name)
	}
	if failures > 0 {
		fmt.Printf("%d scenario(s) failed\n", failures)
		return 1
	}
	return 0
}

// runScenario gives each scenario a fresh session: fatal scenarios end with
// the compiler closing the connection.
func runScenario(scenario conformance.Scenario, spawn string) error {
	if spawn != "" {
		return runAgainstBinary(scenario, spawn)
	}
	return runInProcess(scenario)
}

func runInProcess(scenario conformance.Scenario) error {
	hostReader, compilerWriter := io.Pipe()
	compilerReader, hostWriter := io.Pipe()

	srv := embwire.NewServer()
	srv.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(compilerReader, compilerWriter)
	}()

	err := scenario.Run(conformance.NewHost(hostReader, hostWriter))
	hostWriter.Close()
	serveErr := <-done
	if err != nil {
		return err
	}
	if scenario.Fatal != (serveErr != nil) {
		return fmt.Errorf("serve error %v, fatal=%v", serveErr, scenario.Fatal)
	}
	return nil
}

func runAgainstBinary(scenario conformance.Scenario, path string) error {
	cmd := exec.Command(path, "--embedded")
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning %s: %w", path, err)
	}

	runErr := scenario.Run(conformance.NewHost(stdout, stdin))
	stdin.Close()
	waitErr := cmd.Wait()
	if runErr != nil {
		return runErr
	}
	if scenario.Fatal {
		// Fatal protocol errors exit with the protocol error code.
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) || exitErr.ExitCode() != embwire.ProtocolErrorExitCode {
			return fmt.Errorf("exit status %v, want code %d", waitErr, embwire.ProtocolErrorExitCode)
		}
		return nil
	}
	if waitErr != nil {
		return fmt.Errorf("compiler exited with %v", waitErr)
	}
	return nil
}
