package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess       = 0 // Every dataset was processed
	ExitDatasetFailed = 1 // One or more datasets could not be processed
	ExitError         = 2 // Configuration or runtime error
)

// DatasetFailureError indicates that the run completed but at least one
// dataset failed to load or save.
type DatasetFailureError struct {
	Failed int
	Total  int
}

func (e *DatasetFailureError) Error() string {
	return fmt.Sprintf("%d of %d datasets failed", e.Failed, e.Total)
}

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var failure *DatasetFailureError
	if errors.As(err, &failure) {
		return ExitDatasetFailed
	}
	return ExitError
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
