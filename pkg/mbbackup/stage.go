package mbbackup

import (
	"fmt"
)

// the pipeline is linear: each stage runs only after the previous one succeeded
type Stage int

const (
	StageIdle Stage = iota
	StageValidatingConfig
	StageDumping
	StageCompressing
	StageUploading
	StageLocalCleanup
	StageSweeping
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageValidatingConfig:
		return "validating config"
	case StageDumping:
		return "dumping"
	case StageCompressing:
		return "compressing"
	case StageUploading:
		return "uploading"
	case StageLocalCleanup:
		return "local cleanup"
	case StageSweeping:
		return "sweeping"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
