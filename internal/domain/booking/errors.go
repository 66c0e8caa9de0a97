package booking

import (
	"errors"
	"fmt"
)

var ErrAuthRequired = errors.New("auth required: run `courtsniper setup` to capture a fresh login")

// DetectionError means the booking surface could not be turned into a
// reliable map. Step names the anchor or state that failed.
type DetectionError struct {
	Step   string
	Detail string
	Err    error
}

func (e *DetectionError) Error() string {
	msg := "detection failed at " + e.Step
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DetectionError) Unwrap() error { return e.Err }

func Detection(step, format string, args ...any) error {
	return &DetectionError{Step: step, Detail: fmt.Sprintf(format, args...)}
}

func WrapDetection(step string, err error) error {
	if err == nil {
		return nil
	}
	var de *DetectionError
	if errors.As(err, &de) || errors.Is(err, ErrAuthRequired) {
		return err
	}
	return &DetectionError{Step: step, Err: err}
}

func IsDetection(err error) bool {
	var de *DetectionError
	return errors.As(err, &de)
}
