package failure_test

import (
	"change-detector/internal/failure"
	"errors"
	"fmt"
	"io"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/xerrors"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want failure.Kind
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			failure.New(failure.UnsupportedFormat, "gif is not accepted"),
			failure.UnsupportedFormat,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			xerrors.Errorf("failed to decode before image: %w", failure.Wrap(failure.CorruptedImage, io.ErrUnexpectedEOF, "truncated")),
			failure.CorruptedImage,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			fmt.Errorf("wrapped: %w", failure.ProcessingTimeout),
			failure.ProcessingTimeout,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			errors.New("plain"),
			"",
		},
	}

	for _, tt := range tests {
		name := tt.name
		in := tt.in
		want := tt.want
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := failure.KindOf(in)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := xerrors.Errorf("outer: %w", failure.Wrap(failure.CorruptedImage, io.ErrUnexpectedEOF, "truncated png"))

	if !errors.Is(err, failure.CorruptedImage) {
		t.Errorf("expected errors.Is to match %s", failure.CorruptedImage)
	}
	if errors.Is(err, failure.UnsupportedFormat) {
		t.Errorf("expected errors.Is not to match %s", failure.UnsupportedFormat)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected cause to be reachable through Unwrap")
	}
	if got := failure.ReasonOf(err); got != "truncated png" {
		t.Errorf("expected reason %q, got %q", "truncated png", got)
	}
}
