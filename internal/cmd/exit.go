package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/config"
	apperrors "github.com/intunectl/intunectl/internal/errors"
	"github.com/intunectl/intunectl/internal/graph"
)

// ExitCodeFor maps a command error onto a foundry exit code. Graph outages
// (throttling that outlasted the retry budget, network failures, timeouts)
// exit as ExternalServiceUnavailable so wrappers can retry the whole run.
func ExitCodeFor(err error) foundry.ExitCode {
	if err == nil {
		return foundry.ExitCode(0)
	}
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope.Code == apperrors.CodeConfigInvalid {
		return foundry.ExitConfigInvalid
	}
	if stderrors.Is(err, config.ErrInvalid) {
		return foundry.ExitConfigInvalid
	}
	if stderrors.Is(err, fs.ErrNotExist) {
		return foundry.ExitFileNotFound
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return foundry.ExitExternalServiceUnavailable
	}
	switch graph.Classify(nil, err) {
	case graph.KindRateLimited, graph.KindNetwork, graph.KindRetriesExhausted:
		return foundry.ExitExternalServiceUnavailable
	}
	return foundry.ExitFailure
}

// Exit terminates after a failed Execute, choosing the code from err.
func Exit(err error) {
	ExitWithCodeStderr(ExitCodeFor(err), "Command failed", err)
}

// ExitWithCode logs msg and err with exit metadata, then exits. A nil
// logger falls back to stderr.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok || logger == nil {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_description", info.Description),
		zap.String("exit_category", info.Category),
	}
	if envelope, ok := err.(*errors.ErrorEnvelope); ok {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if original, ok := envelope.Original.(error); ok {
			err = original
		}
	}
	logger.Error(msg, append(fields, zap.Error(err))...)
	os.Exit(info.Code)
}

// ExitWithCodeStderr is ExitWithCode for failures before any logger exists.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	writeFatal(os.Stderr, exitCode, msg, err)
	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		os.Exit(info.Code)
	}
	os.Exit(int(exitCode))
}

func writeFatal(w io.Writer, exitCode foundry.ExitCode, msg string, err error) {
	switch envelope, isEnvelope := err.(*errors.ErrorEnvelope); {
	case err == nil:
		fmt.Fprintf(w, "FATAL: %s\n", msg)
	case isEnvelope:
		fmt.Fprintf(w, "FATAL: %s [%s]: %s (correlation: %s)\n", msg, envelope.Code, envelope.Message, envelope.CorrelationID)
		if original, ok := envelope.Original.(error); ok {
			fmt.Fprintf(w, "Underlying error: %v\n", original)
		}
	default:
		fmt.Fprintf(w, "FATAL: %s: %v\n", msg, err)
	}

	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		fmt.Fprintf(w, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		return
	}
	fmt.Fprintf(w, "Exit Code: %d\n", exitCode)
}
