// Package server provides the WebSocket command protocol of the monitor.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
)

// validate is the shared validator instance for request validation.
var validate *validator.Validate

var errInternal = errors.New("internal error")

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report JSON names instead of Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// DecodeAndValidate decodes the command payload into data and validates it.
// It reports false after sending an error response.
func DecodeAndValidate[T any](cmd WSCommand, send chan<- any, data *T) bool {
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, data); err != nil {
			SendError(send, cmd.Type, fmt.Errorf("invalid JSON: %w", err))
			return false
		}
	}
	if err := validate.Struct(data); err != nil {
		SendValidationErrors(send, cmd.Type, err)
		return false
	}
	return true
}

// HandleCommand decodes and validates a request, runs process and sends the
// result. process returns the optional response data.
func HandleCommand[T any](cmd WSCommand, send chan<- any, process func(*T) (any, error)) {
	var data T
	if !DecodeAndValidate(cmd, send, &data) {
		return
	}
	result, err := process(&data)
	if err != nil {
		SendError(send, cmd.Type, err)
		return
	}
	SendSuccess(send, cmd.Type, result)
}

// HandleActionAsync runs a slow action, such as a notification test, on its
// own goroutine with panic recovery. The result is dropped when ctx ended
// before the action returned. send must never be closed while actions run.
func HandleActionAsync(ctx context.Context, cmd WSCommand, send chan<- any, action func(context.Context) (any, error)) {
	go func() {
		result, err := runAction(ctx, cmd, action)
		if ctx.Err() != nil {
			slog.Debug("client gone, dropping result", "command", cmd.Type)
			return
		}
		if err != nil {
			SendError(send, cmd.Type, err)
			return
		}
		SendSuccess(send, cmd.Type, result)
	}()
}

// runAction calls action and turns a panic into errInternal.
func runAction(ctx context.Context, cmd WSCommand, action func(context.Context) (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in async handler", "command", cmd.Type, "panic", r)
			result, err = nil, errInternal
		}
	}()
	return action(ctx)
}

// SendSuccess sends a success response for a command.
func SendSuccess(send chan<- any, cmdType string, data any) {
	trySend(send, cmdType, map[string]any{
		"type":    cmdType + "_result",
		"success": true,
		"data":    data,
	})
}

// SendError sends an error response for a command.
func SendError(send chan<- any, cmdType string, err error) {
	trySend(send, cmdType, map[string]any{
		"type":    cmdType + "_result",
		"success": false,
		"error":   err.Error(),
	})
}

// SendValidationErrors converts validator errors to field errors and sends them.
func SendValidationErrors(send chan<- any, cmdType string, err error) {
	trySend(send, cmdType, types.WSCommandResult{
		Type:    cmdType + "_result",
		Success: false,
		Error:   ToValidationError(err),
	})
}

// ValidateStruct validates v against its validate tags. It returns nil when
// v is valid.
func ValidateStruct(v any) *types.ValidationError {
	if err := validate.Struct(v); err != nil {
		return ToValidationError(err)
	}
	return nil
}

// ToValidationError converts a validator error into field errors keyed by
// JSON name.
func ToValidationError(err error) *types.ValidationError {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	verr = types.NewValidationError()

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, e := range fieldErrs {
			verr.Add(e.Field(), formatValidationMessage(e), e.Value())
		}
	} else {
		verr.Add("", err.Error(), nil)
	}
	return verr
}

// trySend delivers msg without blocking; a full channel drops it.
func trySend(send chan<- any, cmdType string, msg any) {
	select {
	case send <- msg:
	default:
		slog.Warn("failed to send response: channel full", "type", cmdType)
	}
}

func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "http_url":
		return "must be a valid http(s) URL"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
