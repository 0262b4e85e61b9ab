package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/3leaps/lagsearch/pkg/output"
)

// Serve runs the worker side of the process protocol on r and w.
//
// The first record must be an init record. Serve answers it with ready,
// then answers every fit record with exactly one result record until r
// reaches EOF or ctx is cancelled. Errors that end the session are also
// written to w as error records.
func Serve(ctx context.Context, r io.Reader, w io.Writer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	dec := output.NewDecoder(r)
	out := output.NewJSONLWriter(w, "")

	fail := func(code string, err error) error {
		_ = out.WriteError(context.Background(), &output.ErrorRecord{Code: code, Message: err.Error()})
		return err
	}

	rec, err := dec.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fail(output.ErrCodeProtocol, fmt.Errorf("read init: %w", err))
	}
	var init output.InitRecord
	if err := rec.Decode(output.TypeInit, &init); err != nil {
		return fail(output.ErrCodeProtocol, err)
	}
	frame, opts, err := prepare(init.Dataset, init.Options)
	if err != nil {
		return fail(output.ErrCodeBadInput, err)
	}

	if err := out.Write(ctx, output.TypeReady, &output.ReadyRecord{
		PID:          os.Getpid(),
		Observations: len(frame.Index),
		Regressors:   len(frame.Names),
	}); err != nil {
		return err
	}
	logger.Debug("worker ready", zap.Int("observations", len(frame.Index)), zap.Int("regressors", len(frame.Names)))

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		rec, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fail(output.ErrCodeProtocol, fmt.Errorf("read fit: %w", err))
		}

		var fit output.FitRecord
		if err := rec.Decode(output.TypeFit, &fit); err != nil {
			return fail(output.ErrCodeProtocol, err)
		}

		res := Evaluate(frame, fit.Specification, opts)
		if err := out.WriteResult(ctx, &output.ResultRecord{
			Seq:     fit.Seq,
			ModelID: fit.Specification.ID,
			Status:  string(res.Status),
			Data:    res.Data,
			Error:   res.Error,
			Reason:  res.Reason,
		}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
