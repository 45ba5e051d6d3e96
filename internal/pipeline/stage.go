package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Stage names, also used as metric and span labels.
const (
	StageDownload  = "download"
	StageMetadata  = "metadata"
	StageExtract   = "extract"
	StageNormalize = "normalize"
	StageChunk     = "chunk"
	StageEmbed     = "embed"
	StageIndex     = "index"
	StageCatalog   = "catalog"
	StageParity    = "parity"
)

// stage runs fn as the named stage. It opens a span, logs start and outcome
// with duration_ms and observes the stage histogram, including when fn
// panics. A failure is returned as a *StageError.
func (o *Orchestrator) stage(ctx context.Context, name string, fields []zap.Field, fn func(ctx context.Context) error) (err error) {
	ctx, span := o.tracer.Start(ctx, "ingest."+name, trace.WithAttributes(attribute.String("ingest.stage", name)))
	log := o.logger.With(append(fields[:len(fields):len(fields)], zap.String("stage", name))...)
	start := time.Now()
	log.Info("stage start")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		d := time.Since(start)
		o.metrics.ObserveStage(name, err, d)
		if err != nil {
			se := &StageError{Stage: name, Kind: KindOf(err), Err: err}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("ingest.error_kind", string(se.Kind)))
			log.Error("stage error",
				zap.Int64("duration_ms", d.Milliseconds()),
				zap.String("kind", string(se.Kind)),
				zap.Error(err))
			err = se
		} else {
			span.SetStatus(codes.Ok, "")
			log.Info("stage ok", zap.Int64("duration_ms", d.Milliseconds()))
		}
		span.End()
	}()
	return fn(ctx)
}

// ioStage is stage with the per-stage timeout applied to fn's context.
func (o *Orchestrator) ioStage(ctx context.Context, name string, fields []zap.Field, fn func(ctx context.Context) error) error {
	return o.stage(ctx, name, fields, func(ctx context.Context) error {
		if o.stageTimeout <= 0 {
			return fn(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
		return fn(ctx)
	})
}
