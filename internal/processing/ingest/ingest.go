package ingest

import (
	"github.com/vietddude/collector/internal/core/domain"
	"github.com/vietddude/collector/internal/infra/kafka"
	"github.com/vietddude/collector/internal/processing/envelope"
)

// NewPipelines builds one pipeline per inbound topic.
func NewPipelines(codec *envelope.Codec, capturer *Capturer, dead DeadLetterHandler) []*Pipeline {
	out := make([]*Pipeline, 0, len(domain.InboundEventTypes))
	for _, et := range domain.InboundEventTypes {
		out = append(out, NewPipeline(string(et), NominalInterface(et), Stages{
			Decode:     codec.Decode,
			Map:        MapEvent,
			Capture:    capturer.Capture,
			DeadLetter: dead,
		}))
	}
	return out
}

// Handlers adapts pipelines to consumer handlers keyed by topic.
func Handlers(pipelines []*Pipeline) map[string]kafka.Handler {
	out := make(map[string]kafka.Handler, len(pipelines))
	for _, p := range pipelines {
		out[p.Topic()] = p.Handle
	}
	return out
}
