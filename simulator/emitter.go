package simulator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kilianp07/tankwatch/core/ingest"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/infra/mqtt"
)

// Emitter delivers one sensor sample.
type Emitter interface {
	Emit(ctx context.Context, in model.ReadingInput) error
}

type sensorPayload struct {
	TankID     string    `json:"tank_id"`
	DistanceCm float64   `json:"distance_cm"`
	CapturedAt time.Time `json:"captured_at"`
}

// MQTTEmitter publishes samples the way field sensors do.
type MQTTEmitter struct {
	Publisher mqtt.Publisher
	Config    mqtt.Config
}

func (e MQTTEmitter) Emit(_ context.Context, in model.ReadingInput) error {
	data, err := json.Marshal(sensorPayload{TankID: in.TankID, DistanceCm: in.RawDistanceCm, CapturedAt: in.CapturedAt})
	if err != nil {
		return err
	}
	return e.Publisher.Publish(e.Config.ReadingTopic(in.TankID), e.Config.QoSFor("reading"), data)
}

// Submitter is satisfied by the ingestion pipeline.
type Submitter interface {
	Submit(ctx context.Context, in model.ReadingInput) (ingest.Result, error)
}

// PipelineEmitter submits samples in process. Rejected samples are not
// errors; they are counted in Rejected.
type PipelineEmitter struct {
	Target   Submitter
	Rejected int
}

func (e *PipelineEmitter) Emit(ctx context.Context, in model.ReadingInput) error {
	res, err := e.Target.Submit(ctx, in)
	if err != nil {
		return err
	}
	if !res.Accepted {
		e.Rejected++
	}
	return nil
}
