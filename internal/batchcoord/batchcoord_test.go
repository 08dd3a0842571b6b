package batchcoord

import (
	"testing"

	"github.com/google/uuid"

	"github.com/civic-os/dispatchq/model"
	"github.com/civic-os/dispatchq/wire"
)

func TestCallbackPayloadRoundTripsThroughWire(t *testing.T) {
	batch := &model.Batch{
		ID:                uuid.New(),
		CallbackQueueName: "callbacks",
		CallbackPriority:  5,
	}
	activeJobID, payload := callbackPayload(batch, "reports.BatchDone")

	encoded, err := wire.Encode(payload)
	if err != nil {
		t.Fatalf("wire.Encode: %v", err)
	}
	decoded, err := wire.Decode(encoded)
	if err != nil {
		t.Fatalf("wire.Decode: %v", err)
	}

	if decoded.JobClass != "reports::BatchDone" {
		t.Errorf("JobClass = %q, want canonical %q", decoded.JobClass, "reports::BatchDone")
	}
	if decoded.QueueName != "callbacks" || decoded.Priority != 5 {
		t.Errorf("queue/priority not carried through: %+v", decoded)
	}
	if decoded.JobID != activeJobID.String() {
		t.Errorf("JobID = %q, want %q", decoded.JobID, activeJobID.String())
	}
	arg, err := wire.DecodeArgument[map[string]string](decoded)
	if err != nil {
		t.Fatalf("DecodeArgument: %v", err)
	}
	if arg["batch_id"] != batch.ID.String() {
		t.Errorf("batch_id argument = %q, want %q", arg["batch_id"], batch.ID.String())
	}
}

func TestCallbackPayloadAssignsDistinctActiveJobIDs(t *testing.T) {
	batch := &model.Batch{ID: uuid.New(), CallbackQueueName: "callbacks"}
	id1, _ := callbackPayload(batch, "A")
	id2, _ := callbackPayload(batch, "B")
	if id1 == id2 {
		t.Fatalf("expected distinct active_job_ids per callback, got the same uuid twice")
	}
}
