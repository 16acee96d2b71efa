package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestMulti_FansOut(t *testing.T) {
	a, b := &mockEventEmitter{}, &mockEventEmitter{}
	em := Multi(a, nil, b)
	if err := em.Emit(context.Background(), &Event{EventType: "login"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Errorf("events = %d/%d, want 1/1", len(a.getEvents()), len(b.getEvents()))
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	a := &mockEventEmitter{emitErr: errA}
	b := &mockEventEmitter{}
	err := Multi(a, b).Emit(context.Background(), &Event{EventType: "login"})
	if !errors.Is(err, errA) {
		t.Errorf("err = %v, want %v", err, errA)
	}
	if len(b.getEvents()) != 1 {
		t.Error("later emitters still receive the event after an earlier failure")
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := Multi().Emit(context.Background(), &Event{}); err != nil {
		t.Errorf("empty Multi: %v", err)
	}
}
