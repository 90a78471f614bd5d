package main

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/charlie0129/feedr/pkg/events"
	"github.com/charlie0129/feedr/pkg/history"
	"github.com/charlie0129/feedr/pkg/loadcell"
)

type fakeCell struct {
	readings []int64
	offset   int64
	tared    bool
}

func (f *fakeCell) next() int64 {
	v := f.readings[0]
	f.readings = f.readings[1:]
	return v
}

func (f *fakeCell) Tare() error {
	f.offset = f.next()
	f.tared = true
	return nil
}

func (f *fakeCell) Offset() int64 { return f.offset }

func (f *fakeCell) ReadRaw() (int64, error) { return f.next(), nil }

func TestCalibrate(t *testing.T) {
	tests := []struct {
		name     string
		readings []int64
		grams    float64
		want     float64
		wantErr  error
	}{
		{"reference unit", []int64{1000, 12000}, 500, 22, nil},
		{"negative wiring", []int64{1000, -10000}, 500, -22, nil},
		{"no change", []int64{1000, 1000}, 500, 0, loadcell.ErrCalibration},
		{"no weight", []int64{1000, 12000}, 0, 0, loadcell.ErrCalibration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			var out bytes.Buffer
			cmd.SetIn(strings.NewReader("\n\n"))
			cmd.SetOut(&out)
			cmd.SetErr(&out)

			cell := &fakeCell{readings: tt.readings}
			got, err := calibrate(cmd, cell, tt.grams)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("scale factor = %v, want %v", got, tt.want)
			}
			if !cell.tared {
				t.Fatal("scale was not tared")
			}
			if !strings.Contains(out.String(), "Place 500 g") {
				t.Fatalf("output = %q", out.String())
			}
		})
	}
}

func TestLastFeeding(t *testing.T) {
	records := []history.Record{
		{Dog: "kong", Status: history.StatusScheduled},
		{Dog: "bori", Status: history.StatusFailed},
		{Dog: "bori", Status: history.StatusCompleted},
	}
	got := lastFeeding(records)
	if got == nil || got.Dog != "bori" || got.Status != history.StatusFailed {
		t.Fatalf("lastFeeding = %+v", got)
	}
	if got := lastFeeding(records[:1]); got != nil {
		t.Fatalf("lastFeeding of scheduled only = %+v", got)
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   events.Event
		want []string
	}{
		{
			"result",
			events.Event{Name: events.FeedingResult, Data: []byte(`{"dog":"bori","amount":30,"status":"failed","error":"exit status 1"}`)},
			[]string{"bori", "30 g", "failed", "exit status 1"},
		},
		{
			"upcoming",
			events.Event{Name: events.FeedingUpcoming, Data: []byte(`{"dog":"kong","time":"18:00","amount":45}`)},
			[]string{"upcoming", "kong", "45 g", "18:00"},
		},
		{
			"schedule",
			events.Event{Name: events.ScheduleChanged, Data: []byte(`{"action":"delete","dog":"bori","time":"07:30"}`)},
			[]string{"schedule delete", "bori", "07:30"},
		},
		{
			"unknown",
			events.Event{Name: "something.else", Data: []byte(`{}`)},
			[]string{"something.else", "{}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatEvent(tt.ev)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("formatEvent() = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestCommandTree(t *testing.T) {
	root := NewCommand()
	for _, path := range [][]string{
		{"run"},
		{"daemon"},
		{"schedule", "add"},
		{"schedule", "postpone"},
		{"history"},
		{"feed"},
		{"voice", "upload"},
		{"tare"},
		{"calibrate"},
		{"status"},
		{"install"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}

	run, _, _ := root.Find([]string{"run"})
	for _, f := range []string{"dog", "voice", "amount", "once"} {
		if run.Flags().Lookup(f) == nil {
			t.Errorf("run has no --%s flag", f)
		}
	}
}
