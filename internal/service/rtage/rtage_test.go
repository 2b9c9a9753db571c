package rtage

import (
	"testing"
	"time"

	"github.com/wesleywu/atalk-router/internal/logger"
)

type countingTable struct {
	ageCalls int
}

func (c *countingTable) Age() { c.ageCalls++ }

func TestForceAgeRunsImmediately(t *testing.T) {
	rt := &countingTable{}
	s := New(rt, time.Hour, nil, logger.New("error"))
	s.Start()
	defer func() { _ = s.Stop() }()

	s.ForceAge()

	deadline := time.After(time.Second)
	for rt.ageCalls == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a forced Age() call")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestStopJoinsCleanly(t *testing.T) {
	rt := &countingTable{}
	s := New(rt, time.Hour, nil, logger.New("error"))
	s.Start()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
