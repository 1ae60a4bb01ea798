package dispatch

import (
	"fmt"
	"os"
	"time"

	"github.com/anishathalye/porcupine"

	"github.com/divergentdave/alice/internal/log"
)

// Execution is one check as seen by the worker that ran it.
type Execution struct {
	Worker int
	Key    string
	Name   string
	Code   int
	Fault  bool
	Start  time.Time
	End    time.Time
}

// Timeline is the execution history of one phase.
type Timeline struct {
	Phase      string
	Executions []Execution
}

func newTimeline(phase string) *Timeline {
	return &Timeline{Phase: phase}
}

func (tl *Timeline) record(worker int, key, name string, res Result, start, end time.Time) {
	tl.Executions = append(tl.Executions, Execution{
		Worker: worker,
		Key:    key,
		Name:   name,
		Code:   res.Code,
		Fault:  res.Err != nil,
		Start:  start,
		End:    end,
	})
}

func (tl *Timeline) clone() *Timeline {
	return &Timeline{
		Phase:      tl.Phase,
		Executions: append([]Execution(nil), tl.Executions...),
	}
}

// Check verifies that no task key was executed more than once.
func (tl *Timeline) Check() (porcupine.CheckResult, porcupine.LinearizationInfo) {
	history := tl.toPorcupineOperations()
	return porcupine.CheckOperationsVerbose(recordModel(), history, 30*time.Second)
}

// Write audits the timeline and renders it as HTML at path.
func (tl *Timeline) Write(path string) error {
	if len(tl.Executions) == 0 {
		log.Logf(1, "phase %s: no checks, no timeline", tl.Phase)
		return nil
	}
	result, info := tl.Check()
	htmlFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create timeline: %w", err)
	}
	defer htmlFile.Close()
	if err := porcupine.Visualize(recordModel(), info, htmlFile); err != nil {
		return fmt.Errorf("failed to render timeline: %w", err)
	}
	log.Logf(1, "phase %s: %d checks, timeline in %s", tl.Phase, len(tl.Executions), path)
	if result != porcupine.Ok {
		return fmt.Errorf("phase %s: a check was recorded more than once (%v), see %s", tl.Phase, result, path)
	}
	return nil
}

type checkInput struct {
	Key  string
	Name string
}

type checkOutput struct {
	Code  int
	Fault bool
}

// toPorcupineOperations maps workers to clients and check runs to operations.
func (tl *Timeline) toPorcupineOperations() []porcupine.Operation {
	history := make([]porcupine.Operation, 0, len(tl.Executions))
	var origin time.Time
	for _, e := range tl.Executions {
		if origin.IsZero() || e.Start.Before(origin) {
			origin = e.Start
		}
	}
	for _, e := range tl.Executions {
		call := e.Start.Sub(origin).Nanoseconds()
		ret := e.End.Sub(origin).Nanoseconds()
		if ret <= call {
			ret = call + 1
		}
		history = append(history, porcupine.Operation{
			ClientId: e.Worker,
			Input:    checkInput{Key: e.Key, Name: e.Name},
			Call:     call,
			Output:   checkOutput{Code: e.Code, Fault: e.Fault},
			Return:   ret,
		})
	}
	return history
}

// recordModel accepts a history in which every key is recorded at most once.
func recordModel() porcupine.Model {
	return porcupine.Model{
		Partition: partitionByKey,
		Init: func() interface{} {
			return 0
		},
		Step: func(state, input, output interface{}) (bool, interface{}) {
			n := state.(int)
			return n == 0, n + 1
		},
		DescribeOperation: describeCheck,
		DescribeState: func(state interface{}) string {
			return fmt.Sprintf("recorded %d time(s)", state.(int))
		},
	}
}

func describeCheck(input, output interface{}) string {
	in := input.(checkInput)
	out := output.(checkOutput)
	if out.Fault {
		return fmt.Sprintf("%s -> fault", in.Name)
	}
	return fmt.Sprintf("%s -> %d", in.Name, out.Code)
}

func partitionByKey(history []porcupine.Operation) [][]porcupine.Operation {
	partitions := make(map[string][]porcupine.Operation)
	var order []string
	for _, op := range history {
		key := op.Input.(checkInput).Key
		if _, ok := partitions[key]; !ok {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], op)
	}
	result := make([][]porcupine.Operation, 0, len(partitions))
	for _, key := range order {
		result = append(result, partitions[key])
	}
	return result
}
