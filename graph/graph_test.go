package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type runState struct {
	steps []string
	count int
}

func step(name string) NodeFunc[runState] {
	return func(_ context.Context, s runState) (runState, error) {
		s.steps = append(s.steps, name)
		s.count++
		return s, nil
	}
}

func linear(t *testing.T, hooks ...TransitionFunc) *Graph[runState] {
	t.Helper()
	b := NewBuilder[runState]().
		AddNode("INIT", NodeTypeStart, step("init")).
		AddNode("RETRIEVED", NodeTypeStage, step("retrieve")).
		AddNode("CITED", NodeTypeStage, step("cite")).
		AddNode("DONE", NodeTypeEnd, nil).
		AddEdge("INIT", "RETRIEVED").
		AddEdge("RETRIEVED", "CITED").
		AddEdge("CITED", "DONE")
	for _, h := range hooks {
		b.OnTransition(h)
	}
	return b.Build()
}

func expectPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic %q", want)
		}
		if r != want {
			t.Fatalf("expected panic %q, got %v", want, r)
		}
	}()
	fn()
}

func TestNewGraph(t *testing.T) {
	g := NewGraph[runState]()
	if g.nodes == nil {
		t.Fatal("nodes map not initialised")
	}
	if g.maxVisits != 1 {
		t.Fatalf("expected default max visits 1, got %d", g.maxVisits)
	}
}

func TestAddNodeEmptyName(t *testing.T) {
	g := NewGraph[runState]()
	expectPanic(t, "node name cannot be empty", func() {
		g.AddNode(&Node[runState]{})
	})
}

func TestAddNodeDuplicate(t *testing.T) {
	g := NewGraph[runState]()
	g.AddNode(&Node[runState]{Name: "a"})
	expectPanic(t, "node a already exists", func() {
		g.AddNode(&Node[runState]{Name: "a"})
	})
}

func TestAutoSetStartAndEnd(t *testing.T) {
	g := NewGraph[runState]()
	g.AddNode(&Node[runState]{Name: "s", Type: NodeTypeStart})
	g.AddNode(&Node[runState]{Name: "e", Type: NodeTypeEnd})
	if g.startNode != "s" || g.endNode != "e" {
		t.Fatalf("start/end not set automatically: %q %q", g.startNode, g.endNode)
	}
	node, err := g.GetNode("s")
	if err != nil || node.Name != "s" {
		t.Fatalf("GetNode: %v", err)
	}
}

func TestSetStartNodeNotFound(t *testing.T) {
	g := NewGraph[runState]()
	expectPanic(t, "node nonexistent not found", func() {
		g.SetStartNode("nonexistent")
	})
}

func TestAddEdgeSecondSuccessorPanics(t *testing.T) {
	b := NewBuilder[runState]().
		AddNode("a", NodeTypeStart, nil).
		AddNode("b", NodeTypeStage, nil).
		AddNode("c", NodeTypeEnd, nil).
		AddEdge("a", "b")
	expectPanic(t, "node a already has successor b", func() {
		b.AddEdge("a", "c")
	})
}

func TestBuildRejectsDanglingEdge(t *testing.T) {
	b := NewBuilder[runState]().
		AddNode("a", NodeTypeStart, nil).
		AddEdge("a", "ghost")
	expectPanic(t, "edge a -> ghost targets unknown node", func() {
		b.Build()
	})
}

func TestExecuteLinear(t *testing.T) {
	var transitions []Transition
	g := linear(t, func(_ context.Context, tr Transition) {
		transitions = append(transitions, tr)
	})

	state, err := g.Execute(context.Background(), runState{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Join(state.steps, ",") != "init,retrieve,cite" {
		t.Fatalf("unexpected steps %v", state.steps)
	}

	var got []string
	for _, tr := range transitions {
		got = append(got, tr.From+">"+tr.To)
	}
	want := ">INIT,INIT>RETRIEVED,RETRIEVED>CITED,CITED>DONE"
	if strings.Join(got, ",") != want {
		t.Fatalf("transitions = %v, want %s", got, want)
	}
}

func TestExecuteNodeErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	var reached []string
	g := NewBuilder[runState]().
		AddNode("INIT", NodeTypeStart, step("init")).
		AddNode("RETRIEVED", NodeTypeStage, func(context.Context, runState) (runState, error) {
			return runState{}, boom
		}).
		AddNode("CITED", NodeTypeStage, step("cite")).
		AddNode("DONE", NodeTypeEnd, nil).
		AddEdge("INIT", "RETRIEVED").
		AddEdge("RETRIEVED", "CITED").
		AddEdge("CITED", "DONE").
		OnTransition(func(_ context.Context, tr Transition) { reached = append(reached, tr.To) }).
		Build()

	state, err := g.Execute(context.Background(), runState{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if err.Error() != "execute node RETRIEVED: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if state.count != 1 {
		t.Fatalf("expected state from last completed node, got %+v", state)
	}
	if len(reached) != 1 || reached[0] != "INIT" {
		t.Fatalf("later nodes must not be reached: %v", reached)
	}
}

func TestExecuteCanceledContext(t *testing.T) {
	g := linear(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Execute(ctx, runState{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExecuteNoStartNode(t *testing.T) {
	g := NewGraph[runState]()
	if _, err := g.Execute(context.Background(), runState{}); err == nil {
		t.Fatal("expected error when start node missing")
	}
}

func TestExecuteMissingSuccessor(t *testing.T) {
	g := NewBuilder[runState]().
		AddNode("a", NodeTypeStart, nil).
		AddNode("z", NodeTypeEnd, nil).
		Build()
	_, err := g.Execute(context.Background(), runState{})
	if err == nil || !strings.Contains(err.Error(), "no next node specified for node a") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestExecuteVisitGuard(t *testing.T) {
	g := NewBuilder[runState]().
		AddNode("a", NodeTypeStart, step("a")).
		AddNode("b", NodeTypeStage, step("b")).
		AddNode("z", NodeTypeEnd, nil).
		AddEdge("a", "b").
		AddEdge("b", "a").
		SetMaxVisits(3).
		Build()

	state, err := g.Execute(context.Background(), runState{})
	if err == nil || !strings.Contains(err.Error(), "visited more than 3 times") {
		t.Fatalf("expected loop guard error, got %v", err)
	}
	if state.count != 6 {
		t.Fatalf("expected 6 completed steps before the guard, got %d", state.count)
	}
}

func TestTransitionClock(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var stamps []time.Time
	g := NewBuilder[runState]().
		AddNode("a", NodeTypeStart, nil).
		AddNode("z", NodeTypeEnd, nil).
		AddEdge("a", "z").
		WithClock(func() time.Time { return fixed }).
		OnTransition(func(_ context.Context, tr Transition) { stamps = append(stamps, tr.At) }).
		Build()

	if _, err := g.Execute(context.Background(), runState{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(stamps) != 2 || !stamps[0].Equal(fixed) || !stamps[1].Equal(fixed) {
		t.Fatalf("unexpected stamps %v", stamps)
	}
	if names := g.Nodes(); len(names) != 2 || names[0] != "a" {
		t.Fatalf("unexpected node order %v", names)
	}
}
