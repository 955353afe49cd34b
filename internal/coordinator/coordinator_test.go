package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"matmr/internal/logger"
	"matmr/internal/matrix"
	"matmr/internal/partition"
	"matmr/internal/transport"
	"matmr/internal/types"
	"matmr/internal/worker"
)

func runWithWorkers(t *testing.T, w int, a, b *matrix.Matrix) *matrix.Matrix {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	plan, err := partition.New(w, a.Size)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	net := transport.NewNetwork(w+1, 0)

	errc := make(chan error, w)
	for rank := 1; rank <= w; rank++ {
		wk := worker.New(net.Endpoint(rank), plan, a, b, logger.Discard())
		go func() { errc <- wk.Run(ctx) }()
	}

	c, err := NewMaster(net.Endpoint(0), plan, logger.Discard()).Run(ctx)
	if err != nil {
		t.Fatalf("master: %v", err)
	}
	for i := 0; i < w; i++ {
		if err := <-errc; err != nil {
			t.Fatalf("worker: %v", err)
		}
	}
	return c
}

func TestMasterTwoByTwo(t *testing.T) {
	a := matrix.FromRows([][]int{{1, 2}, {3, 4}})
	b := matrix.FromRows([][]int{{5, 6}, {7, 8}})

	c := runWithWorkers(t, 3, a, b)
	if want := matrix.FromRows([][]int{{19, 22}, {43, 50}}); !c.Equal(want) {
		t.Fatalf("C = %v, want %v", c.Data, want.Data)
	}
}

func TestMasterIdentityTimesB(t *testing.T) {
	b := matrix.FromRows([][]int{
		{3, 1, 4, 1},
		{5, 9, 2, 6},
		{5, 3, 5, 8},
		{9, 7, 9, 3},
	})
	c := runWithWorkers(t, 4, matrix.Identity(4), b)
	if !c.Equal(b) {
		t.Fatalf("I×B = %v, want %v", c.Data, b.Data)
	}
}

func TestMasterRejectsShortMapperBatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	plan, _ := partition.New(2, 2)
	net := transport.NewNetwork(3, 16)

	// A mapper that announces one record fewer than the plan requires.
	go func() {
		ep := net.Endpoint(1)
		transport.Expect(ctx, ep, 0, transport.KindAssign)
		ep.Barrier(ctx)
		transport.Expect(ctx, ep, 0, transport.KindRows)
		transport.SendRecords(ctx, ep, 0, []types.Record{{Row: 0, Col: 0, Value: 1}})
	}()
	go func() {
		ep := net.Endpoint(2)
		transport.Expect(ctx, ep, 0, transport.KindAssign)
		ep.Barrier(ctx)
	}()

	_, err := NewMaster(net.Endpoint(0), plan, logger.Discard()).Run(ctx)
	if !errors.Is(err, transport.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
}

func TestMasterRejectsForeignRows(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	plan, _ := partition.New(3, 2) // two mappers, one row each
	net := transport.NewNetwork(4, 16)

	go func() {
		ep := net.Endpoint(1)
		transport.Expect(ctx, ep, 0, transport.KindAssign)
		ep.Barrier(ctx)
		transport.Expect(ctx, ep, 0, transport.KindRows)
		// Row 1 belongs to mapper 2.
		transport.SendRecords(ctx, ep, 0, []types.Record{{Row: 1, Col: 0}, {Row: 1, Col: 1}})
	}()
	for _, rank := range []int{2, 3} {
		go func(rank int) {
			ep := net.Endpoint(rank)
			transport.Expect(ctx, ep, 0, transport.KindAssign)
			ep.Barrier(ctx)
		}(rank)
	}

	_, err := NewMaster(net.Endpoint(0), plan, logger.Discard()).Run(ctx)
	if !errors.Is(err, transport.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
}
