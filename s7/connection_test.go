package s7

import (
	"context"
	"sync"
	"testing"
	"time"

	"s7link/internal/faketransport"
)

func dialFakeConnection(t *testing.T, opts ...ConnectionOption) (*Connection, *faketransport.Server) {
	t.Helper()
	srv, err := faketransport.NewServer()
	if err != nil {
		t.Fatalf("faketransport.NewServer: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	allOpts := append([]ConnectionOption{WithConnTimeout(2 * time.Second)}, opts...)
	conn := NewConnection(srv.Addr(), allOpts...)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, srv
}

func TestConnectionConnectNegotiatesPDUSize(t *testing.T) {
	conn, _ := dialFakeConnection(t)
	if conn.State() != StateConnected {
		t.Fatalf("State() = %v, want Connected", conn.State())
	}
	if conn.PDUSize() != 480 {
		t.Errorf("PDUSize() = %d, want 480", conn.PDUSize())
	}
}

func TestConnectionReadItemsRoundTrip(t *testing.T) {
	conn, srv := dialFakeConnection(t)
	srv.SetMemory(byte(AreaDB), 1, 0, []byte{0x12, 0x34, 0x56, 0x78})

	part := &readPart{Area: AreaDB, DBNumber: 1, Transport: TransportByte, Address: 0, Count: 4}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	results, err := conn.ReadItems(ctx, []*readPart{part})
	if err != nil {
		t.Fatalf("ReadItems: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Err() != nil {
		t.Fatalf("item error: %v", results[0].Err())
	}
	want := []byte{0x12, 0x34, 0x56, 0x78}
	if len(results[0].Data) != len(want) {
		t.Fatalf("Data = %v, want %v", results[0].Data, want)
	}
}

func TestConnectionWriteItemsRoundTrip(t *testing.T) {
	conn, srv := dialFakeConnection(t)

	part := &readPart{Area: AreaM, Transport: TransportByte, Address: 0, Count: 1}
	item := &writeItem{Part: part, Data: []byte{0x2A}}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	codes, err := conn.WriteItems(ctx, []*writeItem{item})
	if err != nil {
		t.Fatalf("WriteItems: %v", err)
	}
	if len(codes) != 1 || codes[0] != ReturnOK {
		t.Fatalf("codes = %v, want [ReturnOK]", codes)
	}

	srv.SetMemory(byte(AreaM), 0, 1, []byte{0x99}) // unrelated write shouldn't disturb addr 0
	readResults, err := conn.ReadItems(context.Background(), []*readPart{{Area: AreaM, Transport: TransportByte, Address: 0, Count: 1}})
	if err != nil {
		t.Fatalf("ReadItems: %v", err)
	}
	if readResults[0].Data[0] != 0x2A {
		t.Errorf("Data[0] = 0x%02X, want 0x2A", readResults[0].Data[0])
	}
}

func TestConnectionReadAfterCloseFails(t *testing.T) {
	conn, _ := dialFakeConnection(t)
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("State() = %v, want Disconnected", conn.State())
	}

	_, err := conn.ReadItems(context.Background(), []*readPart{{Area: AreaM, Transport: TransportByte, Address: 0, Count: 1}})
	if err == nil {
		t.Fatal("expected error reading after Close, got nil")
	}
}

// recordingObserver captures the events delivered to it for assertions.
// Events may arrive from reconnect goroutines, so access is locked.
type recordingObserver struct {
	mu          sync.Mutex
	connects    int
	pduSizes    []int
	disconnects int
}

func (r *recordingObserver) OnConnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
}

func (r *recordingObserver) OnDisconnect(error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
}

func (r *recordingObserver) OnPDUSize(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pduSizes = append(r.pduSizes, size)
}

func (r *recordingObserver) OnError(error) {}

func (r *recordingObserver) snapshot() (connects int, pduSizes []int, disconnects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects, append([]int(nil), r.pduSizes...), r.disconnects
}

func TestConnectionObserverNotifications(t *testing.T) {
	obs := &recordingObserver{}
	conn, _ := dialFakeConnection(t, WithObserver(obs))
	connects, pduSizes, _ := obs.snapshot()
	if connects != 1 {
		t.Errorf("connects = %d, want 1", connects)
	}
	if len(pduSizes) != 1 || pduSizes[0] != 480 {
		t.Errorf("pduSizes = %v, want [480]", pduSizes)
	}
	conn.Close()
	if _, _, disconnects := obs.snapshot(); disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", disconnects)
	}
}

// TestConnectionWindowSaturation is boundary scenario 4: 20 concurrent reads
// on a maxJobs=8 connection never hold more than 8 outstanding references,
// and all 20 complete.
func TestConnectionWindowSaturation(t *testing.T) {
	conn, srv := dialFakeConnection(t, WithConnMaxJobs(8))
	srv.SetMemory(byte(AreaM), 0, 0, []byte{0x01})

	quit := make(chan struct{})
	done := make(chan struct{})
	var maxSeen int
	go func() {
		defer close(done)
		for {
			select {
			case <-quit:
				return
			default:
			}
			conn.mu.Lock()
			n := len(conn.jobs)
			conn.mu.Unlock()
			if n > maxSeen {
				maxSeen = n
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := conn.ReadItems(ctx, []*readPart{{Area: AreaM, Transport: TransportByte, Address: 0, Count: 1}})
			errs <- err
		}()
	}
	wg.Wait()
	close(quit)
	<-done
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ReadItems: %v", err)
		}
	}
	if maxSeen > 8 {
		t.Errorf("outstanding jobs peaked at %d, want <= 8", maxSeen)
	}
}

// TestPDURefAllocatorSkipsZeroAndBusy covers property P6.
func TestPDURefAllocatorSkipsZeroAndBusy(t *testing.T) {
	a := newPDURefAllocator()
	outstanding := make(map[uint16]*job)

	first := a.allocate(outstanding)
	if first != 1 {
		t.Errorf("first reference = %d, want 1", first)
	}

	a.next = 0xFFFF
	outstanding[0xFFFF] = &job{}
	outstanding[1] = &job{}
	ref := a.allocate(outstanding)
	if ref == 0 {
		t.Error("allocator handed out reference 0")
	}
	if _, busy := outstanding[ref]; busy {
		t.Errorf("allocator handed out busy reference %d", ref)
	}
}
