// Package reconcile compares local position state against the venue and
// corrects drift. The venue is always authoritative.
package reconcile

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/aadilkhann/QuantX/internal/events"
	"github.com/aadilkhann/QuantX/internal/state"
	"github.com/aadilkhann/QuantX/pkg/broker"
)

// DiscrepancyType classifies a mismatch between local and venue state.
type DiscrepancyType string

const (
	Match            DiscrepancyType = "MATCH"
	QuantityMismatch DiscrepancyType = "QUANTITY_MISMATCH"
	MissingLocal     DiscrepancyType = "MISSING_LOCAL"
	MissingBroker    DiscrepancyType = "MISSING_BROKER"
)

// Discrepancy records one divergence and the correction applied.
type Discrepancy struct {
	Symbol    string          `json:"symbol"`
	Type      DiscrepancyType `json:"type"`
	LocalQty  int64           `json:"local_qty"`
	BrokerQty int64           `json:"broker_qty"`
	Action    string          `json:"action"`
	Time      time.Time       `json:"time"`
}

// Report summarizes one reconciliation pass.
type Report struct {
	RanAt         time.Time     `json:"ran_at"`
	Checked       int           `json:"checked"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	Err           string        `json:"error,omitempty"`
}

// Clean reports whether the pass found no divergence.
func (r Report) Clean() bool { return len(r.Discrepancies) == 0 && r.Err == "" }

// Recorder persists discrepancies for audit. Implemented by the journal.
type Recorder interface {
	RecordDiscrepancy(Discrepancy) error
}

// Reconciler runs position sync passes, on demand and on a timer.
type Reconciler struct {
	venue    broker.Broker
	book     *state.Book
	bus      *events.Bus
	recorder Recorder
	interval time.Duration

	mu     sync.Mutex
	last   Report
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reconciler. recorder may be nil.
func New(venue broker.Broker, book *state.Book, bus *events.Bus, recorder Recorder, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		venue:    venue,
		book:     book,
		bus:      bus,
		recorder: recorder,
		interval: interval,
	}
}

// Run executes one reconciliation pass. Local state is overwritten with
// the venue's wherever they disagree, so a second pass over unchanged
// state reports clean.
func (r *Reconciler) Run(ctx context.Context) Report {
	report := Report{RanAt: time.Now()}

	venuePositions, err := r.venue.GetPositions(ctx)
	if err != nil {
		report.Err = err.Error()
		log.Printf("reconcile: fetch failed: %v", err)
		r.store(report)
		return report
	}

	local := r.book.Snapshot()
	venueBySym := make(map[string]broker.Position, len(venuePositions))
	for _, p := range venuePositions {
		venueBySym[p.Symbol] = p
	}

	symbols := make(map[string]struct{}, len(local)+len(venueBySym))
	for s := range local {
		symbols[s] = struct{}{}
	}
	for s := range venueBySym {
		symbols[s] = struct{}{}
	}
	ordered := make([]string, 0, len(symbols))
	for s := range symbols {
		ordered = append(ordered, s)
	}
	sort.Strings(ordered)

	for _, sym := range ordered {
		report.Checked++
		lp, haveLocal := local[sym]
		vp, haveVenue := venueBySym[sym]

		switch {
		case haveLocal && haveVenue && lp.Quantity == vp.Quantity:
			continue
		case haveLocal && !haveVenue && lp.Quantity == 0:
			// A closed round trip leaves a flat entry in the book while the
			// venue reports nothing. Same truth, just drop the stale entry.
			r.book.Remove(sym)
			continue
		case haveLocal && haveVenue:
			r.correct(&report, Discrepancy{
				Symbol: sym, Type: QuantityMismatch,
				LocalQty: lp.Quantity, BrokerQty: vp.Quantity,
				Action: "overwrote local quantity with venue quantity",
			}, &vp)
		case haveVenue:
			r.correct(&report, Discrepancy{
				Symbol: sym, Type: MissingLocal,
				BrokerQty: vp.Quantity,
				Action:    "adopted venue position",
			}, &vp)
		default:
			r.correct(&report, Discrepancy{
				Symbol: sym, Type: MissingBroker,
				LocalQty: lp.Quantity,
				Action:   "removed local position absent at venue",
			}, nil)
		}
	}

	if !report.Clean() {
		log.Printf("reconcile: %d discrepancies across %d symbols", len(report.Discrepancies), report.Checked)
	}
	r.store(report)
	return report
}

// Start launches the fixed-interval background loop. Stop cancels it.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// LastReport returns the most recent pass result.
func (r *Reconciler) LastReport() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Reconciler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Run(ctx)
		}
	}
}

func (r *Reconciler) correct(report *Report, d Discrepancy, venuePos *broker.Position) {
	d.Time = time.Now()
	if venuePos != nil {
		p := *venuePos
		p.UpdatedAt = d.Time
		r.book.Set(p)
	} else {
		r.book.Remove(d.Symbol)
	}
	report.Discrepancies = append(report.Discrepancies, d)
	log.Printf("reconcile: %s %s local=%d venue=%d, %s", d.Symbol, d.Type, d.LocalQty, d.BrokerQty, d.Action)
	if r.bus != nil {
		r.bus.Publish(events.New(events.PriorityRisk, events.KindReconciliation, "reconcile", d))
	}
	if r.recorder != nil {
		if err := r.recorder.RecordDiscrepancy(d); err != nil {
			log.Printf("reconcile: audit write failed: %v", err)
		}
	}
}

func (r *Reconciler) store(report Report) {
	r.mu.Lock()
	r.last = report
	r.mu.Unlock()
}
