// Package fake provides an in-memory, scripted BarFetcher for scheduler and migration
// tests; cmd/ingestd also wires it in as its placeholder fetcher. It has no TradeFetcher.
package fake

import (
	"context"
	"sync"

	"github.com/aristath/tickerfeed/internal/fetch"
	"github.com/aristath/tickerfeed/internal/model"
)

// Fetcher is a scripted BarFetcher. Responses is keyed by "symbol/interval" and consumed
// once per call in order; WindowExceeded and error responses can be injected per key.
type Fetcher struct {
	mu        sync.Mutex
	Responses map[string][]Response
	Calls     []Call
}

// Response is one scripted reply.
type Response struct {
	Frame model.BarFrame
	Err   error
}

// Call records one FetchBars invocation for assertions.
type Call struct {
	Symbol, Interval string
	Window           fetch.Window
}

// New creates an empty scripted fetcher.
func New() *Fetcher {
	return &Fetcher{Responses: make(map[string][]Response)}
}

// Script queues a response for symbol+interval.
func (f *Fetcher) Script(symbol, interval string, resp Response) {
	key := symbol + "/" + interval
	f.Responses[key] = append(f.Responses[key], resp)
}

// FetchBars implements fetch.BarFetcher.
func (f *Fetcher) FetchBars(_ context.Context, symbol, interval string, window fetch.Window) (model.BarFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, Call{Symbol: symbol, Interval: interval, Window: window})

	key := symbol + "/" + interval
	queue := f.Responses[key]
	if len(queue) == 0 {
		return model.BarFrame{Symbol: symbol, Interval: interval}, nil
	}
	resp := queue[0]
	f.Responses[key] = queue[1:]
	if resp.Err != nil {
		return model.BarFrame{}, resp.Err
	}
	return resp.Frame, nil
}
