package main

import (
	"context"
	"sync"
	"time"

	"github.com/forechoandlook/goflow/flows"
)

const defaultEventCapacity = 1000

// eventView is the JSON shape of a flow event served by /api/events.
type eventView struct {
	Type      flows.FlowEventType `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	RunID     string              `json:"run_id"`
	Flow      string              `json:"flow"`
	Node      string              `json:"node,omitempty"`
	Action    string              `json:"action,omitempty"`
	Error     string              `json:"error,omitempty"`
	Attempt   int                 `json:"attempt,omitempty"`
	Step      int                 `json:"step"`
	Item      *int                `json:"item,omitempty"`
	Iteration *int                `json:"iteration,omitempty"`
}

// WebMonitor keeps the most recent flow events for the HTTP API.
type WebMonitor struct {
	mutex    sync.RWMutex
	events   []eventView
	capacity int
}

func NewWebMonitor(capacity int) *WebMonitor {
	if capacity <= 0 {
		capacity = defaultEventCapacity
	}
	return &WebMonitor{capacity: capacity}
}

func (m *WebMonitor) Notify(_ context.Context, event flows.FlowEvent) {
	view := eventView{
		Type:      event.Type,
		Timestamp: event.Timestamp,
		RunID:     event.RunID,
		Flow:      event.Flow,
		Node:      event.Node,
		Action:    string(event.Action),
		Attempt:   event.Attempt,
		Step:      event.Step,
	}
	if event.Err != nil {
		view.Error = event.Err.Error()
	}
	if event.Item >= 0 {
		item := event.Item
		view.Item = &item
	}
	if event.Iteration >= 0 {
		iteration := event.Iteration
		view.Iteration = &iteration
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.events) == m.capacity {
		copy(m.events, m.events[1:])
		m.events = m.events[:len(m.events)-1]
	}
	m.events = append(m.events, view)
}

// Events returns a copy of the retained events, oldest first. A non-empty
// runID keeps only that run's events.
func (m *WebMonitor) Events(runID string) []eventView {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	events := make([]eventView, 0, len(m.events))
	for _, e := range m.events {
		if runID == "" || e.RunID == runID {
			events = append(events, e)
		}
	}
	return events
}

func (m *WebMonitor) Clear() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.events = nil
}
