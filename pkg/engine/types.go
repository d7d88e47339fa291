package engine

import (
	"encoding/json"
	"sort"
)

// HistoryEntry is one prompt's history record.
//
// The engine keys its history response by prompt id; the client unwraps the
// map and returns the entry for the requested prompt, or nil while the
// prompt is still queued or running.
type HistoryEntry struct {
	Status  HistoryStatus         `json:"status"`
	Outputs map[string]NodeOutput `json:"outputs"`
}

// HistoryStatus describes the execution state of a prompt.
type HistoryStatus struct {
	// StatusStr is the engine's coarse state ("success", "error", ...).
	StatusStr string `json:"status_str"`

	// Completed reports whether the engine considers execution finished.
	Completed bool `json:"completed"`

	// Error carries the engine's error text when present.
	Error string `json:"error,omitempty"`

	// Messages is the raw execution message log. Entries are
	// ["name", {...}] pairs; execution errors carry an exception message.
	Messages []json.RawMessage `json:"messages,omitempty"`
}

// NodeOutput holds the media produced by one graph node.
type NodeOutput struct {
	Images []OutputRef `json:"images"`
}

// OutputRef identifies one generated media resource on the engine.
type OutputRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type,omitempty"`
}

// Err returns the entry's error text, or "" when the entry does not report
// a failure. StatusStr "error" with no detail still yields a non-empty
// message so callers can rely on Err() != "" as the failure signal.
func (h *HistoryEntry) Err() string {
	if h == nil {
		return ""
	}
	if h.Status.Error != "" {
		return h.Status.Error
	}
	if h.Status.StatusStr != "error" {
		return ""
	}
	if msg := h.executionErrorMessage(); msg != "" {
		return msg
	}
	return "execution error"
}

// executionErrorMessage scans the message log for an execution_error entry.
func (h *HistoryEntry) executionErrorMessage() string {
	for _, raw := range h.Status.Messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) < 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(pair[0], &name); err != nil || name != "execution_error" {
			continue
		}
		var detail struct {
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(pair[1], &detail); err == nil && detail.ExceptionMessage != "" {
			return detail.ExceptionMessage
		}
	}
	return ""
}

// OutputRefs flattens all node outputs into one ordered list. Node ids are
// visited in sorted order so the "first output" is stable across polls.
func (h *HistoryEntry) OutputRefs() []OutputRef {
	if h == nil || len(h.Outputs) == 0 {
		return nil
	}
	var refs []OutputRef
	for _, id := range sortedKeys(h.Outputs) {
		refs = append(refs, h.Outputs[id].Images...)
	}
	return refs
}

// QueueState summarizes the engine's execution queue.
type QueueState struct {
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// SystemStats reports engine host details.
type SystemStats struct {
	System  *SystemInfo  `json:"system,omitempty"`
	Devices []DeviceInfo `json:"devices,omitempty"`
}

// SystemInfo describes the engine's runtime.
type SystemInfo struct {
	PythonVersion string `json:"python_version,omitempty"`
	TorchVersion  string `json:"torch_version,omitempty"`
}

// DeviceInfo describes one compute device.
type DeviceInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	VRAMTotal int64  `json:"vram_total"`
	VRAMFree  int64  `json:"vram_free"`
}

func sortedKeys(m map[string]NodeOutput) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
