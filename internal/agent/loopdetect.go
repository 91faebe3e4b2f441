package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/drover-ai/drover/pkg/models"
)

// LoopDetectionConfig configures repeated-call detection.
type LoopDetectionConfig struct {
	// Disabled turns loop detection off entirely.
	Disabled bool

	// WindowSize bounds how many recent calls are remembered.
	WindowSize int

	// WarnThreshold is the repetition count that triggers a warning.
	WarnThreshold int

	// StopThreshold is the repetition count that aborts the run.
	StopThreshold int
}

// DefaultLoopDetectionConfig returns the baseline detection thresholds.
func DefaultLoopDetectionConfig() LoopDetectionConfig {
	return LoopDetectionConfig{
		WindowSize:    20,
		WarnThreshold: 3,
		StopThreshold: 5,
	}
}

// LoopCheck is the outcome of checking one tool call against recent history.
type LoopCheck struct {
	ShouldWarn bool
	ShouldStop bool

	// Fingerprint identifies the repeated (tool, arguments) pattern.
	Fingerprint string

	// Count is how many times the pattern occurred within the window,
	// including the call just checked.
	Count int

	// Suggestion is a hint for the model on breaking the loop.
	Suggestion string
}

// LoopDetector tracks recent (tool name, argument fingerprint) pairs within
// a sliding window and flags exact repetition. It is owned by a single
// Runtime and is not safe for concurrent use.
type LoopDetector struct {
	config  LoopDetectionConfig
	history []string
	counts  map[string]int
}

// NewLoopDetector creates a detector with the given config. Zero thresholds
// and window fall back to defaults.
func NewLoopDetector(config LoopDetectionConfig) *LoopDetector {
	defaults := DefaultLoopDetectionConfig()
	if config.WindowSize <= 0 {
		config.WindowSize = defaults.WindowSize
	}
	if config.WarnThreshold <= 0 {
		config.WarnThreshold = defaults.WarnThreshold
	}
	if config.StopThreshold <= 0 {
		config.StopThreshold = defaults.StopThreshold
	}
	return &LoopDetector{
		config: config,
		counts: make(map[string]int),
	}
}

// Check records the call and reports whether it repeats recent history
// beyond the warn or stop threshold.
func (d *LoopDetector) Check(call models.ToolCall, turn int) LoopCheck {
	if d.config.Disabled {
		return LoopCheck{}
	}

	fp := Fingerprint(call)

	d.history = append(d.history, fp)
	d.counts[fp]++
	if len(d.history) > d.config.WindowSize {
		evicted := d.history[0]
		d.history = d.history[1:]
		d.counts[evicted]--
		if d.counts[evicted] <= 0 {
			delete(d.counts, evicted)
		}
	}

	count := d.counts[fp]
	check := LoopCheck{
		Fingerprint: fp,
		Count:       count,
	}
	if count >= d.config.StopThreshold {
		check.ShouldStop = true
		check.Suggestion = fmt.Sprintf("tool %q was called %d times with identical arguments; stopping", call.Name, count)
	} else if count >= d.config.WarnThreshold {
		check.ShouldWarn = true
		check.Suggestion = fmt.Sprintf("tool %q has been called %d times with identical arguments; consider a different approach", call.Name, count)
	}
	return check
}

// Reset clears the detection window.
func (d *LoopDetector) Reset() {
	d.history = nil
	d.counts = make(map[string]int)
}

// Fingerprint derives a stable identity for a tool call from its name and
// normalized arguments. Key order and insignificant whitespace in the raw
// JSON do not affect the result.
func Fingerprint(call models.ToolCall) string {
	normalized := normalizeArgs(call.Input)
	sum := sha256.Sum256([]byte(call.Name + "\x00" + normalized))
	return call.Name + ":" + hex.EncodeToString(sum[:8])
}

func normalizeArgs(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	// json.Marshal sorts map keys, giving a canonical form.
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return string(raw)
	}
	return string(canonical)
}
