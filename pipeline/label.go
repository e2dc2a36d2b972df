// Package pipeline - the upload -> preprocess -> inference -> threshold chain.
package pipeline

import (
	"fmt"
)

// DefaultThreshold is the decision boundary the reference model ships with.
const DefaultThreshold = 0.5

// Label is the two-valued outcome of a classification.
type Label int

const (
	// Normal means the score did not exceed the threshold.
	Normal Label = iota
	// PneumoniaDetected means the score exceeded the threshold.
	PneumoniaDetected
)

// LabelFromScore partitions [0, 1] into two half-open intervals: scores
// strictly greater than threshold are PneumoniaDetected, everything else
// (including the threshold itself) is Normal.
func LabelFromScore(score, threshold float64) Label {
	if score > threshold {
		return PneumoniaDetected
	}
	return Normal
}

// String returns the machine name of the label.
func (l Label) String() string {
	switch l {
	case Normal:
		return "normal"
	case PneumoniaDetected:
		return "pneumonia_detected"
	default:
		return fmt.Sprintf("Label(%d)", int(l))
	}
}

// MarshalText encodes the label as its machine name.
func (l Label) MarshalText() ([]byte, error) {
	switch l {
	case Normal, PneumoniaDetected:
		return []byte(l.String()), nil
	default:
		return nil, fmt.Errorf("invalid label %d", int(l))
	}
}

// UnmarshalText decodes a machine name produced by MarshalText.
func (l *Label) UnmarshalText(text []byte) error {
	switch string(text) {
	case "normal":
		*l = Normal
	case "pneumonia_detected":
		*l = PneumoniaDetected
	default:
		return fmt.Errorf("unknown label %q", text)
	}
	return nil
}

// Display is the fixed presentation of a label.
type Display struct {
	Title    string `json:"title"`
	Color    string `json:"color"`
	Advisory string `json:"advisory"`
}

// Display returns the heading, color and advisory sentence shown for the label.
func (l Label) Display() Display {
	if l == PneumoniaDetected {
		return Display{
			Title:    "Pneumonia Detected ❌",
			Color:    "red",
			Advisory: "This X-ray suggests the presence of pneumonia. Please consult a medical professional for further diagnosis.",
		}
	}
	return Display{
		Title:    "Normal ✅",
		Color:    "green",
		Advisory: "No signs of pneumonia detected. Your lungs appear normal!",
	}
}
