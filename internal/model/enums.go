package model

// Visualisation styles
type Style string

const (
	StyleWave     Style = "wave"
	StyleSpectrum Style = "spectrum"
	StyleRipple   Style = "ripple"
	StyleSiri     Style = "siri"
)

var ValidStyles = []Style{StyleWave, StyleSpectrum, StyleRipple, StyleSiri}

// Waveform draw modes (wave and ripple styles)
type WaveMode string

const (
	WaveModePoint WaveMode = "point"
	WaveModeLine  WaveMode = "line"
	WaveModeP2P   WaveMode = "p2p"
	WaveModeCLine WaveMode = "cline"
)

var ValidWaveModes = []WaveMode{WaveModePoint, WaveModeLine, WaveModeP2P, WaveModeCLine}

// ValidFPS is the set of frame rates a render may request.
var ValidFPS = []int{15, 24, 25, 30, 50, 60}

// SiriColorCount is the exact number of gradient colours the siri style takes.
const SiriColorCount = 4

// Job status
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

func (s Style) Valid() bool {
	for _, v := range ValidStyles {
		if v == s {
			return true
		}
	}
	return false
}

func (m WaveMode) Valid() bool {
	for _, v := range ValidWaveModes {
		if v == m {
			return true
		}
	}
	return false
}

// ValidFrameRate reports whether fps is one of ValidFPS.
func ValidFrameRate(fps int) bool {
	for _, v := range ValidFPS {
		if v == fps {
			return true
		}
	}
	return false
}
