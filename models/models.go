package models

import (
	"audio-forensics/sonar"
)

// AnalysisRequest is the payload accepted by every transport. Exactly one audio
// source is used, checked in the order AudioData, PCM, Samples.
type AnalysisRequest struct {
	AudioData  string           `json:"audioData,omitempty"` // base64 RIFF/WAV file
	PCM        string           `json:"pcm,omitempty"`       // base64 raw s16le, needs SampleRate
	Samples    []float64        `json:"samples,omitempty"`   // inline normalized samples, needs SampleRate
	SampleRate int              `json:"sampleRate,omitempty"`
	Channels   int              `json:"channels,omitempty"`
	Filename   string           `json:"filename,omitempty"`
	Config     *sonar.Overrides `json:"config,omitempty"`
}

// HasAudio reports whether any audio source is set.
func (r *AnalysisRequest) HasAudio() bool {
	return r.AudioData != "" || r.PCM != "" || len(r.Samples) > 0
}

// AnalysisResponse wraps the analysis result with request metadata.
type AnalysisResponse struct {
	*sonar.AnalysisResult
	Filename         string `json:"filename,omitempty"`
	Timestamp        string `json:"timestamp"`
	AnalysisComplete bool   `json:"analysisComplete"`
	AnalysisType     string `json:"analysisType"`
	RequestID        string `json:"requestId"`
	Cached           bool   `json:"cached,omitempty"`
}

// ErrorResponse is written instead of an AnalysisResponse when analysis fails.
type ErrorResponse struct {
	Error            string `json:"error"`
	Code             string `json:"code"`
	Message          string `json:"message,omitempty"`
	AnalysisComplete bool   `json:"analysisComplete"`
	RequestID        string `json:"requestId,omitempty"`
}

// PipelineInfo describes the active analysis setup to connected clients.
type PipelineInfo struct {
	Config          sonar.Config  `json:"config"`
	Classifier      string        `json:"classifier"`
	Labels          []sonar.Label `json:"labels"`
	ModelServiceURL string        `json:"modelServiceUrl,omitempty"`
	CacheEnabled    bool          `json:"cacheEnabled"`
	Prototypes      int           `json:"prototypes,omitempty"`
}
