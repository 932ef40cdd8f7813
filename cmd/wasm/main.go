//go:build js && wasm

package main

import (
	"context"
	"fmt"
	"syscall/js"

	"github.com/himanishpuri/acousticid/pkg/acousticid/fingerprint"
	"github.com/himanishpuri/acousticid/pkg/models"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorProcessing
	ErrorNoFingerprints
)

var generator *fingerprint.Generator

// generateFingerprint processes audio samples and returns fingerprints in the
// shape POST /api/match/fingerprints accepts.
// Returns: {error: number, data: {scheme, fingerprints: [{hash, anchor_time_ms}]} | string}
func generateFingerprint(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 3 arguments: audioArray, sampleRate, channels")
	}

	audioDataJS := args[0]
	sampleRateJS := args[1]
	channelsJS := args[2]

	if audioDataJS.Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray must be an Array or Float64Array")
	}
	if sampleRateJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "sampleRate must be a number")
	}
	if channelsJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "channels must be a number")
	}

	sampleRate := sampleRateJS.Float()
	channels := channelsJS.Int()

	if sampleRate <= 0 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid sample rate: %v", sampleRate))
	}
	if channels < 1 || channels > 2 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Channels must be 1 (mono) or 2 (stereo), got: %d", channels))
	}

	length := audioDataJS.Length()
	if length == 0 {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray is empty")
	}

	samples := make([]float64, length)
	for i := 0; i < length; i++ {
		val := audioDataJS.Index(i)
		if val.Type() != js.TypeNumber {
			return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("audioArray element %d is not a number", i))
		}
		samples[i] = val.Float()
	}

	if channels == 2 {
		samples = stereoToMono(samples)
	}

	fps, err := generator.Generate(context.Background(), models.SampleBuffer{Samples: samples, SampleRate: sampleRate})
	if err != nil {
		return makeErrorResponse(ErrorProcessing, fmt.Sprintf("Failed to generate fingerprints: %v", err))
	}
	if len(fps) == 0 {
		return makeErrorResponse(ErrorNoFingerprints, "No fingerprints generated (audio may be silent or too short)")
	}

	fpArray := js.Global().Get("Array").New(len(fps))
	for i, fp := range fps {
		obj := js.Global().Get("Object").New()
		obj.Set("hash", fp.Hash)
		obj.Set("anchor_time_ms", fp.AnchorTimeMs)
		fpArray.SetIndex(i, obj)
	}

	data := js.Global().Get("Object").New()
	data.Set("scheme", generator.Config().Scheme.String())
	data.Set("fingerprints", fpArray)

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", data)
	return result
}

func stereoToMono(stereo []float64) []float64 {
	if len(stereo)%2 != 0 {
		stereo = stereo[:len(stereo)-1]
	}

	mono := make([]float64, len(stereo)/2)
	for i := range mono {
		mono[i] = (stereo[i*2] + stereo[i*2+1]) / 2.0
	}
	return mono
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")

	cfg := fingerprint.DefaultConfig()
	// no threads in the browser
	cfg.Workers = 1
	var err error
	generator, err = fingerprint.NewGenerator(cfg)
	if err != nil {
		if !console.IsUndefined() {
			console.Call("error", "acousticid: "+err.Error())
		}
		return
	}

	done := make(chan struct{})
	js.Global().Set("generateFingerprint", js.FuncOf(generateFingerprint))

	window := js.Global().Get("window")
	if !window.IsUndefined() {
		eventInit := js.Global().Get("Object").New()
		event := js.Global().Get("CustomEvent").New("wasmReady", eventInit)
		window.Call("dispatchEvent", event)
	}

	if !console.IsUndefined() {
		console.Call("log", "✅ acousticid WASM module loaded and ready")
	}

	<-done
}
