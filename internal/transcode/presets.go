package transcode

import (
	"strconv"
	"strings"

	"conduit/internal/services/ffmpeg"
)

// Preset describes one quality rendition.
type Preset struct {
	Name         string
	Width        int
	Height       int
	VideoBitrate string
	AudioBitrate string
	FrameRate    int
	VideoCodec   string
	AudioCodec   string
}

// Bandwidth returns the peak bandwidth in bits per second advertised for this
// rendition in the adaptive manifest.
func (p Preset) Bandwidth() int {
	value := strings.TrimSuffix(p.VideoBitrate, "k")
	kbps, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	audio := strings.TrimSuffix(p.AudioBitrate, "k")
	if akbps, err := strconv.Atoi(audio); err == nil {
		kbps += akbps
	}
	return kbps * 1000
}

// EncodeOptions translates the preset into encoder parameters.
func (p Preset) EncodeOptions() ffmpeg.EncodeOptions {
	return ffmpeg.EncodeOptions{
		Width:        p.Width,
		Height:       p.Height,
		VideoBitrate: p.VideoBitrate,
		AudioBitrate: p.AudioBitrate,
		FrameRate:    p.FrameRate,
		VideoCodec:   p.VideoCodec,
		AudioCodec:   p.AudioCodec,
	}
}

var presetCatalog = map[string]Preset{
	"1080p": {Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: "5000k", AudioBitrate: "192k", FrameRate: 30, VideoCodec: "libx264", AudioCodec: "aac"},
	"720p":  {Name: "720p", Width: 1280, Height: 720, VideoBitrate: "2800k", AudioBitrate: "128k", FrameRate: 30, VideoCodec: "libx264", AudioCodec: "aac"},
	"480p":  {Name: "480p", Width: 854, Height: 480, VideoBitrate: "1400k", AudioBitrate: "128k", FrameRate: 30, VideoCodec: "libx264", AudioCodec: "aac"},
	"360p":  {Name: "360p", Width: 640, Height: 360, VideoBitrate: "800k", AudioBitrate: "96k", FrameRate: 30, VideoCodec: "libx264", AudioCodec: "aac"},
}

// LookupPreset resolves a preset by name.
func LookupPreset(name string) (Preset, bool) {
	preset, ok := presetCatalog[strings.ToLower(strings.TrimSpace(name))]
	return preset, ok
}

// KnownPresets returns the catalog names in descending quality order.
func KnownPresets() []string {
	return []string{"1080p", "720p", "480p", "360p"}
}
